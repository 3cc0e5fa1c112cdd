package toolcall

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Declaration is a function tool as registered with the realtime session.
type Declaration struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

var colorEnum = []string{
	"white", "yellow", "light-blue", "blue", "violet", "light-violet", "light-green",
	"green", "orange", "light-red", "red", "grey", "black",
}

func tools() map[Kind]mcp.Tool {
	return map[Kind]mcp.Tool{
		KindDrawText: mcp.NewTool(KindDrawText.String(),
			mcp.WithDescription("Write text or equations on the shared chalkboard. Use it for problems, worked steps and short labels. Omit x and y to continue below the existing content."),
			mcp.WithArray("items",
				mcp.Description("Lines of text to write, top to bottom"),
				mcp.Required(),
				mcp.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text":  map[string]any{"type": "string", "description": "Text or equation. Use ^ for exponents (x^2)."},
						"x":     map[string]any{"type": "number", "description": "Canvas x position. Start at 100."},
						"y":     map[string]any{"type": "number", "description": "Canvas y position. Use the next usable vertical offset from the previous result."},
						"color": map[string]any{"type": "string", "enum": colorEnum, "description": "white for main content, yellow for emphasis, grey for labels"},
						"size":  map[string]any{"type": "string", "enum": []string{"s", "m", "l", "xl"}, "description": "s=labels, m=normal, l=titles"},
					},
					"required": []string{"text"},
				}),
			),
		),
		KindDrawShape: mcp.NewTool(KindDrawShape.String(),
			mcp.WithDescription("Draw a simple shape such as a rectangle, ellipse, triangle, arrow or line."),
			mcp.WithString("shape_type",
				mcp.Description("Shape to draw"),
				mcp.Required(),
				mcp.Enum("rectangle", "ellipse", "triangle", "diamond", "star", "hexagon", "cloud", "arrow", "line"),
			),
			mcp.WithNumber("x", mcp.Description("Canvas x position")),
			mcp.WithNumber("y", mcp.Description("Canvas y position")),
			mcp.WithNumber("width", mcp.Description("Width in canvas units (default 120)")),
			mcp.WithNumber("height", mcp.Description("Height in canvas units (default 80)")),
			mcp.WithString("color", mcp.Description("Stroke color"), mcp.Enum(colorEnum...)),
		),
		KindPointTo: mcp.NewTool(KindPointTo.String(),
			mcp.WithDescription("Place an attention marker on the canvas to direct the student's eyes. Replaces any previous marker."),
			mcp.WithNumber("x", mcp.Description("Canvas x position"), mcp.Required()),
			mcp.WithNumber("y", mcp.Description("Canvas y position"), mcp.Required()),
			mcp.WithString("label", mcp.Description("Short label shown next to the marker")),
		),
		KindClearCanvas: mcp.NewTool(KindClearCanvas.String(),
			mcp.WithDescription("Erase everything on the canvas before starting a new problem."),
		),
		KindCelebrate: mcp.NewTool(KindCelebrate.String(),
			mcp.WithDescription("Show a celebration animation when the student gets something right."),
			mcp.WithString("intensity", mcp.Description("How big the celebration is"), mcp.Enum("small", "medium", "big")),
		),
		KindCheckWork: mcp.NewTool(KindCheckWork.String(),
			mcp.WithDescription("Look at the student's current canvas and get a description of their work. Call this before commenting on whether an answer is correct."),
		),
		KindCircleRegion: mcp.NewTool(KindCircleRegion.String(),
			mcp.WithDescription("Circle a region of the student's work. Coordinates come from the ANSWER_BOX reported by check_work."),
			mcp.WithNumber("x", mcp.Description("Left edge in check_work image coordinates"), mcp.Required()),
			mcp.WithNumber("y", mcp.Description("Top edge in check_work image coordinates"), mcp.Required()),
			mcp.WithNumber("width", mcp.Description("Region width"), mcp.Required()),
			mcp.WithNumber("height", mcp.Description("Region height"), mcp.Required()),
			mcp.WithString("color", mcp.Description("Circle color (default red)"), mcp.Enum(colorEnum...)),
		),
	}
}

// Declarations returns the function declarations for every known tool in Kind order.
func Declarations() ([]Declaration, error) {
	defs := tools()
	out := make([]Declaration, 0, len(defs))
	for _, k := range Kinds() {
		tool, ok := defs[k]
		if !ok {
			return nil, fmt.Errorf("toolcall: no declaration for %s", k)
		}
		params, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", k, err)
		}
		out = append(out, Declaration{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return out, nil
}
