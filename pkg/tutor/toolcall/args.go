package toolcall

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultColor        = "white"
	DefaultCircleColor  = "red"
	DefaultSize         = "m"
	DefaultShapeType    = "rectangle"
	DefaultShapeWidth   = 120.0
	DefaultShapeHeight  = 80.0
	DefaultIntensity    = "medium"
	DefaultCircleWidth  = 120.0
	DefaultCircleHeight = 60.0
)

// Colors accepted by the canvas.
var validColors = map[string]struct{}{
	"black": {}, "grey": {}, "light-violet": {}, "violet": {}, "blue": {}, "light-blue": {},
	"yellow": {}, "orange": {}, "green": {}, "light-green": {}, "light-red": {}, "red": {}, "white": {},
}

var validSizes = map[string]struct{}{"s": {}, "m": {}, "l": {}, "xl": {}}

var validIntensities = map[string]struct{}{"small": {}, "medium": {}, "big": {}}

// Shape types draw_shape knows how to render. Anything else becomes a rectangle.
var validShapeTypes = map[string]struct{}{
	"rectangle": {}, "ellipse": {}, "triangle": {}, "diamond": {}, "star": {},
	"arrow": {}, "line": {}, "hexagon": {}, "cloud": {},
}

// ParseArguments decodes the JSON argument string delivered with a function call.
// Malformed or non-object input yields an empty map so handlers fall back to defaults.
func ParseArguments(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return out, nil
	}
	// Some upstreams send the arguments object encoded as a JSON string.
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return out, err
		}
		trimmed = inner
		if strings.TrimSpace(trimmed) == "" {
			return out, nil
		}
	}
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil || out == nil {
		return map[string]any{}, err
	}
	return out, nil
}

type TextItem struct {
	Text  string
	X, Y  *float64
	Color string
	Size  string
}

type DrawTextArgs struct {
	Items []TextItem
}

type DrawShapeArgs struct {
	ShapeType     string
	X, Y          *float64
	Width, Height float64
	Color         string
}

type PointToArgs struct {
	X, Y  float64
	Label string
}

type CelebrateArgs struct {
	Intensity string
}

type CircleRegionArgs struct {
	X, Y, Width, Height float64
	Color               string
}

// DrawText reads draw_text arguments. A bare top-level text field is accepted as a
// single item; items without text are dropped.
func DrawText(args map[string]any) DrawTextArgs {
	var raw []any
	switch v := args["items"].(type) {
	case []any:
		raw = v
	case map[string]any:
		raw = []any{v}
	}
	if len(raw) == 0 {
		if _, ok := args["text"]; ok {
			raw = []any{args}
		}
	}

	out := DrawTextArgs{}
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		text := stringArg(m, "text", "")
		if strings.TrimSpace(text) == "" {
			continue
		}
		out.Items = append(out.Items, TextItem{
			Text:  text,
			X:     optFloat(m, "x"),
			Y:     optFloat(m, "y"),
			Color: colorArg(m, DefaultColor),
			Size:  enumArg(m, "size", validSizes, DefaultSize),
		})
	}
	return out
}

func DrawShape(args map[string]any) DrawShapeArgs {
	return DrawShapeArgs{
		ShapeType: enumArg(args, "shape_type", validShapeTypes, DefaultShapeType),
		X:         optFloat(args, "x"),
		Y:         optFloat(args, "y"),
		Width:     positiveFloat(args, "width", DefaultShapeWidth),
		Height:    positiveFloat(args, "height", DefaultShapeHeight),
		Color:     colorArg(args, DefaultColor),
	}
}

func PointTo(args map[string]any) PointToArgs {
	return PointToArgs{
		X:     floatArg(args, "x", 0),
		Y:     floatArg(args, "y", 0),
		Label: stringArg(args, "label", ""),
	}
}

func Celebrate(args map[string]any) CelebrateArgs {
	return CelebrateArgs{Intensity: enumArg(args, "intensity", validIntensities, DefaultIntensity)}
}

func CircleRegion(args map[string]any) CircleRegionArgs {
	return CircleRegionArgs{
		X:      floatArg(args, "x", 0),
		Y:      floatArg(args, "y", 0),
		Width:  positiveFloat(args, "width", DefaultCircleWidth),
		Height: positiveFloat(args, "height", DefaultCircleHeight),
		Color:  colorArg(args, DefaultCircleColor),
	}
}

// ValidColor reports whether c is a canvas color name.
func ValidColor(c string) bool {
	_, ok := validColors[c]
	return ok
}

func stringArg(m map[string]any, key, def string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return def
}

func colorArg(m map[string]any, def string) string {
	c := strings.ToLower(strings.TrimSpace(stringArg(m, "color", "")))
	if ValidColor(c) {
		return c
	}
	return def
}

func enumArg(m map[string]any, key string, allowed map[string]struct{}, def string) string {
	v := strings.ToLower(strings.TrimSpace(stringArg(m, key, "")))
	if _, ok := allowed[v]; ok {
		return v
	}
	return def
}

func optFloat(m map[string]any, key string) *float64 {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return nil
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func floatArg(m map[string]any, key string, def float64) float64 {
	if f := optFloat(m, key); f != nil {
		return *f
	}
	return def
}

func positiveFloat(m map[string]any, key string, def float64) float64 {
	if f := optFloat(m, key); f != nil && *f > 0 {
		return *f
	}
	return def
}
