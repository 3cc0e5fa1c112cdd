package protocol

import "github.com/vango-go/vai-tutor/pkg/tutor/canvas"

// Canvas command actions.
const (
	ActionAddShape        = "ADD_SHAPE"
	ActionAddAnimatedText = "ADD_ANIMATED_TEXT"
	ActionClearCanvas     = "CLEAR_CANVAS"
	ActionAttentionMarker = "ATTENTION_MARKER"
	ActionClearAttention  = "CLEAR_ATTENTION"
	ActionCelebrate       = "CELEBRATE"
)

// Command is a display instruction for the frontend canvas. Only the fields relevant
// to Action are set.
type Command struct {
	Action    string        `json:"action"`
	Shape     *canvas.Shape `json:"shape,omitempty"`
	X         *float64      `json:"x,omitempty"`
	Y         *float64      `json:"y,omitempty"`
	Label     string        `json:"label,omitempty"`
	Intensity string        `json:"intensity,omitempty"`
}

func AddShape(s canvas.Shape) Command {
	return Command{Action: ActionAddShape, Shape: &s}
}

// AddAnimatedText asks the frontend to write s stroke by stroke.
func AddAnimatedText(s canvas.Shape) Command {
	return Command{Action: ActionAddAnimatedText, Shape: &s}
}

func ClearCanvas() Command {
	return Command{Action: ActionClearCanvas}
}

func AttentionMarker(x, y float64, label string) Command {
	return Command{Action: ActionAttentionMarker, X: &x, Y: &y, Label: label}
}

func ClearAttention() Command {
	return Command{Action: ActionClearAttention}
}

func Celebrate(intensity string) Command {
	return Command{Action: ActionCelebrate, Intensity: intensity}
}
