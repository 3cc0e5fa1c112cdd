// Package toolcall runs tutor tool invocations one at a time in arrival order.
package toolcall

import "strings"

// Kind is the closed set of tools the tutor model may call.
type Kind int

const (
	KindUnknown Kind = iota
	KindDrawText
	KindDrawShape
	KindPointTo
	KindClearCanvas
	KindCelebrate
	KindCheckWork
	KindCircleRegion

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:      "",
	KindDrawText:     "draw_text",
	KindDrawShape:    "draw_shape",
	KindPointTo:      "point_to",
	KindClearCanvas:  "clear_canvas",
	KindCelebrate:    "celebrate",
	KindCheckWork:    "check_work",
	KindCircleRegion: "circle_region",
}

func (k Kind) String() string {
	if k <= KindUnknown || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds lists every known tool kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindUnknown + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind maps a tool name to its Kind. Unrecognized names return KindUnknown.
func ParseKind(name string) Kind {
	name = strings.TrimSpace(name)
	for k := KindUnknown + 1; k < kindCount; k++ {
		if kindNames[k] == name {
			return k
		}
	}
	return KindUnknown
}

// Request is one tool invocation. It is not modified after Enqueue.
type Request struct {
	CallID    string
	Name      string
	Kind      Kind
	Arguments map[string]any
}

// NewRequest builds a Request, resolving name to its Kind.
func NewRequest(callID, name string, args map[string]any) Request {
	if args == nil {
		args = map[string]any{}
	}
	return Request{CallID: callID, Name: name, Kind: ParseKind(name), Arguments: args}
}
