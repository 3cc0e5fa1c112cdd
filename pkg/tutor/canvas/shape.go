// Package canvas models the shared tutoring canvas: shapes in the tldraw wire form,
// the layout cursor that decides where the tutor writes next, and the mapping from
// analysis-image coordinates back onto the canvas.
package canvas

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Shape types the frontend sends and the tutor creates.
const (
	TypeText  = "text"
	TypeGeo   = "geo"
	TypeDraw  = "draw"
	TypeArrow = "arrow"
	TypeLine  = "line"
	TypeNote  = "note"
	TypeFrame = "frame"
	TypeImage = "image"
)

// Shape is a tldraw shape record.
type Shape struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	X     float64        `json:"x"`
	Y     float64        `json:"y"`
	Props map[string]any `json:"props,omitempty"`
}

// Snapshot is the latest full canvas state reported by the client.
type Snapshot struct {
	Shapes     []Shape `json:"shapes"`
	Summary    string  `json:"summary,omitempty"`
	Screenshot string  `json:"screenshot,omitempty"`
	Bounds     *Bounds `json:"bounds,omitempty"`
}

// NewShapeID returns an id in the "shape:<uuid>" form tldraw expects.
func NewShapeID() string {
	return "shape:" + uuid.NewString()
}

// PropString returns a string prop, or "" when absent or not a string.
func (s Shape) PropString(key string) string {
	if s.Props == nil {
		return ""
	}
	v, _ := s.Props[key].(string)
	return v
}

// PropFloat returns a numeric prop. JSON numbers decode as float64; numeric strings are accepted too.
func (s Shape) PropFloat(key string) (float64, bool) {
	if s.Props == nil {
		return 0, false
	}
	switch v := s.Props[key].(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// CountByType tallies shapes per type.
func CountByType(shapes []Shape) map[string]int {
	counts := make(map[string]int, 4)
	for _, s := range shapes {
		t := strings.TrimSpace(s.Type)
		if t == "" {
			t = "unknown"
		}
		counts[t]++
	}
	return counts
}
