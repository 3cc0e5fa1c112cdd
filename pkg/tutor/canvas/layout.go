package canvas

import (
	"strings"
	"sync"
)

const (
	OriginX    = 100.0
	OriginY    = 100.0
	LineMargin = 20.0

	// FreehandHeight is the conservative height assumed for strokes whose extent is unknown.
	FreehandHeight = 150.0

	// DefaultShapeHeight applies to geometric shapes reported without an h prop.
	DefaultShapeHeight = 80.0
)

var textSizeHeights = map[string]float64{
	"s":  30,
	"m":  50,
	"l":  70,
	"xl": 90,
}

// TextHeight estimates the rendered height of text at a tldraw size.
func TextHeight(text, size string) float64 {
	h, ok := textSizeHeights[strings.ToLower(strings.TrimSpace(size))]
	if !ok {
		h = textSizeHeights["m"]
	}
	lines := strings.Count(strings.TrimRight(text, "\n"), "\n") + 1
	return h * float64(lines)
}

// EstimateHeight returns a height for s that errs on the side of avoiding overlap.
func EstimateHeight(s Shape) float64 {
	if h, ok := s.PropFloat("h"); ok && h > 0 {
		return h
	}
	switch s.Type {
	case TypeText, TypeNote:
		return TextHeight(ExtractText(s.Props), s.PropString("size"))
	case TypeGeo, TypeFrame, TypeImage:
		return DefaultShapeHeight
	default:
		return FreehandHeight
	}
}

// Cursor tracks the next free writing position on an append-mostly canvas.
// next_y only moves backward on Reset.
type Cursor struct {
	mu    sync.Mutex
	nextY float64
	lastX float64
}

func NewCursor() *Cursor {
	return &Cursor{nextY: OriginY, lastX: OriginX}
}

// Reserve picks a position for content height tall and advances the cursor past it.
// Nil coordinates take the cursor's current values.
func (c *Cursor) Reserve(x, y *float64, height float64) (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	px, py := c.lastX, c.nextY
	if x != nil {
		px = *x
	}
	if y != nil {
		py = *y
	}
	if height < 0 {
		height = 0
	}
	if bottom := py + height + LineMargin; bottom > c.nextY {
		c.nextY = bottom
	}
	c.lastX = px
	return px, py
}

// Resync advances the cursor below every shape in a snapshot.
func (c *Cursor) Resync(shapes []Shape) {
	if len(shapes) == 0 {
		return
	}
	lowest := 0.0
	for i, s := range shapes {
		bottom := s.Y + EstimateHeight(s) + LineMargin
		if i == 0 || bottom > lowest {
			lowest = bottom
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lowest > c.nextY {
		c.nextY = lowest
	}
}

// Reset returns the cursor to the origin after the canvas is cleared.
func (c *Cursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextY = OriginY
	c.lastX = OriginX
}

func (c *Cursor) NextY() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextY
}

func (c *Cursor) LastX() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastX
}
