package canvas

// Point is a position in either analysis-image or canvas space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds describes how an exported analysis image maps onto the canvas: the image's
// top-left corner sits at (X-Padding, Y-Padding) in canvas space.
type Bounds struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Padding float64 `json:"padding"`
}

// DefaultBiasRatio is the share of a target region's width that circled regions are
// shifted left by. Analysis models report answer boxes slightly to the right for the
// frontend's export layout. The value was tuned against one presentation and is
// unverified elsewhere; override it through Transformer.BiasRatio.
const DefaultBiasRatio = 0.15

// DefaultFallbackOffset is applied when no bounds accompany a snapshot. It assumes an
// export anchored at the canvas origin with tldraw's default 32px export padding.
var DefaultFallbackOffset = Point{X: -32, Y: -32}

// ToCanvas maps an analysis-image point onto the canvas without any bias correction.
func ToCanvas(p Point, b Bounds) Point {
	return Point{
		X: p.X + b.X - b.Padding,
		Y: p.Y + b.Y - b.Padding,
	}
}

// Transformer converts analysis-space coordinates into canvas space.
type Transformer struct {
	BiasRatio      float64
	FallbackOffset Point
}

// NewTransformer returns a Transformer using the package defaults.
func NewTransformer() Transformer {
	return Transformer{
		BiasRatio:      DefaultBiasRatio,
		FallbackOffset: DefaultFallbackOffset,
	}
}

// ToCanvasSpace maps p, the top-left of a region regionWidth wide, onto the canvas.
// It is a pure function of its inputs.
func (t Transformer) ToCanvasSpace(p Point, regionWidth float64, b *Bounds) Point {
	if b == nil {
		return Point{X: p.X + t.FallbackOffset.X, Y: p.Y + t.FallbackOffset.Y}
	}
	out := ToCanvas(p, *b)
	if regionWidth > 0 {
		out.X -= t.BiasRatio * regionWidth
	}
	return out
}
