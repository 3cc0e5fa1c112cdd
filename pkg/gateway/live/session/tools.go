package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vango-go/vai-tutor/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-tutor/pkg/tutor/analysis"
	"github.com/vango-go/vai-tutor/pkg/tutor/canvas"
	"github.com/vango-go/vai-tutor/pkg/tutor/toolcall"
)

func (s *Session) toolHandlers() map[toolcall.Kind]toolcall.Handler {
	return map[toolcall.Kind]toolcall.Handler{
		toolcall.KindDrawText:     s.drawText,
		toolcall.KindDrawShape:    s.drawShape,
		toolcall.KindPointTo:      s.pointTo,
		toolcall.KindClearCanvas:  s.clearCanvas,
		toolcall.KindCelebrate:    s.celebrate,
		toolcall.KindCheckWork:    s.checkWork,
		toolcall.KindCircleRegion: s.circleRegion,
	}
}

func (s *Session) respond(req toolcall.Request, output string, isLast bool) error {
	if err := s.upstream.SendFunctionResult(req.CallID, output, isLast); err != nil {
		return fmt.Errorf("%s result: %w", req.Name, err)
	}
	return nil
}

func (s *Session) nextOffset() string {
	return fmt.Sprintf("next usable vertical offset = %d", int(math.Ceil(s.cursor.NextY())))
}

func (s *Session) drawText(_ context.Context, req toolcall.Request, isLast bool) error {
	args := toolcall.DrawText(req.Arguments)
	if len(args.Items) == 0 {
		return s.respond(req, "Nothing was drawn: no text items were given. "+s.nextOffset(), isLast)
	}
	if err := s.sendStatus(protocol.StatusDrawing); err != nil {
		return err
	}
	for _, item := range args.Items {
		x, y := s.cursor.Reserve(item.X, item.Y, canvas.TextHeight(item.Text, item.Size))
		shape := canvas.Shape{
			ID:   canvas.NewShapeID(),
			Type: canvas.TypeText,
			X:    x,
			Y:    y,
			Props: map[string]any{
				"text":      item.Text,
				"color":     item.Color,
				"size":      item.Size,
				"font":      "draw",
				"textAlign": "start",
			},
		}
		if err := s.sendCommand(protocol.AddAnimatedText(shape)); err != nil {
			return err
		}
	}
	return s.respond(req, fmt.Sprintf("Wrote %d text item(s) on the canvas; %s", len(args.Items), s.nextOffset()), isLast)
}

func (s *Session) drawShape(_ context.Context, req toolcall.Request, isLast bool) error {
	args := toolcall.DrawShape(req.Arguments)
	if err := s.sendStatus(protocol.StatusDrawing); err != nil {
		return err
	}
	x, y := s.cursor.Reserve(args.X, args.Y, args.Height)
	shape := geometricShape(args, x, y)
	if err := s.sendCommand(protocol.AddShape(shape)); err != nil {
		return err
	}
	return s.respond(req, fmt.Sprintf("Drew a %s at (%d, %d); %s", args.ShapeType, int(x), int(y), s.nextOffset()), isLast)
}

// geometricShape builds the tldraw record for a draw_shape call. Arrows and lines are
// their own shape types; everything else is a geo shape.
func geometricShape(args toolcall.DrawShapeArgs, x, y float64) canvas.Shape {
	shape := canvas.Shape{ID: canvas.NewShapeID(), X: x, Y: y}
	switch args.ShapeType {
	case "arrow":
		shape.Type = canvas.TypeArrow
		shape.Props = map[string]any{
			"color": args.Color,
			"start": map[string]any{"x": 0, "y": 0},
			"end":   map[string]any{"x": args.Width, "y": args.Height},
		}
	case "line":
		shape.Type = canvas.TypeLine
		shape.Props = map[string]any{
			"color": args.Color,
			"points": map[string]any{
				"a1": map[string]any{"id": "a1", "index": "a1", "x": 0, "y": 0},
				"a2": map[string]any{"id": "a2", "index": "a2", "x": args.Width, "y": args.Height},
			},
		}
	default:
		shape.Type = canvas.TypeGeo
		shape.Props = map[string]any{
			"geo":   args.ShapeType,
			"w":     args.Width,
			"h":     args.Height,
			"color": args.Color,
		}
	}
	return shape
}

func (s *Session) pointTo(_ context.Context, req toolcall.Request, isLast bool) error {
	args := toolcall.PointTo(req.Arguments)
	if s.markerActive.Load() {
		if err := s.sendCommand(protocol.ClearAttention()); err != nil {
			return err
		}
	}
	if err := s.sendCommand(protocol.AttentionMarker(args.X, args.Y, args.Label)); err != nil {
		return err
	}
	s.markerActive.Store(true)
	return s.respond(req, fmt.Sprintf("Pointing at (%d, %d).", int(args.X), int(args.Y)), isLast)
}

func (s *Session) clearCanvas(_ context.Context, req toolcall.Request, isLast bool) error {
	if err := s.sendCommand(protocol.ClearCanvas()); err != nil {
		return err
	}
	if err := s.sendCommand(protocol.ClearAttention()); err != nil {
		return err
	}
	s.markerActive.Store(false)
	s.cursor.Reset()
	s.coordinator.Invalidate()
	return s.respond(req, "Canvas cleared; "+s.nextOffset(), isLast)
}

func (s *Session) celebrate(_ context.Context, req toolcall.Request, isLast bool) error {
	args := toolcall.Celebrate(req.Arguments)
	if err := s.sendCommand(protocol.Celebrate(args.Intensity)); err != nil {
		return err
	}
	return s.respond(req, fmt.Sprintf("Celebration shown (%s).", args.Intensity), isLast)
}

// checkWork looks at the student's canvas. The in-flight model response was already
// cancelled when the call arrived, so the tutor waits for the analysis.
func (s *Session) checkWork(ctx context.Context, req toolcall.Request, isLast bool) error {
	if err := s.sendStatus(protocol.StatusWatching); err != nil {
		return err
	}

	snap, _ := s.state.CanvasSnapshot()
	in := analysis.Input{Image: snap.Screenshot, ShapeCounts: canvas.CountByType(snap.Shapes)}

	// The analysis is detached so teardown does not abort the vision call; its
	// result is simply dropped.
	done := make(chan analysis.Outcome, 1)
	go func() {
		done <- s.coordinator.Request(context.WithoutCancel(ctx), in)
	}()

	var out analysis.Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.respond(req, describeOutcome(out), isLast)
}

func describeOutcome(out analysis.Outcome) string {
	switch out.Kind {
	case analysis.Busy:
		return "A canvas analysis is already in progress. Ask the student to hold on a moment, then check again."
	case analysis.Cached:
		return fmt.Sprintf("Canvas analysis from %s ago (the canvas has not changed since): %s", out.Age.Round(time.Second), out.Text)
	default:
		return "Canvas analysis: " + out.Text
	}
}

func (s *Session) circleRegion(_ context.Context, req toolcall.Request, isLast bool) error {
	args := toolcall.CircleRegion(req.Arguments)
	snap, _ := s.state.CanvasSnapshot()
	p := s.transformer.ToCanvasSpace(canvas.Point{X: args.X, Y: args.Y}, args.Width, snap.Bounds)

	shape := canvas.Shape{
		ID:   canvas.NewShapeID(),
		Type: canvas.TypeGeo,
		X:    p.X,
		Y:    p.Y,
		Props: map[string]any{
			"geo":   "ellipse",
			"w":     args.Width,
			"h":     args.Height,
			"color": args.Color,
			"fill":  "none",
		},
	}
	if err := s.sendCommand(protocol.AddShape(shape)); err != nil {
		return err
	}
	s.cursor.Reserve(nil, &p.Y, args.Height)
	return s.respond(req, fmt.Sprintf("Circled the region at (%d, %d); %s", int(p.X), int(p.Y), s.nextOffset()), isLast)
}
