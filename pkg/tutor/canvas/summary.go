package canvas

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// EmptyCanvas and NoChanges are the descriptions used when there is nothing to report.
const (
	EmptyCanvas = "The canvas is empty."
	NoChanges   = "No changes detected."
)

// ExtractText returns the text of a shape's props. Plain "text" wins over a TipTap
// "richText" document.
func ExtractText(props map[string]any) string {
	if props == nil {
		return ""
	}
	if text, ok := props["text"].(string); ok && text != "" {
		return text
	}
	switch rt := props["richText"].(type) {
	case string:
		return rt
	case map[string]any:
		var parts []string
		collectRichText(rt, &parts)
		return strings.Join(parts, " ")
	}
	return ""
}

func collectRichText(node map[string]any, out *[]string) {
	if node["type"] == "text" {
		if text, ok := node["text"].(string); ok {
			*out = append(*out, text)
		}
	}
	children, _ := node["content"].([]any)
	for _, child := range children {
		if m, ok := child.(map[string]any); ok {
			collectRichText(m, out)
		}
	}
}

// Summarize renders a snapshot as text context for the realtime model.
func Summarize(shapes []Shape) string {
	if len(shapes) == 0 {
		return EmptyCanvas
	}

	lines := make([]string, 0, len(shapes))
	for _, s := range shapes {
		if line := describeShape(s); line != "" {
			lines = append(lines, line)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Canvas contains %d element(s):", len(shapes))
	for _, line := range lines {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	if exprs := MathContent(shapes); len(exprs) > 0 {
		b.WriteString("\nMath written so far: ")
		b.WriteString(strings.Join(exprs, "; "))
	}
	return b.String()
}

func describeShape(s Shape) string {
	at := fmt.Sprintf("at (%.0f, %.0f)", s.X, s.Y)
	switch s.Type {
	case TypeDraw:
		return "Freehand drawing " + at
	case TypeText:
		if text := ExtractText(s.Props); text != "" {
			return fmt.Sprintf("Text %q %s", text, at)
		}
		return ""
	case TypeGeo:
		geo := s.PropString("geo")
		if geo == "" {
			geo = "rectangle"
		}
		return capitalize(geo) + " shape " + at
	case TypeArrow:
		return "Arrow " + at
	case TypeLine:
		return "Line " + at
	case TypeNote:
		if text := ExtractText(s.Props); text != "" {
			return fmt.Sprintf("Note %q %s", text, at)
		}
		return "Empty note " + at
	case TypeFrame:
		if name := s.PropString("name"); name != "" {
			return fmt.Sprintf("Frame %q %s", name, at)
		}
		return "Frame " + at
	default:
		return s.Type + " " + at
	}
}

// DescribeChanges summarizes an incremental canvas change.
func DescribeChanges(added, modified []Shape, deleted []string) string {
	var parts []string
	if len(added) > 0 {
		types := make([]string, 0, len(added))
		for _, s := range added {
			types = append(types, s.Type)
		}
		parts = append(parts, "Added: "+strings.Join(types, ", "))
	}
	if len(modified) > 0 {
		parts = append(parts, fmt.Sprintf("Modified: %d element(s)", len(modified)))
	}
	if len(deleted) > 0 {
		parts = append(parts, fmt.Sprintf("Deleted: %d element(s)", len(deleted)))
	}
	if len(parts) == 0 {
		return NoChanges
	}
	return strings.Join(parts, "; ")
}

// DescribeCounts renders shape counts, e.g. for a degraded analysis result.
func DescribeCounts(counts map[string]int) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return EmptyCanvas
	}

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		if counts[t] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", counts[t], countLabel(t)))
	}
	return fmt.Sprintf("The canvas has %d element(s): %s.", total, strings.Join(parts, ", "))
}

func countLabel(shapeType string) string {
	switch shapeType {
	case TypeDraw:
		return "freehand stroke(s)"
	case TypeText:
		return "text element(s)"
	case TypeGeo:
		return "shape(s)"
	default:
		return shapeType + "(s)"
	}
}

// MathContent returns the text of text shapes that look like math.
func MathContent(shapes []Shape) []string {
	var out []string
	for _, s := range shapes {
		if s.Type != TypeText {
			continue
		}
		if text := ExtractText(s.Props); LooksLikeMath(text) {
			out = append(out, text)
		}
	}
	return out
}

var mathIndicators = []string{"+", "-", "*", "/", "=", "^", "x", "y", "z", "(", ")", "sqrt", "sin", "cos", "tan", "log"}

// LooksLikeMath reports whether text contains a digit and a math operator or variable.
func LooksLikeMath(text string) bool {
	hasDigit := strings.IndexFunc(text, unicode.IsDigit) >= 0
	if !hasDigit {
		return false
	}
	lower := strings.ToLower(text)
	for _, ind := range mathIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
