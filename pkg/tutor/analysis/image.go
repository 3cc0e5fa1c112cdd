package analysis

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const defaultImageMIME = "image/svg+xml"

const (
	SystemPrompt = `You are analyzing a student's work on a digital chalkboard for a math tutoring session.

Describe what you see concisely and accurately:
- Identify any handwritten text, numbers, or equations
- Note any drawings, diagrams, or geometric shapes
- If you see mathematical work, describe the steps shown and whether the final answer is correct

Be brief (2-3 sentences max). Focus on what a tutor needs to know about the student's work.
If the student wrote a final answer, end with one line in the form
ANSWER_BOX: x,y,width,height
giving the answer's bounding box in image pixels.`

	UserPrompt = "What does the student have on their canvas?"
)

// ImageDataURL returns image as a data URL. Bare base64 is assumed to be SVG, which is
// what the frontend exports by default.
func ImageDataURL(image string) string {
	image = strings.TrimSpace(image)
	if strings.HasPrefix(image, "data:") {
		return image
	}
	return "data:" + defaultImageMIME + ";base64," + image
}

// DecodeDataURL splits a base64 data URL into its MIME type and bytes.
func DecodeDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(url), "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data url")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data url must be base64 encoded")
	}
	if mime == "" {
		mime = defaultImageMIME
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	return mime, data, nil
}
