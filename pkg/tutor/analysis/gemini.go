package analysis

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiAnalyzer describes canvas images with a Gemini model through the genai SDK.
// Gemini does not accept SVG, so the frontend must export PNG when this backend is used.
type GeminiAnalyzer struct {
	models *genai.Models
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GeminiAnalyzer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiAnalyzer{models: client.Models, model: model}, nil
}

func (g *GeminiAnalyzer) Analyze(ctx context.Context, image string) (string, error) {
	mime, data, err := DecodeDataURL(ImageDataURL(image))
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mime),
			genai.NewPartFromText(UserPrompt),
		}, genai.RoleUser),
	}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.3),
		MaxOutputTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}
