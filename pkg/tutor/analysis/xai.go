package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultXAIBaseURL = "https://api.x.ai/v1"
	DefaultXAIModel   = "grok-4"
)

// APIError is a non-success response from a vision endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vision api error %d: %s", e.StatusCode, e.Body)
}

// XAIAnalyzer describes canvas images through the xAI chat completions API.
type XAIAnalyzer struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// Option configures an XAIAnalyzer.
type Option func(*XAIAnalyzer)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(a *XAIAnalyzer) {
		if url != "" {
			a.baseURL = url
		}
	}
}

// WithModel sets the vision model.
func WithModel(model string) Option {
	return func(a *XAIAnalyzer) {
		if model != "" {
			a.model = model
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *XAIAnalyzer) {
		if client != nil {
			a.httpClient = client
		}
	}
}

func NewXAI(apiKey string, opts ...Option) *XAIAnalyzer {
	a := &XAIAnalyzer{
		apiKey:      apiKey,
		baseURL:     DefaultXAIBaseURL,
		model:       DefaultXAIModel,
		maxTokens:   200,
		temperature: 0.3,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a *XAIAnalyzer) Analyze(ctx context.Context, image string) (string, error) {
	req := chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{URL: ImageDataURL(image)}},
				{Type: "text", Text: UserPrompt},
			}},
		},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.baseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResult
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}
