package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
)

const (
	defaultChatURL   = "https://openrouter.ai/api/v1"
	defaultChatModel = "google/gemma-3-27b-it"
	userInstruction  = "Follow the instructions in the system prompt for the attached report pages."
)

// ChatClient handles communication with an OpenAI compatible chat
// completions API (OpenAI, OpenRouter).
type ChatClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat asks the model for a particular output encoding.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request represents the API request structure
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatMessage is the assistant message inside a choice.
type ChatMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a chat completions client. baseURL is the API root,
// e.g. https://api.openai.com/v1.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *observability.Logger) *ChatClient {
	if baseURL == "" {
		baseURL = defaultChatURL
	}
	if model == "" {
		model = defaultChatModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &ChatClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent("chat_client"),
	}
}

// Model returns the configured model identifier.
func (c *ChatClient) Model() string {
	return c.model
}

// Analyze sends the instruction as the system prompt and the pages as image
// parts, and returns the content of the first choice.
func (c *ChatClient) Analyze(ctx context.Context, images []domain.PageImage, instruction string) (string, error) {
	if len(images) == 0 {
		return "", domain.ValidationError("at least one page image is required", nil)
	}

	body, err := json.Marshal(c.buildRequest(images, instruction))
	if err != nil {
		return "", domain.TransportError("failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", domain.TransportError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Title", "Bloodwork Analyzer")

	c.logger.Info().Str("model", c.model).Int("pages", len(images)).Msg("Sending chat completion request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.TransportError("chat completion request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.TransportError("failed to read chat completion response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", domain.RemoteError(resp.StatusCode, string(payload))
	}

	var parsed Response
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", domain.MalformedResponseError("chat completion response is not valid JSON", err)
	}
	if len(parsed.Choices) == 0 {
		return "", domain.MalformedResponseError("no choices in chat completion response", nil)
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", domain.MalformedResponseError("empty content in chat completion response", nil)
	}
	return content, nil
}

// buildRequest constructs the API request with the page images in order
func (c *ChatClient) buildRequest(images []domain.PageImage, instruction string) *Request {
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, ContentPart{Type: "text", Text: userInstruction})
	for _, img := range images {
		ct := img.ContentType
		if ct == "" {
			ct = "image/png"
		}
		parts = append(parts, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	return &Request{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: []ContentPart{{Type: "text", Text: instruction}}},
			{Role: "user", Content: parts},
		},
		Temperature:    0.2,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}
}
