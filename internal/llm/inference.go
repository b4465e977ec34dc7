// Package llm sends rendered pages to a remote vision model and returns its
// raw textual answer.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
)

const (
	inferencePath         = "/vision_model_inference/"
	defaultInferenceModel = "gemma3:27b"
	defaultTimeout        = 300 * time.Second
)

// InferenceClient talks to a self-hosted vision inference server that takes
// a multipart form with the instruction, the model name and the page images.
type InferenceClient struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *observability.Logger
}

// NewInferenceClient creates a client for the server at baseURL.
func NewInferenceClient(baseURL, model string, timeout time.Duration, logger *observability.Logger) *InferenceClient {
	if model == "" {
		model = defaultInferenceModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &InferenceClient{
		endpoint:   strings.TrimRight(baseURL, "/") + inferencePath,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent("inference_client"),
	}
}

// Model returns the model name sent with each request.
func (c *InferenceClient) Model() string {
	return c.model
}

// Analyze posts the images in order and returns the response body.
func (c *InferenceClient) Analyze(ctx context.Context, images []domain.PageImage, instruction string) (string, error) {
	if len(images) == 0 {
		return "", domain.ValidationError("at least one page image is required", nil)
	}

	body, contentType, err := c.buildForm(images, instruction)
	if err != nil {
		return "", domain.TransportError("failed to build multipart request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", domain.TransportError("failed to create request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.logger.Info().
		Str("endpoint", c.endpoint).
		Str("model", c.model).
		Int("pages", len(images)).
		Msg("Sending request to inference server")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.TransportError("inference request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.TransportError("failed to read inference response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", domain.RemoteError(resp.StatusCode, string(payload))
	}

	text := strings.TrimSpace(string(payload))
	if text == "" {
		return "", domain.MalformedResponseError("inference server returned an empty body", nil)
	}

	c.logger.Info().Dur("elapsed", time.Since(start)).Msg("Inference completed")
	return text, nil
}

func (c *InferenceClient) buildForm(images []domain.PageImage, instruction string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("prompt", instruction); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model_name", c.model); err != nil {
		return nil, "", err
	}

	for _, img := range images {
		ct := img.ContentType
		if ct == "" {
			ct = "image/png"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, img.Name))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
