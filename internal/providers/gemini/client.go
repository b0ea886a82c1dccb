// Package gemini adapts the Gemini generateContent API, reached directly or
// through a compatible gateway.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardgen/internal/infra"
	"cardgen/internal/providers"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-image"
	maxErrorBody   = 512
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	TextModel  string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client implements providers.SyncProvider.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	textModel  string
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
}

type generateContentRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client. Callers may provide a nil HTTP
// client; one with a generous timeout is created.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Minute}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	textModel := strings.TrimSpace(opts.TextModel)
	if textModel == "" {
		textModel = model
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		textModel:  textModel,
		httpClient: client,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *Client) Name() string { return providerName }

// Model returns the configured image model identifier.
func (c *Client) Model() string { return c.model }

// InvokeSync sends the prompt with the optional source image and returns the
// first image part, or the concatenated text for text output.
func (c *Client) InvokeSync(ctx context.Context, req providers.Request) (*providers.Output, error) {
	parts := []part{{Text: req.Prompt}}
	if req.Source != nil && len(req.Source.Data) > 0 {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: firstNonEmpty(req.Source.MIMEType, "image/png"),
			Data:     base64.StdEncoding.EncodeToString(req.Source.Data),
		}})
	}
	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if sys := strings.TrimSpace(req.System); sys != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: sys}}}
	}

	model := c.model
	text := req.Params.Output == providers.OutputText
	if text {
		model = c.textModel
	} else {
		payload.GenerationConfig = &generationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}}
	}
	if req.Params.Model != "" {
		model = req.Params.Model
	}

	var response generateContentResponse
	if err := c.invoke(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model)), payload, &response); err != nil {
		return nil, err
	}

	var texts []string
	for _, cand := range response.Candidates {
		for _, p := range cand.Content.Parts {
			if !text && p.InlineData != nil && p.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("gemini: decode inline data: %w", err)
				}
				return &providers.Output{Image: &providers.Asset{
					Data:     data,
					MIMEType: firstNonEmpty(p.InlineData.MimeType, "image/png"),
				}}, nil
			}
			if t := strings.TrimSpace(p.Text); t != "" {
				texts = append(texts, t)
			}
		}
	}
	if text && len(texts) > 0 {
		return &providers.Output{Text: strings.Join(texts, "\n")}, nil
	}
	if len(texts) > 0 {
		return nil, fmt.Errorf("gemini: %w: %s", providers.ErrNoOutput, providers.Truncate(strings.Join(texts, " "), maxErrorBody))
	}
	return nil, fmt.Errorf("gemini: %w", providers.ErrNoOutput)
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gemini: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: invoke: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("model", c.model).
		Int("status", resp.StatusCode).
		Dur("elapsed", c.now().Sub(start)).
		Msg("gemini: response")

	if resp.StatusCode >= http.StatusBadRequest {
		return c.classify(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gemini: decode response: %w", err)
	}
	return nil
}

func (c *Client) classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr errorResponse
	_ = json.Unmarshal(raw, &apiErr)
	message := apiErr.Error.Message
	if message == "" {
		message = providers.Truncate(string(raw), maxErrorBody)
	}
	code := apiErr.Error.Status

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &providers.RateLimitedError{
			Provider:   providerName,
			RetryAfter: providers.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Message:    message,
		}
	case http.StatusPaymentRequired:
		return &providers.Error{Provider: providerName, Status: resp.StatusCode, Code: code, Message: message, Err: providers.ErrQuotaExceeded}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &providers.Error{Provider: providerName, Status: resp.StatusCode, Code: code, Message: message, Err: providers.ErrAuth}
	default:
		return &providers.Error{Provider: providerName, Status: resp.StatusCode, Code: code, Message: message}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ providers.SyncProvider = (*Client)(nil)
