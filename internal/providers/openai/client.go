// Package openai adapts the OpenAI image-edit and chat completion APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"cardgen/internal/infra"
	"cardgen/internal/providers"
)

const (
	providerName      = "openai"
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultChatModel  = "gpt-4o-mini"
	defaultImageModel = "gpt-image-1"
	defaultImageSize  = "1024x1536"
	maxErrorBody      = 512
)

// Options controls how the OpenAI client is configured.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	ChatModel    string
	ImageModel   string
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Client implements providers.SyncProvider.
type Client struct {
	apiKey       string
	baseURL      string
	organization string
	chatModel    string
	imageModel   string
	httpClient   *http.Client
	logger       *infra.Logger
	now          func() time.Time
}

// NewClient constructs an OpenAI client. The API key is required.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Minute}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		chatModel:    firstNonEmpty(opts.ChatModel, defaultChatModel),
		imageModel:   firstNonEmpty(opts.ImageModel, defaultImageModel),
		httpClient:   client,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (c *Client) Name() string { return providerName }

// InvokeSync edits the source image or produces text depending on Params.Output.
func (c *Client) InvokeSync(ctx context.Context, req providers.Request) (*providers.Output, error) {
	switch req.Params.Output {
	case providers.OutputText:
		text, err := c.chat(ctx, req)
		if err != nil {
			return nil, err
		}
		return &providers.Output{Text: text}, nil
	case providers.OutputImage, "":
		if req.Source == nil || len(req.Source.Data) == 0 {
			return nil, fmt.Errorf("openai: image edit requires a source: %w", providers.ErrUnsupported)
		}
		img, err := c.editImage(ctx, req)
		if err != nil {
			return nil, err
		}
		return &providers.Output{Image: img}, nil
	default:
		return nil, fmt.Errorf("openai: output %q: %w", req.Params.Output, providers.ErrUnsupported)
	}
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

func (c *Client) editImage(ctx context.Context, req providers.Request) (*providers.Asset, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"model":  firstNonEmpty(req.Params.Model, c.imageModel),
		"prompt": req.Prompt,
		"n":      "1",
		"size":   firstNonEmpty(req.Params.Size, defaultImageSize),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("openai: write field %s: %w", k, err)
		}
	}
	mimeType := firstNonEmpty(req.Source.MIMEType, "image/png")
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, firstNonEmpty(req.Source.Filename, "source.png")))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("openai: create image part: %w", err)
	}
	if _, err := part.Write(req.Source.Data); err != nil {
		return nil, fmt.Errorf("openai: write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("openai: close multipart: %w", err)
	}

	var out imageResponse
	if err := c.do(ctx, "/images/edits", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai: %w", providers.ErrNoOutput)
	}
	first := out.Data[0]
	if first.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("openai: decode image: %w", err)
		}
		return &providers.Asset{Data: data, MIMEType: "image/png"}, nil
	}
	if first.URL != "" {
		return c.download(ctx, first.URL)
	}
	return nil, fmt.Errorf("openai: %w", providers.ErrNoOutput)
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) chat(ctx context.Context, req providers.Request) (string, error) {
	var messages []chatMessage
	if sys := strings.TrimSpace(req.System); sys != "" {
		messages = append(messages, chatMessage{Role: "system", Content: sys})
	}
	user := []chatContent{{Type: "text", Text: req.Prompt}}
	if req.Source != nil && len(req.Source.Data) > 0 {
		dataURL := fmt.Sprintf("data:%s;base64,%s", firstNonEmpty(req.Source.MIMEType, "image/png"), base64.StdEncoding.EncodeToString(req.Source.Data))
		user = append(user, chatContent{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	payload, err := json.Marshal(chatRequest{
		Model:       firstNonEmpty(req.Params.Model, c.chatModel),
		Messages:    messages,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal chat request: %w", err)
	}

	var out chatResponse
	if err := c.do(ctx, "/chat/completions", "application/json", bytes.NewReader(payload), &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai: %w", providers.ErrNoOutput)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)
	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai: invoke %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", c.now().Sub(start)).
		Msg("openai: response")

	if resp.StatusCode >= http.StatusBadRequest {
		return c.classify(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

func (c *Client) classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr errorResponse
	_ = json.Unmarshal(raw, &apiErr)
	code := ""
	if apiErr.Error.Code != nil {
		code = fmt.Sprint(apiErr.Error.Code)
	}
	message := apiErr.Error.Message
	if message == "" {
		message = providers.Truncate(string(raw), maxErrorBody)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests && (code == "insufficient_quota" || apiErr.Error.Type == "insufficient_quota"):
		return &providers.Error{Provider: providerName, Status: resp.StatusCode, Code: code, Message: message, Err: providers.ErrQuotaExceeded}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &providers.RateLimitedError{
			Provider:   providerName,
			RetryAfter: providers.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Message:    message,
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &providers.Error{Provider: providerName, Status: resp.StatusCode, Code: code, Message: message, Err: providers.ErrAuth}
	default:
		return &providers.Error{Provider: providerName, Status: resp.StatusCode, Code: code, Message: message}
	}
}

func (c *Client) download(ctx context.Context, url string) (*providers.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &providers.Error{Provider: providerName, Status: resp.StatusCode, Message: "download result"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read result: %w", err)
	}
	return &providers.Asset{Data: data, MIMEType: firstNonEmpty(resp.Header.Get("Content-Type"), "image/png")}, nil
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
