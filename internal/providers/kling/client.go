// Package kling adapts the Kling image-to-video API.
package kling

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cardgen/internal/infra"
	"cardgen/internal/providers"
)

const (
	providerName    = "kling"
	defaultBaseURL  = "https://api-singapore.klingai.com"
	defaultModel    = "kling-v2-1"
	defaultDuration = 5
	image2videoPath = "/v1/videos/image2video"
	maxErrorBody    = 512
)

// Options controls how the Kling client is configured.
type Options struct {
	AccessKey  string
	SecretKey  string
	BaseURL    string
	Model      string
	Mode       string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client implements providers.AsyncProvider.
type Client struct {
	tokens     *TokenSource
	baseURL    string
	model      string
	mode       string
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time
}

func NewClient(opts Options) (*Client, error) {
	tokens, err := NewTokenSource(opts.AccessKey, opts.SecretKey)
	if err != nil {
		return nil, err
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	mode := opts.Mode
	if mode == "" {
		mode = "std"
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		tokens:     tokens,
		baseURL:    baseURL,
		model:      model,
		mode:       mode,
		httpClient: client,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *Client) Name() string { return providerName }

type createRequest struct {
	ModelName   string `json:"model_name"`
	Image       string `json:"image"`
	Prompt      string `json:"prompt,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Mode        string `json:"mode,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type taskData struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    struct {
		Videos []struct {
			ID       string `json:"id"`
			URL      string `json:"url"`
			Duration string `json:"duration"`
		} `json:"videos"`
	} `json:"task_result"`
}

// InvokeAsync submits an image-to-video task and returns its handle.
func (c *Client) InvokeAsync(ctx context.Context, req providers.Request) (providers.Handle, error) {
	if req.Source == nil || len(req.Source.Data) == 0 {
		return providers.Handle{}, fmt.Errorf("kling: image to video requires a source: %w", providers.ErrUnsupported)
	}
	duration := req.Params.Duration
	if duration <= 0 {
		duration = defaultDuration
	}
	body, err := json.Marshal(createRequest{
		ModelName:   firstNonEmpty(req.Params.Model, c.model),
		Image:       base64.StdEncoding.EncodeToString(req.Source.Data),
		Prompt:      req.Prompt,
		Duration:    strconv.Itoa(duration),
		Mode:        c.mode,
		AspectRatio: req.Params.AspectRatio,
	})
	if err != nil {
		return providers.Handle{}, fmt.Errorf("kling: marshal request: %w", err)
	}

	var data taskData
	if err := c.do(ctx, http.MethodPost, image2videoPath, bytes.NewReader(body), &data); err != nil {
		return providers.Handle{}, err
	}
	if data.TaskID == "" {
		return providers.Handle{}, fmt.Errorf("kling: %w: missing task id", providers.ErrNoOutput)
	}
	c.logger.Info().Str("task_id", data.TaskID).Str("request_id", req.Params.RequestID).Msg("kling: task submitted")
	return providers.Handle{Provider: providerName, ExternalID: data.TaskID, Status: data.TaskStatus}, nil
}

// PollAsync reads the task state once.
func (c *Client) PollAsync(ctx context.Context, handle providers.Handle) (providers.PollResult, error) {
	if handle.ExternalID == "" {
		return providers.PollResult{}, fmt.Errorf("kling: empty task id")
	}
	var data taskData
	if err := c.do(ctx, http.MethodGet, image2videoPath+"/"+url.PathEscape(handle.ExternalID), nil, &data); err != nil {
		return providers.PollResult{}, err
	}
	res := providers.PollResult{RawStatus: data.TaskStatus}
	switch strings.ToLower(data.TaskStatus) {
	case "succeed", "succeeded":
		if len(data.TaskResult.Videos) == 0 || data.TaskResult.Videos[0].URL == "" {
			res.Phase = providers.PhaseFailed
			res.ErrorMessage = "video task finished without a result"
			return res, nil
		}
		res.Phase = providers.PhaseSucceeded
		res.ResultURL = data.TaskResult.Videos[0].URL
	case "failed":
		res.Phase = providers.PhaseFailed
		res.ErrorMessage = firstNonEmpty(data.TaskStatusMsg, "video generation failed")
	default:
		res.Phase = providers.PhaseProcessing
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out *taskData) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("kling: sign token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("kling: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kling: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("kling: read response: %w", err)
	}
	var env envelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil && resp.StatusCode < http.StatusBadRequest {
		return fmt.Errorf("kling: decode response: %w", jsonErr)
	}
	if resp.StatusCode >= http.StatusBadRequest || env.Code != 0 {
		return c.classify(resp, env, raw)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("kling: decode task: %w", err)
	}
	return nil
}

func (c *Client) classify(resp *http.Response, env envelope, raw []byte) error {
	message := env.Message
	if message == "" {
		message = providers.Truncate(string(raw), maxErrorBody)
	}
	code := ""
	if env.Code != 0 {
		code = strconv.Itoa(env.Code)
	}
	base := &providers.Error{Provider: providerName, Status: resp.StatusCode, Code: code, Message: message}

	// Account balance codes also arrive with HTTP 429.
	switch {
	case env.Code == 1101 || env.Code == 1102:
		base.Err = providers.ErrQuotaExceeded
	case env.Code >= 1000 && env.Code <= 1004, resp.StatusCode == http.StatusUnauthorized:
		base.Err = providers.ErrAuth
	case env.Code == 1302 || env.Code == 1303 || resp.StatusCode == http.StatusTooManyRequests:
		return &providers.RateLimitedError{
			Provider:   providerName,
			RetryAfter: providers.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Message:    message,
		}
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ providers.AsyncProvider = (*Client)(nil)
