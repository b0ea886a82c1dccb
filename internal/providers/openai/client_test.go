package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardgen/internal/providers"
)

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client, err := NewClient(Options{
		APIKey:     "sk-test",
		BaseURL:    "https://openai.test/v1",
		HTTPClient: &http.Client{Transport: transport},
	})
	require.NoError(t, err)
	client.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return client, transport
}

func source() *providers.Asset {
	return &providers.Asset{Data: []byte("png-bytes"), MIMEType: "image/png", Filename: "src.png"}
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)
}

func TestEditImageDecodesBase64(t *testing.T) {
	client, transport := newTestClient(t)
	encoded := base64.StdEncoding.EncodeToString([]byte("result-image"))
	transport.RegisterResponder(http.MethodPost, "https://openai.test/v1/images/edits",
		func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "make a cover", r.FormValue("prompt"))
			assert.Equal(t, "gpt-image-1", r.FormValue("model"))
			file, hdr, err := r.FormFile("image")
			require.NoError(t, err)
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "png-bytes", string(data))
			assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(200, `{"data":[{"b64_json":"`+encoded+`"}]}`), nil
		})

	out, err := client.InvokeSync(context.Background(), providers.Request{
		Source: source(),
		Prompt: "make a cover",
		Params: providers.Params{Output: providers.OutputImage},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Image)
	assert.Equal(t, "result-image", string(out.Image.Data))
}

func TestEditImageRequiresSource(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.InvokeSync(context.Background(), providers.Request{Prompt: "x"})
	require.ErrorIs(t, err, providers.ErrUnsupported)
}

func TestChatSendsImageAndSystem(t *testing.T) {
	client, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodPost, "https://openai.test/v1/chat/completions",
		func(r *http.Request) (*http.Response, error) {
			var body struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string          `json:"role"`
					Content json.RawMessage `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "gpt-4o-mini", body.Model)
			require.Len(t, body.Messages, 2)
			assert.Equal(t, "system", body.Messages[0].Role)
			assert.Contains(t, string(body.Messages[1].Content), "data:image/png;base64,")
			return httpmock.NewStringResponse(200, `{"choices":[{"message":{"content":"  SEO text  "}}]}`), nil
		})

	out, err := client.InvokeSync(context.Background(), providers.Request{
		Source: source(),
		System: "you write listings",
		Prompt: "describe",
		Params: providers.Params{Output: providers.OutputText},
	})
	require.NoError(t, err)
	assert.Equal(t, "SEO text", out.Text)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		header http.Header
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: 429,
			body:   `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`,
			header: http.Header{"Retry-After": []string{"60"}},
			check: func(t *testing.T, err error) {
				rl, ok := providers.AsRateLimited(err)
				require.True(t, ok)
				assert.Equal(t, 60*time.Second, rl.RetryAfter)
			},
		},
		{
			name:   "quota",
			status: 429,
			body:   `{"error":{"message":"no credit","type":"insufficient_quota","code":"insufficient_quota"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, providers.ErrQuotaExceeded)
				_, ok := providers.AsRateLimited(err)
				assert.False(t, ok)
			},
		},
		{
			name:   "auth",
			status: 401,
			body:   `{"error":{"message":"bad key","code":"invalid_api_key"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, providers.ErrAuth)
			},
		},
		{
			name:   "server",
			status: 500,
			body:   `upstream exploded`,
			check: func(t *testing.T, err error) {
				var perr *providers.Error
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, 500, perr.Status)
				assert.Equal(t, "upstream exploded", perr.Message)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, transport := newTestClient(t)
			resp := httpmock.NewStringResponse(tc.status, tc.body)
			for k, v := range tc.header {
				resp.Header[k] = v
			}
			transport.RegisterResponder(http.MethodPost, "https://openai.test/v1/chat/completions", httpmock.ResponderFromResponse(resp))

			_, err := client.InvokeSync(context.Background(), providers.Request{
				Prompt: "describe",
				Params: providers.Params{Output: providers.OutputText},
			})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestEmptyChoicesIsNoOutput(t *testing.T) {
	client, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodPost, "https://openai.test/v1/chat/completions",
		httpmock.NewStringResponder(200, `{"choices":[]}`))

	_, err := client.InvokeSync(context.Background(), providers.Request{Prompt: "x", Params: providers.Params{Output: providers.OutputText}})
	require.ErrorIs(t, err, providers.ErrNoOutput)
	assert.False(t, strings.Contains(err.Error(), "sk-test"))
}
