package synthetic

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardgen/internal/providers"
)

func TestInvokeSyncImageIsDeterministic(t *testing.T) {
	p := New(Options{})
	req := providers.Request{Prompt: "cover card", Params: providers.Params{Output: providers.OutputImage, AspectRatio: "3:4"}}

	a, err := p.InvokeSync(context.Background(), req)
	require.NoError(t, err)
	b, err := p.InvokeSync(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, a.Image)
	assert.Equal(t, "image/png", a.Image.MIMEType)
	assert.Equal(t, a.Image.Data, b.Image.Data)

	img, err := png.Decode(bytes.NewReader(a.Image.Data))
	require.NoError(t, err)
	assert.Equal(t, 480, img.Bounds().Dx())
	assert.Equal(t, 640, img.Bounds().Dy())
}

func TestInvokeSyncText(t *testing.T) {
	p := New(Options{})
	out, err := p.InvokeSync(context.Background(), providers.Request{
		Prompt: "write seo text",
		Params: providers.Params{Output: providers.OutputText},
	})
	require.NoError(t, err)
	assert.Nil(t, out.Image)
	assert.Contains(t, out.Text, "write seo text")
}

func TestAsyncSucceedsAfterConfiguredPolls(t *testing.T) {
	p := New(Options{ResultBaseURL: "https://cdn.test/v/", PollsUntilDone: 1})
	h, err := p.InvokeAsync(context.Background(), providers.Request{Prompt: "pan", Params: providers.Params{RequestID: "t1"}})
	require.NoError(t, err)
	assert.Equal(t, "synthetic", h.Provider)

	first, err := p.PollAsync(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, providers.PhaseProcessing, first.Phase)

	second, err := p.PollAsync(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, providers.PhaseSucceeded, second.Phase)
	assert.Equal(t, "https://cdn.test/v/"+h.ExternalID+".mp4", second.ResultURL)
}
