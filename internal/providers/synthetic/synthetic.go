// Package synthetic is an offline provider for local development. It renders
// deterministic placeholder images and text from the request.
package synthetic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"cardgen/internal/infra"
	"cardgen/internal/providers"
)

const providerName = "synthetic"

// Options configures the synthetic provider.
type Options struct {
	// ResultBaseURL prefixes async result URLs.
	ResultBaseURL string
	// PollsUntilDone is how many polls report processing before success.
	PollsUntilDone int
	Logger         *infra.Logger
}

// Provider implements both provider contracts.
type Provider struct {
	resultBaseURL  string
	pollsUntilDone int
	logger         *infra.Logger

	mu    sync.Mutex
	polls map[string]int
}

func New(opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	base := strings.TrimRight(opts.ResultBaseURL, "/")
	if base == "" {
		base = "http://localhost:8080/static/synthetic"
	}
	return &Provider{
		resultBaseURL:  base,
		pollsUntilDone: opts.PollsUntilDone,
		logger:         logger,
		polls:          map[string]int{},
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) InvokeSync(ctx context.Context, req providers.Request) (*providers.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := deterministicSeed(req.Prompt, req.System, req.Params.Model, sourceDigest(req.Source))
	if req.Params.Output == providers.OutputText {
		p.logger.Debug().Str("seed", seed).Msg("synthetic: text rendered")
		return &providers.Output{Text: renderText(seed, req.Prompt)}, nil
	}
	width, height := dimensions(req.Params.AspectRatio)
	data, err := renderImage(width, height, seed)
	if err != nil {
		return nil, &providers.Error{Provider: providerName, Message: "render image", Err: err}
	}
	p.logger.Debug().Str("seed", seed).Int("bytes", len(data)).Msg("synthetic: image rendered")
	return &providers.Output{Image: &providers.Asset{
		Data:     data,
		MIMEType: "image/png",
		Filename: seed + ".png",
	}}, nil
}

func (p *Provider) InvokeAsync(ctx context.Context, req providers.Request) (providers.Handle, error) {
	if err := ctx.Err(); err != nil {
		return providers.Handle{}, err
	}
	id := "syn-" + deterministicSeed(req.Prompt, req.Params.RequestID, sourceDigest(req.Source))
	p.mu.Lock()
	p.polls[id] = 0
	p.mu.Unlock()
	return providers.Handle{Provider: providerName, ExternalID: id, Status: "submitted"}, nil
}

func (p *Provider) PollAsync(ctx context.Context, handle providers.Handle) (providers.PollResult, error) {
	if err := ctx.Err(); err != nil {
		return providers.PollResult{}, err
	}
	if handle.ExternalID == "" {
		return providers.PollResult{}, fmt.Errorf("synthetic: empty task id")
	}
	p.mu.Lock()
	seen := p.polls[handle.ExternalID]
	p.polls[handle.ExternalID] = seen + 1
	p.mu.Unlock()

	if seen < p.pollsUntilDone {
		return providers.PollResult{Phase: providers.PhaseProcessing, RawStatus: "processing"}, nil
	}
	return providers.PollResult{
		Phase:     providers.PhaseSucceeded,
		RawStatus: "succeed",
		ResultURL: p.resultBaseURL + "/" + handle.ExternalID + ".mp4",
	}, nil
}

func renderText(seed, prompt string) string {
	words := strings.Fields(prompt)
	if len(words) > 12 {
		words = words[:12]
	}
	return fmt.Sprintf("Synthetic description %s. %s", seed[:8], strings.Join(words, " "))
}

func renderImage(width, height int, seed string) ([]byte, error) {
	img := imaging.New(width, height, colorFromSeed(seed, 0))
	stripeHeight := max(32, height/12)
	stripe := imaging.New(width, stripeHeight, colorFromSeed(seed, 1))
	for y := 0; y < height; y += stripeHeight * 2 {
		img = imaging.Paste(img, stripe, image.Pt(0, y))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dimensions(aspect string) (int, int) {
	switch strings.TrimSpace(aspect) {
	case "16:9":
		return 640, 360
	case "9:16":
		return 360, 640
	case "3:4":
		return 480, 640
	default:
		return 512, 512
	}
}

func colorFromSeed(seed string, shift int) color.RGBA {
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func sourceDigest(src *providers.Asset) string {
	if src == nil {
		return ""
	}
	sum := sha256.Sum256(src.Data)
	return hex.EncodeToString(sum[:8])
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

var (
	_ providers.SyncProvider  = (*Provider)(nil)
	_ providers.AsyncProvider = (*Provider)(nil)
)
