// Package providers normalizes calls to external generation backends behind
// one synchronous and one asynchronous contract.
package providers

import (
	"context"
)

// OutputKind selects what a synchronous call produces.
type OutputKind string

const (
	OutputImage OutputKind = "image"
	OutputText  OutputKind = "text"
)

// Asset is binary input or output with its content type.
type Asset struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Params carries per-call provider settings.
type Params struct {
	Output      OutputKind
	Model       string
	Size        string
	AspectRatio string
	Duration    int
	RequestID   string
}

// Request is the normalized input for a provider call.
type Request struct {
	Source *Asset
	Prompt string
	System string
	Params Params
}

// Output is a synchronous result. Exactly one of Image and Text is set.
type Output struct {
	Image *Asset
	Text  string
}

// Phase is the provider-reported state of an async task.
type Phase string

const (
	PhaseProcessing Phase = "processing"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// Handle references a task owned by an async provider.
type Handle struct {
	Provider   string
	ExternalID string
	Status     string
}

// PollResult is the outcome of one poll of an async task.
type PollResult struct {
	Phase        Phase
	RawStatus    string
	ResultURL    string
	ErrorMessage string
}

// SyncProvider returns results within the call.
type SyncProvider interface {
	Name() string
	InvokeSync(ctx context.Context, req Request) (*Output, error)
}

// AsyncProvider accepts work and reports results through polling.
type AsyncProvider interface {
	Name() string
	InvokeAsync(ctx context.Context, req Request) (Handle, error)
	PollAsync(ctx context.Context, handle Handle) (PollResult, error)
}
