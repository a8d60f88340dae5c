// Package provider defines the generative-text provider boundary.
package provider

import "context"

// Params are per-call generation parameters.
type Params struct {
	Temperature float64
	TopP        float64
}

// Completer is the single-shot completion surface used by the request queue
// and the history compactor.
type Completer interface {
	Complete(ctx context.Context, prompt string, p Params) (string, error)
}

// Streamer delivers a completion incrementally. onDelta is invoked once per
// chunk in arrival order; the full assembled text is returned after the
// completion signal.
type Streamer interface {
	Stream(ctx context.Context, prompt string, p Params, onDelta func(chunk string)) (string, error)
}

// Provider is the full upstream surface.
type Provider interface {
	Completer
	Streamer
	HealthPing(ctx context.Context) error
}
