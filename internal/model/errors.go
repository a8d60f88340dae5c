package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrRateLimited is returned by local admission control; callers are
	// never queued behind it.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrQueueTimeout means a request exceeded its queue-residency budget
	// before the worker could start it.
	ErrQueueTimeout = errors.New("queue timeout")

	// ErrUpstreamQuota is a quota or rate-limit shaped provider failure,
	// retried with exponential backoff.
	ErrUpstreamQuota = errors.New("upstream quota exceeded")

	// ErrUpstreamUnavailable is any other transient provider failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
