package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/provider"
)

// upstream is the provider surface the worker needs.
type upstream interface {
	provider.Completer
	provider.Streamer
}

// Config tunes queue depth, pacing, and the retry policy.
type Config struct {
	Depth             int
	QueueTimeout      time.Duration // absolute queue-residency budget
	InterRequestDelay time.Duration // pacing between dequeues
	AttemptTimeout    time.Duration // per-attempt provider call timeout
	MaxRetries        int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

// Request is one unit of provider work.
type Request struct {
	Prompt      string
	UserMessage string // drives fallback template selection
	Params      provider.Params
	// OnDelta, when set, requests streamed delivery. Chunks arrive in
	// order from the worker goroutine.
	OnDelta func(chunk string)
}

// Outcome is the result of queued work. Failover marks deterministic
// fallback text produced after retries were exhausted.
type Outcome struct {
	Text     string
	Failover bool
}

type item struct {
	req      Request
	enqueued time.Time
	result   chan submitResult

	// ctx is canceled when the submitter gives up; the worker derives
	// its attempt contexts from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	abandoned bool
}

// deliverDelta forwards a chunk unless the submitter already gave up.
// The lock orders delivery strictly against abandon: once abandon
// returns, no further chunk reaches the caller's writer.
func (it *item) deliverDelta(chunk string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.abandoned || it.req.OnDelta == nil {
		return
	}
	it.req.OnDelta(chunk)
}

func (it *item) abandon() {
	it.mu.Lock()
	it.abandoned = true
	it.mu.Unlock()
	it.cancel()
}

type submitResult struct {
	out Outcome
	err error
}

// Queue serializes provider calls through a single worker: at most one
// upstream call is in flight system-wide, in strict FIFO order.
type Queue struct {
	up  upstream
	ch  chan *item
	cfg Config
	log zerolog.Logger
}

func NewQueue(up upstream, cfg Config, log zerolog.Logger) *Queue {
	if cfg.Depth <= 0 {
		cfg.Depth = 64
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Queue{
		up:  up,
		ch:  make(chan *item, cfg.Depth),
		cfg: cfg,
		log: log,
	}
}

// Start runs the single worker until ctx is canceled.
func (q *Queue) Start(ctx context.Context) {
	q.log.Info().Int("depth", q.cfg.Depth).Dur("pacing", q.cfg.InterRequestDelay).Msg("request queue worker starting")
	for {
		select {
		case <-ctx.Done():
			q.log.Info().Msg("request queue worker stopping")
			return
		case it := <-q.ch:
			q.serve(ctx, it)
			if q.cfg.InterRequestDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(q.cfg.InterRequestDelay):
				}
			}
		}
	}
}

// Submit enqueues work and blocks until an outcome, the residency budget,
// or ctx expires. A full queue counts against the residency budget too.
func (q *Queue) Submit(ctx context.Context, req Request) (Outcome, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	it := &item{
		req:      req,
		enqueued: time.Now(),
		result:   make(chan submitResult, 1),
		ctx:      callCtx,
		cancel:   cancel,
	}

	timer := time.NewTimer(q.cfg.QueueTimeout)
	defer timer.Stop()

	select {
	case q.ch <- it:
	case <-timer.C:
		it.abandon()
		return Outcome{}, model.ErrQueueTimeout
	case <-ctx.Done():
		it.abandon()
		return Outcome{}, ctx.Err()
	}

	select {
	case r := <-it.result:
		return r.out, r.err
	case <-timer.C:
		it.abandon()
		return Outcome{}, model.ErrQueueTimeout
	case <-ctx.Done():
		it.abandon()
		return Outcome{}, ctx.Err()
	}
}

// Complete satisfies provider.Completer by routing the call through the
// queue, so auxiliary provider work (history summarization) shares the
// single-in-flight guarantee with chat traffic.
func (q *Queue) Complete(ctx context.Context, promptText string, p provider.Params) (string, error) {
	out, err := q.Submit(ctx, Request{Prompt: promptText, Params: p})
	if err != nil {
		return "", err
	}
	if out.Failover {
		return "", fmt.Errorf("queued completion: %w", model.ErrUpstreamUnavailable)
	}
	return out.Text, nil
}

// serve runs one item through the retry loop and delivers its outcome.
// The result channel is buffered, so delivery never blocks on a caller
// that already gave up.
func (q *Queue) serve(ctx context.Context, it *item) {
	// Abandoned or stale work is dropped before the provider is touched.
	if it.ctx.Err() != nil {
		return
	}
	if time.Since(it.enqueued) > q.cfg.QueueTimeout {
		it.result <- submitResult{err: model.ErrQueueTimeout}
		return
	}

	text, err := q.callWithRetry(ctx, it)
	if err != nil {
		if it.ctx.Err() != nil {
			// Submitter gave up mid-attempt; nobody is listening.
			return
		}
		q.log.Warn().Err(err).Msg("provider attempts exhausted, synthesizing fallback")
		it.result <- submitResult{out: Outcome{Text: Fallback(it.req.UserMessage), Failover: true}}
		return
	}
	it.result <- submitResult{out: Outcome{Text: text}}
}

// callWithRetry applies the per-attempt policy: exponential backoff with
// jitter for quota-shaped failures, a single fixed-delay retry for
// anything else.
func (q *Queue) callWithRetry(ctx context.Context, it *item) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.RetryInitialDelay
	bo.MaxInterval = q.cfg.RetryMaxDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	transientRetried := false
	for attempt := 0; attempt < q.cfg.MaxRetries; attempt++ {
		text, err := q.callOnce(it)
		if err == nil {
			return text, nil
		}
		lastErr = err

		// No delay after the final attempt; the outcome is already
		// decided.
		if attempt == q.cfg.MaxRetries-1 {
			break
		}

		var delay time.Duration
		switch {
		case errors.Is(err, model.ErrUpstreamQuota):
			delay = bo.NextBackOff()
		case transientRetried:
			return "", lastErr
		default:
			transientRetried = true
			delay = q.cfg.RetryInitialDelay
		}

		q.log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("provider attempt failed")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-it.ctx.Done():
			return "", it.ctx.Err()
		case <-time.After(delay):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no attempts made: %w", model.ErrUpstreamUnavailable)
	}
	return "", lastErr
}

func (q *Queue) callOnce(it *item) (string, error) {
	actx := it.ctx
	if q.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, q.cfg.AttemptTimeout)
		defer cancel()
	}
	if it.req.OnDelta != nil {
		return q.up.Stream(actx, it.req.Prompt, it.req.Params, it.deliverDelta)
	}
	return q.up.Complete(actx, it.req.Prompt, it.req.Params)
}
