package application

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
	"go.uber.org/zap"
)

type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeCancelled
	OutcomeFailed
)

// Outcome is the result of one watch session.
type Outcome struct {
	Kind   OutcomeKind
	Status domain.Status
	State  domain.State
	Err    error
}

// ExitCode maps the outcome onto the process exit code: 0 for a successful
// pipeline, 1 for any failed/stopped/errored one, 2 for fatal errors on our
// side, 130 for interruption.
func (o Outcome) ExitCode() int {
	switch o.Kind {
	case OutcomeCancelled:
		return 130
	case OutcomeFailed:
		return 2
	}
	if o.Status == domain.StatusSuccessful {
		return 0
	}
	return 1
}

// Engine polls one pipeline at a fixed interval until it reaches a terminal
// status. It is the sole writer of the pipeline state and never has more
// than one fetch in flight.
type Engine struct {
	log      *zap.Logger
	client   domain.PipelineClient
	interval time.Duration

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxElapsed     time.Duration
	maxFailures    int

	paused func() bool
	now    func() time.Time
}

func NewEngine(log *zap.Logger, client domain.PipelineClient, interval time.Duration) *Engine {
	return &Engine{
		log:            log,
		client:         client,
		interval:       interval,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     10 * time.Second,
		maxElapsed:     30 * time.Second,
		maxFailures:    5,
		now:            time.Now,
	}
}

// PauseWhen installs a predicate checked before each fetch; while it reports
// true the engine skips the poll and just sleeps again.
func (e *Engine) PauseWhen(f func() bool) { e.paused = f }

// Run drives the fetch→merge→render loop. The sleep is the only suspension
// point; ctx cancellation aborts it (and any in-flight fetch) promptly.
func (e *Engine) Run(ctx context.Context, id domain.Identifier, r domain.Renderer) Outcome {
	snap, err := e.initialFetch(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeCancelled}
		}
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	state := domain.NewState(snap, e.now())
	r.Render(state)

	finish := func(o Outcome) Outcome {
		o.State = state
		r.Finish(state)
		return o
	}

	if state.Terminal {
		return finish(Outcome{Kind: OutcomeCompleted, Status: state.Snapshot.Status})
	}

	bo := e.newBackoff()
	failures := 0

	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(Outcome{Kind: OutcomeCancelled})
		case <-timer.C:
		}

		if e.paused != nil && e.paused() {
			timer.Reset(e.interval)
			continue
		}

		snap, err := e.client.GetPipeline(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return finish(Outcome{Kind: OutcomeCancelled})
			}
			if !domain.Retryable(err) {
				e.log.Warn("fatal poll error", zap.Error(err))
				return finish(Outcome{Kind: OutcomeFailed, Err: err})
			}

			failures++
			state = state.WithError(err)
			r.Render(state)

			if failures >= e.maxFailures {
				return finish(Outcome{
					Kind: OutcomeFailed,
					Err:  fmt.Errorf("giving up after %d consecutive poll failures: %w", failures, err),
				})
			}

			delay := domain.RetryAfter(err)
			if delay <= 0 {
				delay = bo.NextBackOff()
				if delay == backoff.Stop {
					return finish(Outcome{Kind: OutcomeFailed, Err: err})
				}
			}
			e.log.Warn("poll failed",
				zap.Int("consecutive_failures", failures),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
			timer.Reset(delay)
			continue
		}

		failures = 0
		bo.Reset()

		state = domain.Merge(state, snap)
		state.Polls++
		r.Render(state)

		if state.Terminal {
			return finish(Outcome{Kind: OutcomeCompleted, Status: state.Snapshot.Status})
		}

		timer.Reset(e.interval)
	}
}

// initialFetch retries transient failures before the first frame is ever
// rendered; fatal classes surface immediately.
func (e *Engine) initialFetch(ctx context.Context, id domain.Identifier) (domain.Snapshot, error) {
	var out domain.Snapshot

	op := func() error {
		snap, err := e.client.GetPipeline(ctx, id)
		if err != nil {
			if !domain.Retryable(err) {
				return backoff.Permanent(err)
			}
			if ra := domain.RetryAfter(err); ra > 0 {
				select {
				case <-time.After(ra):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return err
		}
		out = snap
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(e.newBackoff(), ctx)); err != nil {
		return domain.Snapshot{}, err
	}
	return out, nil
}

func (e *Engine) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialBackoff
	bo.MaxInterval = e.maxBackoff
	bo.MaxElapsedTime = e.maxElapsed
	return bo
}
