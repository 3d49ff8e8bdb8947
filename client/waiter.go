package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/richinsley/comfyjob/graphapi"
)

// DefaultPollInterval separates consecutive status polls.
const DefaultPollInterval = time.Second

// StatusFetcher is the part of the executor a Waiter needs.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, handle JobHandle) (*JobRecord, error)
}

// Waiter turns repeated status polls into one blocking call. It keeps no
// per-call state, so one Waiter may serve any number of concurrent Awaits.
type Waiter struct {
	fetcher         StatusFetcher
	clock           clock.Clock
	newBackoff      func() backoff.BackOff
	unknownJobLimit int
}

type WaiterOption func(*Waiter)

// WithClock sets the time source used for the deadline and the poll interval.
func WithClock(c clock.Clock) WaiterOption {
	return func(w *Waiter) {
		w.clock = c
	}
}

// WithPollInterval polls at a fixed interval.
func WithPollInterval(d time.Duration) WaiterOption {
	return func(w *Waiter) {
		w.newBackoff = func() backoff.BackOff {
			return backoff.NewConstantBackOff(d)
		}
	}
}

// WithBackoff supplies the wait between polls. factory is called once per
// Await so that backoff state is never shared between jobs. A backoff that
// returns backoff.Stop falls back to DefaultPollInterval.
func WithBackoff(factory func() backoff.BackOff) WaiterOption {
	return func(w *Waiter) {
		w.newBackoff = factory
	}
}

// WithUnknownJobLimit fails an Await with ErrUnknownJob once the executor has
// reported no record for the job on n consecutive polls. Zero, the default,
// waits for the full timeout instead.
func WithUnknownJobLimit(n int) WaiterOption {
	return func(w *Waiter) {
		w.unknownJobLimit = n
	}
}

// ExponentialPollBackoff doubles the poll interval from initial up to
// maxInterval. It never gives up on its own; the Await deadline does that.
func ExponentialPollBackoff(initial, maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

func NewWaiter(fetcher StatusFetcher, opts ...WaiterOption) *Waiter {
	w := &Waiter{
		fetcher: fetcher,
		clock:   clock.New(),
		newBackoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(DefaultPollInterval)
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Await polls the job until it reaches a terminal state or timeout elapses.
//
// It returns the record when the job succeeded and the graph's artifact
// writer produced at least one artifact. Otherwise the error is one of:
// a *RemoteFailureError (ErrRemoteFailure) when the executor reports failure,
// ErrProtocol when the job succeeded without the expected artifact or a poll
// returned a malformed record, ErrTimedOut when the deadline passes, or
// ctx.Err(). Transport errors from individual polls are logged and retried
// until the deadline.
func (w *Waiter) Await(ctx context.Context, handle JobHandle, graph *graphapi.Graph, timeout time.Duration) (*JobRecord, error) {
	start := w.clock.Now()
	deadline := start.Add(timeout)
	b := w.newBackoff()
	b.Reset()

	polls := 0
	absent := 0
	last := Pending
	var lastErr error
	for {
		polls++
		rec, err := w.fetcher.FetchStatus(ctx, handle)
		switch {
		case err == nil:
			lastErr = nil
			if rec.Status != last {
				slog.Info("job status changed", "job_id", handle.ID, "from", last.String(), "to", rec.Status.String())
				last = rec.Status
			}
			if done, err := w.classify(handle, graph, rec); done {
				slog.Debug("job finished", "job_id", handle.ID, "polls", polls, "elapsed", w.clock.Since(start))
				if err != nil {
					return nil, err
				}
				return rec, nil
			}
			if rec.Absent {
				absent++
				if w.unknownJobLimit > 0 && absent >= w.unknownJobLimit {
					return nil, fmt.Errorf("%w: executor has no record of job %s after %d polls", ErrUnknownJob, handle.ID, absent)
				}
			} else {
				absent = 0
			}
		case errors.Is(err, ErrTransport):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("status poll failed, will retry", "job_id", handle.ID, "error", err)
			lastErr = err
		default:
			return nil, err
		}

		now := w.clock.Now()
		if !now.Before(deadline) {
			if lastErr != nil {
				return nil, fmt.Errorf("%w: job %s still %s after %v (last poll: %v)", ErrTimedOut, handle.ID, last, timeout, lastErr)
			}
			return nil, fmt.Errorf("%w: job %s still %s after %v", ErrTimedOut, handle.ID, last, timeout)
		}

		interval := b.NextBackOff()
		if interval == backoff.Stop {
			interval = DefaultPollInterval
		}
		// the last poll lands on the deadline, not after it
		interval = min(interval, deadline.Sub(now))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.clock.After(interval):
		}
	}
}

// classify reports whether rec is terminal and, if so, the outcome.
func (w *Waiter) classify(handle JobHandle, graph *graphapi.Graph, rec *JobRecord) (bool, error) {
	switch rec.Status {
	case Succeeded:
		writer := string(graph.OutputNodeID())
		if refs, ok := rec.Outputs[writer]; !ok || len(refs) == 0 {
			return true, fmt.Errorf("%w: job %s completed without producing the expected artifact (node %s)", ErrProtocol, handle.ID, writer)
		}
		return true, nil
	case Failed:
		return true, &RemoteFailureError{JobID: handle.ID, Messages: rec.Messages}
	}
	return false, nil
}
