package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultProofTimeout bounds the proof wait; guardian quorums routinely
// take minutes after source-chain finality.
const DefaultProofTimeout = 25 * time.Minute

// DefaultProofPollInterval is the fixed polling cadence against the
// verification network. Fixed rather than backed off: proof readiness
// is a step function and the network tolerates one request every few
// seconds per message.
const DefaultProofPollInterval = 5 * time.Second

// ProofWaiter polls the verification network until a signed proof for a
// message becomes available or the wall-clock timeout expires.
type ProofWaiter struct {
	source   ProofSource
	interval time.Duration
	clock    Clock
	logger   *zap.SugaredLogger
}

func NewProofWaiter(source ProofSource, logger *zap.SugaredLogger) *ProofWaiter {
	return &ProofWaiter{
		source:   source,
		interval: DefaultProofPollInterval,
		clock:    SystemClock(),
		logger:   logger,
	}
}

// WithPollInterval overrides the polling cadence.
func (w *ProofWaiter) WithPollInterval(d time.Duration) *ProofWaiter {
	if d > 0 {
		w.interval = d
	}
	return w
}

// WithClock injects a clock for tests.
func (w *ProofWaiter) WithClock(c Clock) *ProofWaiter {
	if c != nil {
		w.clock = c
	}
	return w
}

// AwaitProof blocks until a proof for id exists, ctx is cancelled, or
// timeout elapses. Not-yet-ready responses and transport errors are
// both retried on the same cadence; only the deadline ends the wait.
// On timeout the error is ErrProofTimeout and id remains valid — the
// caller may re-await later with a fresh deadline.
func (w *ProofWaiter) AwaitProof(ctx context.Context, id MessageID, timeout time.Duration) (*Proof, error) {
	if timeout <= 0 {
		timeout = DefaultProofTimeout
	}
	deadline := w.clock.Now().Add(timeout)
	start := w.clock.Now()

	var polls, transportErrs int
	for {
		polls++
		proof, err := w.source.GetProof(ctx, id)
		if err == nil {
			w.logger.Infow("Proof retrieved",
				"messageId", id.String(),
				"polls", polls,
				"waited", w.clock.Now().Sub(start),
				"signatures", proof.Signatures,
			)
			return proof, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrProofNotReady) {
			transportErrs++
			w.logger.Warnw("Proof query failed; will retry",
				"messageId", id.String(),
				"error", err,
			)
		}

		if !w.clock.Now().Add(w.interval).Before(deadline) {
			return nil, fmt.Errorf("%w: message %s after %d polls (%d transport errors)",
				ErrProofTimeout, id, polls, transportErrs)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.clock.After(w.interval):
		}
	}
}
