// FILENAME: barrier/barrier.go
package barrier

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNonPositiveParties is returned by New when parties <= 0.
	ErrNonPositiveParties = errors.New("barrier: parties must be positive")

	// ErrBroken is returned by Await when the caller's generation has been
	// broken by a cancellation, a timeout, an action failure or Reset.
	// The barrier stays broken until Reset is called.
	ErrBroken = errors.New("barrier: broken")

	// ErrTimeout is returned by AwaitTimeout when the caller's deadline
	// elapses before the round completes. The timeout is global: it breaks
	// the round for every other waiter as well.
	ErrTimeout = errors.New("barrier: await timed out")
)

// generation is the identity token for one round. Waiters pin the
// generation they arrived in and compare it by pointer against the
// barrier's current one to tell "round completed" from "round broke".
//
// release is closed exactly once, when the round trips or breaks. The
// close IS the broadcast: a closed channel is observable by waiters that
// were not yet selecting on it, so there is no missed-wakeup window.
type generation struct {
	broken  bool
	release chan struct{}
}

func newGeneration() *generation {
	return &generation{release: make(chan struct{})}
}

// CyclicBarrier is a reusable rendezvous point for a fixed number of
// concurrent parties. Each party calls Await; all of them block until the
// last one arrives, at which point the optional action runs (on the last
// arriver, before anyone is released) and every party is released
// simultaneously. The barrier then resets itself for the next round.
//
// If any party is cancelled or times out while a round is in progress,
// the round breaks for everyone: all waiters fail and the barrier rejects
// further arrivals until Reset is called.
type CyclicBarrier struct {
	mu      sync.Mutex
	parties int
	count   int // parties still required to arrive this round
	gen     *generation
	action  func() error
	logger  *zap.Logger
}

// Option configures a CyclicBarrier.
type Option func(*CyclicBarrier)

// WithAction sets a hand-off action executed exactly once per round, by
// the last arriving party, before the others are released. If the action
// returns an error, the round breaks and the error propagates to the
// tripping caller.
func WithAction(fn func() error) Option {
	return func(b *CyclicBarrier) { b.action = fn }
}

// WithLogger attaches a logger for debug-level round tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(b *CyclicBarrier) { b.logger = logger }
}

// New creates a barrier for the given number of parties.
func New(parties int, opts ...Option) (*CyclicBarrier, error) {
	if parties <= 0 {
		return nil, ErrNonPositiveParties
	}
	b := &CyclicBarrier{
		parties: parties,
		count:   parties,
		gen:     newGeneration(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Await blocks until all parties have arrived, the round breaks, or ctx
// is cancelled. It returns the caller's arrival index: parties-1 for the
// first arriver down to 0 for the last, the one that trips the barrier.
//
// Cancellation of ctx breaks the barrier for every other waiter and
// returns ctx.Err().
func (b *CyclicBarrier) Await(ctx context.Context) (int, error) {
	return b.await(ctx, nil)
}

// AwaitTimeout is Await with a caller-supplied deadline. If d elapses
// before the round completes, AwaitTimeout breaks the barrier for every
// waiter and returns ErrTimeout. A non-positive d counts as already
// elapsed.
func (b *CyclicBarrier) AwaitTimeout(ctx context.Context, d time.Duration) (int, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	return b.await(ctx, timer.C)
}

func (b *CyclicBarrier) await(ctx context.Context, deadline <-chan time.Time) (int, error) {
	b.mu.Lock()

	g := b.gen
	if g.broken {
		b.mu.Unlock()
		return 0, ErrBroken
	}

	// The caller may already be cancelled on entry.
	if err := ctx.Err(); err != nil {
		b.breakLocked()
		b.mu.Unlock()
		return 0, err
	}

	b.count--
	index := b.count

	if index == 0 {
		// Last to arrive: run the hand-off action before releasing anyone.
		if b.action != nil {
			finished := false
			defer func() {
				// A panicking action must not strand the waiters or the
				// lock: break the round, release the lock, then let the
				// panic propagate to the tripping caller.
				if !finished {
					b.breakLocked()
					b.mu.Unlock()
				}
			}()
			err := b.action()
			finished = true
			if err != nil {
				b.breakLocked()
				b.mu.Unlock()
				return 0, err
			}
		}
		b.logger.Debug("barrier tripped", zap.Int("parties", b.parties))
		b.nextGenerationLocked()
		b.mu.Unlock()
		return 0, nil
	}

	release := g.release
	b.mu.Unlock()

	// Suspension point. The generation's release channel doubles as the
	// condition broadcast; a close is level-triggered, so arriving here
	// after the broadcast still wakes immediately.
	var expired bool
	select {
	case <-release:
	case <-ctx.Done():
	case <-deadline:
		expired = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Cancellation observed after waking. Only break if the caller's
	// generation is still current and intact: breaking after the round
	// already advanced would wreck the next generation's waiters.
	if err := ctx.Err(); err != nil {
		if g == b.gen && !g.broken {
			b.breakLocked()
			return 0, err
		}
		if !g.broken {
			// Round completed before the cancellation landed.
			return index, nil
		}
		return 0, ErrBroken
	}

	if g.broken {
		return 0, ErrBroken
	}
	if g != b.gen {
		// Generation swapped: the round completed while we slept.
		return index, nil
	}

	// Still the current, unbroken generation, no cancellation: the only
	// remaining wake source is the deadline.
	if expired {
		b.breakLocked()
		return 0, ErrTimeout
	}

	// Unreachable: release closes only when the generation trips (swapped)
	// or breaks (flagged), both handled above.
	return index, nil
}

// breakLocked marks the current generation broken, wakes every waiter and
// resets the arrival count. Callers must hold b.mu.
func (b *CyclicBarrier) breakLocked() {
	if !b.gen.broken {
		b.gen.broken = true
		close(b.gen.release)
		b.logger.Debug("barrier broken", zap.Int("waiting", b.parties-b.count))
	}
	b.count = b.parties
}

// nextGenerationLocked wakes every waiter of the completed round and
// installs a fresh generation. Callers must hold b.mu.
func (b *CyclicBarrier) nextGenerationLocked() {
	if !b.gen.broken {
		close(b.gen.release)
	}
	b.count = b.parties
	b.gen = newGeneration()
}

// IsBroken reports whether the current generation is broken.
func (b *CyclicBarrier) IsBroken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen.broken
}

// Reset breaks the current round, failing any party blocked in Await with
// ErrBroken, and immediately starts a fresh generation so the barrier is
// ready for a new round.
func (b *CyclicBarrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakLocked()
	b.nextGenerationLocked()
	b.logger.Debug("barrier reset")
}

// NumberWaiting returns how many parties are currently blocked in Await.
func (b *CyclicBarrier) NumberWaiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties - b.count
}

// Parties returns the fixed number of parties. Immutable, so no lock.
func (b *CyclicBarrier) Parties() int {
	return b.parties
}
