// FILENAME: barrier/spin.go
package barrier

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/xkilldash9x/lockstep/internal/config"
)

// SpinBarrier is a one-shot, busy-waiting release gate. Unlike
// CyclicBarrier it does not self-trip: an external coordinator waits for
// all participants to line up (WaitReady) and then drops the gate
// (Release), which keeps release jitter minimal because no scheduler
// wakeup sits between the signal and the released goroutines. The gang
// runner uses one gate per round when a plan asks for precise release.
type SpinBarrier struct {
	target   int32
	arrivals atomic.Int32
	released atomic.Bool
	ready    chan struct{}
}

// NewSpinBarrier creates a gate for the given number of participants.
func NewSpinBarrier(participants int) *SpinBarrier {
	return &SpinBarrier{
		target: int32(participants),
		ready:  make(chan struct{}),
	}
}

// Await registers the caller and spins until the gate is released. The
// caller should lock its OS thread first if it needs tight timing.
func (b *SpinBarrier) Await(ctx context.Context) error {
	// 1. Register arrival
	if b.arrivals.Add(1) == b.target {
		// 2. Last to line up: tell the coordinator everyone is set
		close(b.ready)
	}

	// 3. Spin, with a periodic safety check so a dead coordinator cannot
	// strand us.
	spin := 0
	for !b.released.Load() {
		spin++
		if spin&config.SpinBarrierCheck == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			runtime.Gosched()
		}
	}
	return nil
}

// WaitReady blocks until every participant has called Await.
func (b *SpinBarrier) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release drops the gate, letting all spinning participants proceed at
// once.
func (b *SpinBarrier) Release() {
	b.released.Store(true)
}
