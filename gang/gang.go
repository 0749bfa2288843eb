// FILENAME: gang/gang.go

// Package gang runs a fixed set of workers through lockstep rounds. All
// workers rendezvous on a shared cyclic barrier at the top of each round
// and are released simultaneously, so every worker executes round k's
// task inside the same window.
package gang

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lockstep/barrier"
	"github.com/xkilldash9x/lockstep/internal/config"
	"github.com/xkilldash9x/lockstep/registry"
)

// Task is the unit of work executed by every worker each round.
type Task func(ctx context.Context, worker, round int) error

// Plan describes a run. Zero values fall back to the package defaults.
type Plan struct {
	Workers      int
	Rounds       int
	RoundTimeout time.Duration

	// PreciseRelease holds workers behind a spin gate after each round's
	// rendezvous and fires them together with OS threads locked, trading
	// CPU for minimal release jitter.
	PreciseRelease bool
}

func (p Plan) withDefaults() Plan {
	if p.Workers <= 0 {
		p.Workers = config.DefaultConcurrency
	}
	if p.Rounds <= 0 {
		p.Rounds = config.DefaultRounds
	}
	if p.RoundTimeout <= 0 {
		p.RoundTimeout = config.RoundTimeout
	}
	return p
}

// Result is the outcome of one worker's execution of one round.
type Result struct {
	Worker   int
	Round    int
	Index    int // arrival index at the round's barrier
	Duration time.Duration
	Err      error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("[w%02d r%02d] ERR: %v", r.Worker, r.Round, r.Err)
	}
	return fmt.Sprintf("[w%02d r%02d] idx=%d | %v", r.Worker, r.Round, r.Index, r.Duration)
}

// Runner coordinates gang runs.
type Runner struct {
	Logger *zap.Logger
}

// NewRunner creates a runner with the provided logger.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Logger: logger}
}

// Run executes plan.Rounds lockstep rounds of task across plan.Workers
// workers. The returned slice holds one Result per worker per round,
// indexed round-major: results[round*workers+worker]. A worker that fails
// a barrier rendezvous (cancellation, timeout, broken round) records the
// error for that round and stops; its later slots stay zero-valued. Task
// errors are recorded per slot and do not break the gang.
func (r *Runner) Run(ctx context.Context, plan Plan, task Task) ([]Result, error) {
	plan = plan.withDefaults()
	start := time.Now()

	// One barrier is reused across every round. The action runs on the
	// last arriver of each round, before anyone is released.
	roster := registry.New[int, struct{}]()
	round := 0
	bar, err := barrier.New(plan.Workers,
		barrier.WithLogger(r.Logger),
		barrier.WithAction(func() error {
			r.Logger.Debug("round sealed",
				zap.Int("round", round),
				zap.Int("live_workers", roster.Len()))
			round++
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("barrier init error: %w", err)
	}

	r.Logger.Info("Starting gang run",
		zap.Int("workers", plan.Workers),
		zap.Int("rounds", plan.Rounds),
		zap.Bool("precise_release", plan.PreciseRelease))

	// One gate per round when the plan asks for precise release; the
	// runner fires each gate once every worker is lined up behind it.
	var gates []*barrier.SpinBarrier
	if plan.PreciseRelease {
		gates = make([]*barrier.SpinBarrier, plan.Rounds)
		for k := range gates {
			gates[k] = barrier.NewSpinBarrier(plan.Workers)
		}
	}

	results := make([]Result, plan.Workers*plan.Rounds)

	var wg sync.WaitGroup
	var readyWg sync.WaitGroup

	for w := 0; w < plan.Workers; w++ {
		wg.Add(1)
		readyWg.Add(1)

		go func(worker int) {
			defer wg.Done()

			roster.Attach(worker, struct{}{})
			defer roster.Detach(worker)

			readyWg.Done() // Signal ready

			for k := 0; k < plan.Rounds; k++ {
				slot := &results[k*plan.Workers+worker]
				slot.Worker = worker
				slot.Round = k

				idx, err := bar.AwaitTimeout(ctx, plan.RoundTimeout)
				if err != nil {
					slot.Err = err
					return
				}
				slot.Index = idx

				if plan.PreciseRelease {
					// Pin the OS thread for the fire window, then spin at
					// the round's gate until the runner drops it.
					runtime.LockOSThread()
					if err := gates[k].Await(ctx); err != nil {
						runtime.UnlockOSThread()
						slot.Err = err
						return
					}
				}

				taskStart := time.Now()
				slot.Err = task(ctx, worker, k)
				slot.Duration = time.Since(taskStart)

				if plan.PreciseRelease {
					runtime.UnlockOSThread()
				}
			}
		}(w)
	}

	// Wait for all workers to reach the start line before timing anything.
	readyWg.Wait()

	if plan.PreciseRelease {
		// Fire each round's gate in turn. A round whose workers never
		// line up (broken rendezvous, cancellation) ends the run, so the
		// wait is tied to the workers draining rather than ctx alone.
		fireCtx, stopFiring := context.WithCancel(ctx)
		go func() {
			wg.Wait()
			stopFiring()
		}()
		for k, gate := range gates {
			if err := gate.WaitReady(fireCtx); err != nil {
				r.Logger.Debug("gate abandoned", zap.Int("round", k))
				break
			}
			gate.Release()
		}
		stopFiring()
	}

	wg.Wait()

	r.Logger.Info("Gang run complete",
		zap.Int("rounds_completed", round),
		zap.Duration("total_duration", time.Since(start)))
	return results, nil
}
