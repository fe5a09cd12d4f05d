package acquisition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ContextLocker is a lock that can be given up on while waiting for it
type ContextLocker interface {
	LockContext(ctx context.Context) error
	Unlock()
}

// errStopped ends the loop when the runner is stopped while waiting for its lock
var errStopped = errors.New("continuous acquisition stopped")

// Runner acquires continuously while enabled.  The enable flag is checked
// before every cycle; Stop keeps the next cycle from starting but does not
// interrupt one that is underway.
type Runner struct {
	Pipeline *Pipeline
	Source   Spectrometer

	// Sink, if not nil, receives every good result
	Sink Sink

	// Options, if not nil, is called at the start of each cycle
	Options func() Options

	// Lock, if not nil, is held for the duration of each cycle.  The loop
	// stops waiting for it when the runner is stopped.
	Lock ContextLocker

	// Interval is the minimum time between the start of two cycles
	Interval time.Duration

	Logger zerolog.Logger

	enabled atomic.Bool

	mu     sync.Mutex
	latest *Result
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner returns a Runner that is not started
func NewRunner(p *Pipeline, src Spectrometer, interval time.Duration) *Runner {
	return &Runner{Pipeline: p, Source: src, Interval: interval, Logger: p.Logger}
}

// Start begins continuous acquisition.  It is a no-op if already running.
// Cancelling ctx has the same effect as Stop.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled.Load() {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.enabled.Store(true)
	go r.loop(ctx, r.done)
}

// Stop ends continuous acquisition and waits for an in-flight cycle to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	r.enabled.Store(false)
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running returns true if continuous acquisition is enabled
func (r *Runner) Running() bool {
	return r.enabled.Load()
}

// Latest returns the most recent good result, and false if there is none yet
func (r *Runner) Latest() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Result{}, false
	}
	return *r.latest, true
}

// Publish makes res the latest result and passes it to the Sink.  A Sink
// error is logged and otherwise ignored.
func (r *Runner) Publish(res Result) {
	r.mu.Lock()
	r.latest = &res
	r.mu.Unlock()
	if r.Sink != nil {
		if err := r.Sink.Accept(res); err != nil {
			r.Logger.Error().Err(err).Msg("sink rejected result")
		}
	}
}

// Cycle performs one acquisition and publishes it.  A failed cycle leaves the
// latest result in place.
func (r *Runner) Cycle() error {
	return r.cycle(context.Background(), false)
}

// cycle is Cycle.  When gated, it returns errStopped without acquiring if ctx
// ends while waiting for the lock or the runner was disabled meanwhile.
func (r *Runner) cycle(ctx context.Context, gated bool) error {
	if r.Lock != nil {
		if err := r.Lock.LockContext(ctx); err != nil {
			return errStopped
		}
		defer r.Lock.Unlock()
	}
	if gated && (!r.enabled.Load() || ctx.Err() != nil) {
		return errStopped
	}
	o := Options{}
	if r.Options != nil {
		o = r.Options()
	}
	res, err := r.Pipeline.Acquire(r.Source, o)
	if err != nil {
		r.Logger.Error().Err(err).Msg("continuous acquisition cycle failed")
		return err
	}
	r.Publish(res)
	return nil
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	limit := rate.Inf
	if r.Interval > 0 {
		limit = rate.Every(r.Interval)
	}
	lim := rate.NewLimiter(limit, 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			break
		}
		if !r.enabled.Load() {
			break
		}
		err := r.cycle(ctx, true)
		if errors.Is(err, errStopped) {
			break
		}
		// any other failure was logged by cycle; keep the previous result and go on
	}
	r.mu.Lock()
	if r.done == done {
		r.enabled.Store(false)
	}
	r.mu.Unlock()
	r.Logger.Info().Msg("continuous acquisition stopped")
}
