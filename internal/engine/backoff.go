package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"market_cache/internal/domain"
)

// MaxTimerDelay is the largest delay a 32-bit signed millisecond timer holds.
const MaxTimerDelay = time.Duration(math.MaxInt32) * time.Millisecond

// ErrInFlight is returned by Job.Run when a cycle for the same job is
// already running or waiting for a retry.
var ErrInFlight = errors.New("refresh already in flight")

// Clock abstracts time for the retry loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// BackoffDelay returns min(base_ms^attempt, cap) for attempt >= 1. The cap is
// clamped to MaxTimerDelay.
func BackoffDelay(base time.Duration, attempt int, cap time.Duration) time.Duration {
	if cap <= 0 || cap > MaxTimerDelay {
		cap = MaxTimerDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	baseMS := float64(base / time.Millisecond)
	if baseMS <= 0 {
		return 0
	}
	ms := math.Pow(baseMS, float64(attempt))
	if math.IsInf(ms, 1) || ms >= float64(cap/time.Millisecond) {
		return cap
	}
	return time.Duration(ms) * time.Millisecond
}

// State is the retry state of a Job.
type State int

const (
	StateIdle      State = iota // no cycle running
	StatePending                // attempt running or waiting to retry
	StateSucceeded              // last cycle ended in success
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePending:
		return "PENDING"
	case StateSucceeded:
		return "SUCCEEDED"
	default:
		return "UNKNOWN"
	}
}

// Attempt describes one finished invocation of a Job's operation.
type Attempt struct {
	Number   int
	Started  time.Time
	Duration time.Duration
	Err      error
	Retry    time.Duration // delay before the next attempt, 0 if none
}

// Job retries one operation with exponential backoff until it succeeds.
// Runs of the same Job never overlap: a Run while another is in flight
// returns ErrInFlight immediately.
type Job struct {
	name      string
	op        func(ctx context.Context) error
	base      time.Duration
	cap       time.Duration
	clock     Clock
	onAttempt func(context.Context, Attempt)

	mu      sync.Mutex
	state   State
	attempt int
	running bool
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithClock replaces the wall clock.
func WithClock(c Clock) JobOption {
	return func(j *Job) { j.clock = c }
}

// WithAttemptHook is called after every attempt, from the Run goroutine,
// with the context passed to Run.
func WithAttemptHook(fn func(context.Context, Attempt)) JobOption {
	return func(j *Job) { j.onAttempt = fn }
}

// NewJob creates an idle job. base is the backoff base, normally the
// dataset's refresh interval.
func NewJob(name string, base, cap time.Duration, op func(ctx context.Context) error, opts ...JobOption) *Job {
	j := &Job{
		name:  name,
		op:    op,
		base:  base,
		cap:   cap,
		clock: RealClock,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Name returns the dataset name.
func (j *Job) Name() string { return j.name }

// State returns the current state and, while pending, the attempt number.
func (j *Job) State() (State, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.attempt
}

// Run drives the state machine until the operation succeeds, fails with a
// non-retriable error, or ctx is done. A partial result counts as success.
func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return ErrInFlight
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		j.transition(StatePending, attempt)

		started := j.clock.Now()
		err := j.op(ctx)
		a := Attempt{Number: attempt, Started: started, Duration: j.clock.Now().Sub(started), Err: err}

		if err == nil || domain.KindOf(err) == domain.KindPartial {
			j.transition(StateSucceeded, 0)
			j.report(ctx, a)
			return err
		}
		if ctx.Err() != nil || !domain.IsRetriable(err) {
			j.transition(StateIdle, 0)
			j.report(ctx, a)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		a.Retry = BackoffDelay(j.base, attempt, j.cap)
		j.report(ctx, a)

		select {
		case <-ctx.Done():
			j.transition(StateIdle, 0)
			return ctx.Err()
		case <-j.clock.After(a.Retry):
		}
	}
}

func (j *Job) transition(s State, attempt int) {
	j.mu.Lock()
	j.state = s
	j.attempt = attempt
	j.mu.Unlock()
}

func (j *Job) report(ctx context.Context, a Attempt) {
	if j.onAttempt != nil {
		j.onAttempt(ctx, a)
	}
}
