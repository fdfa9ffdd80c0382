// Package executor runs a single step invocation under a retry and timeout
// policy and records every attempt.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the terminal state of one attempt.
type Status string

const (
	Succeeded Status = "SUCCEEDED"
	Failed    Status = "FAILED"
	TimedOut  Status = "TIMED_OUT"
)

// Policy bounds an invocation.
type Policy struct {
	Attempts int           // total attempts, at least 1
	Delay    time.Duration // wait between attempts
	Timeout  time.Duration // per attempt; zero means no bound
}

// Func performs one attempt. A non-nil error fails the attempt; the output is
// kept either way.
type Func func(ctx context.Context) (any, error)

// Attempt records one try.
type Attempt struct {
	Number  int           `json:"number"`
	Status  Status        `json:"status"`
	Output  any           `json:"output,omitempty"`
	Error   string        `json:"error,omitempty"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`

	err error
}

// Err returns the attempt's error value.
func (a Attempt) Err() error { return a.err }

// Result is the last attempt's outcome plus the full attempt trace.
type Result struct {
	Status   Status
	Output   any
	Err      error
	Attempts []Attempt
	Elapsed  time.Duration
}

// TimeoutError reports an attempt cut off by its deadline.
type TimeoutError struct {
	Timeout time.Duration
	Run     bool // the run deadline expired rather than the attempt's own
}

func (e *TimeoutError) Error() string {
	if e.Run {
		return "timed out: run deadline exceeded"
	}
	return fmt.Sprintf("timed out after %s", e.Timeout)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Option customises Run.
type Option func(*runner)

// WithObserver calls fn after every attempt.
func WithObserver(fn func(Attempt)) Option {
	return func(r *runner) { r.observe = fn }
}

// WithSleep replaces the delay function. Used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *runner) { r.sleep = fn }
}

type runner struct {
	observe func(Attempt)
	sleep   func(ctx context.Context, d time.Duration) error
}

// Run executes fn under p. It stops on the first success, on a permanent
// error, when attempts are exhausted or when ctx is done.
func Run(ctx context.Context, p Policy, fn Func, opts ...Option) *Result {
	r := &runner{sleep: sleepCtx}
	for _, o := range opts {
		o(r)
	}
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	start := time.Now()
	res := &Result{}
	for n := 1; n <= p.Attempts; n++ {
		if n > 1 && p.Delay > 0 {
			if err := r.sleep(ctx, p.Delay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		a := attempt(ctx, n, p.Timeout, fn)
		res.Attempts = append(res.Attempts, a)
		if r.observe != nil {
			r.observe(a)
		}
		if a.Status == Succeeded || IsPermanent(a.err) {
			break
		}
	}

	if len(res.Attempts) == 0 {
		// the context ended before anything ran
		res.Status = Failed
		res.Err = ctxError(ctx, p.Timeout)
		if _, ok := res.Err.(*TimeoutError); ok {
			res.Status = TimedOut
		}
	} else {
		last := res.Attempts[len(res.Attempts)-1]
		res.Status, res.Output, res.Err = last.Status, last.Output, last.err
	}
	res.Elapsed = time.Since(start)
	return res
}

func attempt(ctx context.Context, n int, timeout time.Duration, fn Func) Attempt {
	a := Attempt{Number: n, Started: time.Now()}

	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := fn(actx)
		done <- outcome{out, err}
	}()

	// a capability that ignores ctx is abandoned once the deadline passes
	select {
	case o := <-done:
		a.Output, a.err = o.out, o.err
		if a.err != nil && actx.Err() != nil && errors.Is(a.err, actx.Err()) {
			a.err = ctxError(ctx, timeout)
		}
	case <-actx.Done():
		a.err = ctxError(ctx, timeout)
	}
	a.Elapsed = time.Since(a.Started)

	var te *TimeoutError
	switch {
	case a.err == nil:
		a.Status = Succeeded
	case errors.As(a.err, &te):
		a.Status = TimedOut
	default:
		a.Status = Failed
	}
	if a.err != nil {
		a.Error = a.err.Error()
	}
	return a
}

// ctxError explains why a context ended. An expired parent means the run
// deadline passed; otherwise the attempt's own timeout fired.
func ctxError(parent context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Timeout: timeout, Run: true}
		}
		return err
	}
	return &TimeoutError{Timeout: timeout}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
