// Package taskrunner runs background work that must finish before the process exits.
package taskrunner

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/noah-isme/assessment-api/pkg/taskrunner")

// ErrShutdownTimeout is returned when running tasks outlive the shutdown context.
var ErrShutdownTimeout = errors.New("background tasks did not finish in time")

// Runner tracks goroutines started with Run so Shutdown can wait for them.
type Runner struct {
	running sync.WaitGroup
}

// New constructs a runner.
func New() *Runner {
	return &Runner{}
}

// Run invokes fn on a new goroutine. fn receives a context detached from the caller's
// cancellation, since the request that scheduled it has usually returned already.
func (r *Runner) Run(ctx context.Context, fn func(context.Context)) {
	r.running.Add(1)
	go func() {
		defer r.running.Done()

		ctx, span := tracer.Start(context.WithoutCancel(ctx), "taskrunner.Run")
		defer span.End()

		fn(ctx)
		span.SetStatus(codes.Ok, "ran task")
	}()
}

// Shutdown waits for running tasks or for ctx to be done, whichever comes first.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ErrShutdownTimeout
	case <-done:
		return nil
	}
}
