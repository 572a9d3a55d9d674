// ABOUTME: Background job ports shared by the asynq and inline runners
// ABOUTME: Handlers are registered per task type and instrumented with job metrics

package jobs

import (
	"context"
	"errors"

	"github.com/homedecor/support-gateway/internal/metrics"
)

// ErrUnknownTask is returned when no handler is registered for a task type
var ErrUnknownTask = errors.New("no handler registered for task type")

// Task is a unit of background work.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes one task.
type Handler func(ctx context.Context, t Task) error

// Client enqueues tasks.
type Client interface {
	Enqueue(ctx context.Context, t Task) (string, error)
	Close() error
}

// Server runs registered handlers until its context is cancelled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
}

func instrumented(taskType string, h Handler) Handler {
	return func(ctx context.Context, t Task) error {
		err := h(ctx, t)
		metrics.RecordJob(taskType, err == nil)
		return err
	}
}
