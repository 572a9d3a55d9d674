// ABOUTME: In-process job runner used when no redis is configured
// ABOUTME: Enqueue runs the registered handler on a goroutine; Close waits for running jobs

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Inline implements both Client and Server without a broker.
type Inline struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
	wg       sync.WaitGroup
	logger   *slog.Logger
}

var (
	_ Client = (*Inline)(nil)
	_ Server = (*Inline)(nil)
)

// NewInline creates an inline runner. Pass nil logger for default.
func NewInline(logger *slog.Logger) *Inline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inline{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "jobs"),
	}
}

// Register binds a handler to a task type.
func (i *Inline) Register(taskType string, h Handler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[taskType] = instrumented(taskType, h)
}

// Enqueue starts the task's handler in the background. The job outlives the
// caller's context but keeps its values.
func (i *Inline) Enqueue(ctx context.Context, t Task) (string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return "", errors.New("inline jobs: closed")
	}
	h, ok := i.handlers[t.Type]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, t.Type)
	}

	id := uuid.New().String()
	jobCtx := context.WithoutCancel(ctx)
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if err := h(jobCtx, t); err != nil {
			i.logger.Error("job failed", "id", id, "type", t.Type, "error", err)
			return
		}
		i.logger.Debug("job done", "id", id, "type", t.Type)
	}()
	return id, nil
}

// Run blocks until ctx is cancelled, then waits for running jobs.
func (i *Inline) Run(ctx context.Context) error {
	<-ctx.Done()
	return i.Close()
}

// Close rejects new jobs and waits for running ones.
func (i *Inline) Close() error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	i.wg.Wait()
	return nil
}
