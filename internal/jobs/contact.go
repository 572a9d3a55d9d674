// ABOUTME: The email:contact_admin task and its handler
// ABOUTME: Malformed payloads are marked SkipRetry so asynq archives them instead of retrying

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/homedecor/support-gateway/internal/mail"
)

// TaskContactAdmin notifies the shop admin about a contact form submission.
const TaskContactAdmin = "email:contact_admin"

// NewContactAdminTask encodes a contact form as a task.
func NewContactAdminTask(form mail.ContactForm) (Task, error) {
	payload, err := json.Marshal(form)
	if err != nil {
		return Task{}, err
	}
	return Task{Type: TaskContactAdmin, Payload: payload}, nil
}

// ContactAdminHandler renders the contact notification and mails it to adminEmail.
func ContactAdminHandler(mailer mail.Mailer, adminEmail string, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs", "task", TaskContactAdmin)

	return func(ctx context.Context, t Task) error {
		var form mail.ContactForm
		if err := json.Unmarshal(t.Payload, &form); err != nil {
			return fmt.Errorf("decoding payload: %w: %w", err, asynq.SkipRetry)
		}

		email, err := mail.RenderContactAdmin(form)
		if err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		email.To = []string{adminEmail}

		if err := mailer.Send(ctx, email); err != nil {
			return fmt.Errorf("sending contact email: %w", err)
		}
		logger.Info("contact request forwarded", "reply_to", form.Email)
		return nil
	}
}
