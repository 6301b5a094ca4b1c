// Package delivery coordinates the final stage of a due-diligence run:
// rendering the combined report document and optionally emailing it. The
// document is mandatory; notification is best-effort and its failure never
// propagates as an error.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/diligence-api/internal/artifact"
	"github.com/phrazzld/diligence-api/internal/notify"
)

// Renderer produces the combined report document from a task's persisted
// artifacts and returns its filename within the task's artifact directory.
type Renderer interface {
	Render(ctx context.Context, taskID, subjectName string, artifacts map[string]string) (string, error)
}

// Notifier sends the rendered document to a recipient.
type Notifier interface {
	IsConfigured() bool
	DefaultRecipient() string
	Send(ctx context.Context, taskID, subjectName, documentPath, recipient string) (*notify.Receipt, error)
}

// Result describes the outcome of a delivery attempt. Err is set only when
// document generation itself failed; notification problems are recorded in
// NotificationSent and Detail.
type Result struct {
	DocumentGenerated bool
	DocumentFilename  string
	NotificationSent  bool
	Recipient         string

	// Detail is a human-readable note on why notification was skipped
	// or failed. Empty when the notification was sent.
	Detail string

	// Err is the document generation failure, if any.
	Err error
}

// Service runs report delivery for completed pipeline runs.
type Service struct {
	renderer  Renderer
	notifier  Notifier
	artifacts *artifact.Store
	logger    *slog.Logger
}

// NewService creates a delivery Service.
func NewService(renderer Renderer, notifier Notifier, artifacts *artifact.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		renderer:  renderer,
		notifier:  notifier,
		artifacts: artifacts,
		logger:    logger.With(slog.String("component", "delivery")),
	}
}

// Deliver renders the combined report document and, when a mail transport
// and recipient are available, emails it. Document generation failure is
// fatal to the delivery and recorded in Result.Err; the notifier is not
// invoked in that case. Notification failure leaves the delivery partially
// successful.
func (s *Service) Deliver(
	ctx context.Context,
	taskID, subjectName string,
	artifacts map[string]string,
	recipientOverride string,
) Result {
	log := s.logger.With(slog.String("task_id", taskID))

	filename, err := s.renderer.Render(ctx, taskID, subjectName, artifacts)
	if err != nil {
		log.Error("report document generation failed", slog.String("error", err.Error()))
		return Result{
			Detail: "report document generation failed",
			Err:    fmt.Errorf("failed to generate report document: %w", err),
		}
	}

	result := Result{
		DocumentGenerated: true,
		DocumentFilename:  filename,
	}

	if !s.notifier.IsConfigured() {
		result.Detail = "email notifications not configured"
		log.Info("skipping notification", slog.String("reason", result.Detail))
		return result
	}

	recipient := recipientOverride
	if recipient == "" {
		recipient = s.notifier.DefaultRecipient()
	}
	if recipient == "" {
		result.Detail = "no notification recipient configured"
		log.Info("skipping notification", slog.String("reason", result.Detail))
		return result
	}

	receipt, err := s.notifier.Send(ctx, taskID, subjectName, s.artifacts.Path(taskID, filename), recipient)
	if err != nil {
		// The document still exists and is retrievable; only the email
		// leg failed.
		result.Detail = fmt.Sprintf("notification failed: %v", err)
		log.Warn("report notification failed",
			slog.String("recipient", recipient),
			slog.String("error", err.Error()))
		return result
	}

	result.NotificationSent = true
	result.Recipient = receipt.Recipient
	log.Info("report delivered",
		slog.String("document", filename),
		slog.String("recipient", receipt.Recipient))

	return result
}
