// Package notify delivers generated report documents to a recipient over
// SMTP. Notification is an optional, best-effort step: every failure mode
// is reported back as an error from Send, never as a panic or a crash of
// the surrounding delivery workflow.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"

	"github.com/phrazzld/diligence-api/internal/config"
	"github.com/wneessen/go-mail"
)

// Common notifier errors.
var (
	// ErrNoRecipient is returned when neither an override nor a default
	// recipient is available.
	ErrNoRecipient = errors.New("no notification recipient configured")

	// ErrDocumentNotFound is returned when the document to attach does
	// not exist.
	ErrDocumentNotFound = errors.New("report document not found")

	// ErrNotConfigured is returned when Send is called without an SMTP
	// host configured.
	ErrNotConfigured = errors.New("mail transport not configured")
)

// Receipt describes a successfully sent notification.
type Receipt struct {
	Recipient string
	TaskID    string
}

// smtpSender is the slice of the go-mail client used by the Mailer,
// abstracted for testing.
type smtpSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer sends report documents as email attachments via SMTP.
type Mailer struct {
	cfg    config.EmailConfig
	client smtpSender
	logger *slog.Logger
}

// NewMailer creates a Mailer from the given configuration. A Mailer with
// no SMTP host is valid but unconfigured: IsConfigured reports false and
// Send fails cleanly.
func NewMailer(cfg config.EmailConfig, logger *slog.Logger) (*Mailer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mailer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "mailer")),
	}

	if cfg.SMTPHost == "" {
		return m, nil
	}

	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	// Relay hosts with IP allowlisting need no credentials; only wire
	// SMTP auth when a username is configured.
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUsername),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	m.client = client

	return m, nil
}

// IsConfigured reports whether a mail transport is available. This is
// independent of whether a recipient is set; the two are checked
// separately by the delivery workflow.
func (m *Mailer) IsConfigured() bool {
	return m.client != nil
}

// DefaultRecipient returns the configured fallback recipient, which may
// be empty.
func (m *Mailer) DefaultRecipient() string {
	return m.cfg.DefaultRecipient
}

// Send emails the report document at documentPath as an attachment to the
// given recipient, falling back to the configured default when recipient
// is empty. It returns a Receipt naming the resolved recipient on success.
// All failures return an error; none escape as panics.
func (m *Mailer) Send(
	ctx context.Context,
	taskID, subjectName, documentPath, recipient string,
) (*Receipt, error) {
	if !m.IsConfigured() {
		return nil, ErrNotConfigured
	}

	resolved := recipient
	if resolved == "" {
		resolved = m.cfg.DefaultRecipient
	}
	if resolved == "" {
		return nil, ErrNoRecipient
	}

	if _, err := os.Stat(documentPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentPath)
		}
		return nil, fmt.Errorf("failed to stat report document: %w", err)
	}

	msg, err := m.buildMessage(taskID, subjectName, documentPath, resolved)
	if err != nil {
		return nil, err
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		m.logger.Error("failed to send report email",
			slog.String("task_id", taskID),
			slog.String("recipient", resolved),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to send report email: %w", err)
	}

	m.logger.Info("report email sent",
		slog.String("task_id", taskID),
		slog.String("recipient", resolved))

	return &Receipt{Recipient: resolved, TaskID: taskID}, nil
}

// buildMessage assembles the email with HTML body and document attachment.
func (m *Mailer) buildMessage(taskID, subjectName, documentPath, recipient string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.FromAddress); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", m.cfg.FromAddress, err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", recipient, err)
	}

	msg.Subject(fmt.Sprintf("Due Diligence Report: %s", subjectName))

	body, err := renderBody(subjectName, taskID)
	if err != nil {
		return nil, err
	}
	msg.SetBodyString(mail.TypeTextHTML, body)
	msg.AttachFile(documentPath)

	return msg, nil
}

var bodyTemplate = template.Must(template.New("email_body").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: 'Helvetica Neue', Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: #1a365d; padding: 30px; text-align: center;">
    <h1 style="color: #d4af37; margin: 0; font-size: 24px; letter-spacing: 2px;">VC DILIGENCE</h1>
  </div>
  <div style="background: #ffffff; padding: 30px; border: 1px solid #e0e0e0;">
    <h2 style="color: #1a365d; margin-top: 0;">Due Diligence Report</h2>
    <h3 style="color: #d4af37;">{{.SubjectName}}</h3>
    <p>Please find attached the complete due diligence report for <strong>{{.SubjectName}}</strong>.</p>
    <p style="font-size: 12px; color: #666;"><strong>Reference:</strong> Task ID {{.TaskID}}</p>
  </div>
  <div style="background: #1a365d; padding: 20px; text-align: center;">
    <p style="color: #ffffff; margin: 0; font-size: 12px;">Generated by the VC Diligence platform</p>
    <p style="color: #d4af37; margin: 5px 0 0 0; font-size: 10px;">CONFIDENTIAL</p>
  </div>
</body>
</html>
`))

// renderBody produces the HTML email body.
func renderBody(subjectName, taskID string) (string, error) {
	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct {
		SubjectName string
		TaskID      string
	}{SubjectName: subjectName, TaskID: taskID})
	if err != nil {
		return "", fmt.Errorf("failed to render email body: %w", err)
	}
	return buf.String(), nil
}
