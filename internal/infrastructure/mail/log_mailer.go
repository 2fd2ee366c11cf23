// Package mail delivers outbound email.
package mail

import (
	"context"

	"quizportal/backend/internal/logging"
	usecase "quizportal/backend/internal/usecase/auth"
)

// LogMailer writes messages to the structured log instead of sending them. It is
// the only transport until an SMTP relay is configured.
type LogMailer struct {
	log         logging.Logger
	revealLinks bool
}

var _ usecase.Mailer = (*LogMailer)(nil)

// NewLogMailer returns a mailer that logs through log. Links carry live reset and
// verification tokens, so they are logged only when revealLinks is set.
func NewLogMailer(log logging.Logger, revealLinks bool) *LogMailer {
	return &LogMailer{log: log.With("component", "mail"), revealLinks: revealLinks}
}

// Send logs the recipient and subject, plus the link when links are revealed.
// The body is never logged.
func (m *LogMailer) Send(ctx context.Context, msg usecase.Message) error {
	if m.revealLinks {
		m.log.Info(ctx, "email queued", "to", msg.To, "subject", msg.Subject, "link", msg.Link)
		return nil
	}
	m.log.Info(ctx, "email queued", "to", msg.To, "subject", msg.Subject)
	return nil
}
