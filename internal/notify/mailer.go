package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// Mailer sends transactional email through Resend. In dev mode messages are
// logged instead of sent.
type Mailer struct {
	client    *resend.Client
	fromEmail string
	appName   string
	isDev     bool
	logger    *slog.Logger
}

// NewMailer constructs the mailer. An empty API key forces dev mode.
func NewMailer(apiKey, fromEmail, appName string, isDev bool, logger *slog.Logger) *Mailer {
	var client *resend.Client
	if apiKey != "" && !isDev {
		client = resend.NewClient(apiKey)
	}
	return &Mailer{client: client, fromEmail: fromEmail, appName: appName, isDev: isDev || client == nil, logger: logger}
}

// Send delivers one plain-text email.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m.isDev {
		m.logger.Info("email sent (dev mode)", slog.String("to", to), slog.String("subject", subject))
		return nil
	}
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", m.appName, m.fromEmail),
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}
	if _, err := m.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	m.logger.Info("email sent", slog.String("to", to), slog.String("subject", subject))
	return nil
}
