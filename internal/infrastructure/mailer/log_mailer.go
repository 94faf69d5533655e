package mailer

import (
	"context"

	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/delivery"
)

// LogMailer only logs emails. Used when no SendGrid key is configured.
type LogMailer struct {
	log zerolog.Logger
}

// NewLogMailer builds a LogMailer.
func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log.With().Str("component", "log-mailer").Logger()}
}

// Send logs msg and reports success.
func (m *LogMailer) Send(_ context.Context, msg delivery.Message) error {
	m.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("length", len(msg.Text)).
		Msg("email not sent, no provider configured")
	return nil
}

// New returns a SendGrid mailer when an API key is set, otherwise a LogMailer.
func New(cfg Config, log zerolog.Logger) (delivery.Mailer, error) {
	if cfg.APIKey == "" {
		return NewLogMailer(log), nil
	}
	return NewSendGrid(cfg, log)
}
