// Package mailer sends result emails through SendGrid.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/delivery"
	"jan-server/services/research-api/internal/domain/retry"
)

const defaultSendGridURL = "https://api.sendgrid.com"

// Config configures the SendGrid client.
type Config struct {
	APIKey     string
	BaseURL    string
	FromEmail  string
	FromName   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

// SendGrid posts to the v3 mail/send endpoint.
type SendGrid struct {
	httpClient *resty.Client
	from       address
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewSendGrid builds a SendGrid mailer.
func NewSendGrid(cfg Config, log zerolog.Logger) (*SendGrid, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSendGridURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &SendGrid{
		httpClient: httpClient,
		from:       address{Email: cfg.FromEmail, Name: cfg.FromName},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        log.With().Str("component", "sendgrid").Logger(),
	}, nil
}

// Send delivers msg, rendering HTML from its markdown text when none is given.
func (s *SendGrid) Send(ctx context.Context, msg delivery.Message) error {
	html := msg.HTML
	if html == "" {
		rendered, err := RenderHTML(msg.Text)
		if err != nil {
			return err
		}
		html = rendered
	}

	body := sendRequest{
		Personalizations: []personalization{{To: []address{{Email: msg.To}}}},
		From:             s.from,
		Subject:          msg.Subject,
		Content: []content{
			{Type: "text/plain", Value: msg.Text},
			{Type: "text/html", Value: html},
		},
	}

	policy := retry.Fixed(s.maxRetries, s.retryDelay, retryableSend)
	_, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		resp, err := s.httpClient.R().
			SetContext(ctx).
			SetBody(body).
			Post("/v3/mail/send")
		if err != nil {
			return struct{}{}, fmt.Errorf("send email (attempt %d/%d): %w", attempt, s.maxRetries, err)
		}
		if !resp.IsSuccess() {
			return struct{}{}, &statusError{
				code: resp.StatusCode(),
				msg:  fmt.Sprintf("sendgrid returned status %d (attempt %d/%d): %s", resp.StatusCode(), attempt, s.maxRetries, strings.TrimSpace(resp.String())),
			}
		}
		return struct{}{}, nil
	}, func(attempt int, err error) {
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("email delivery failed, retrying")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("to", msg.To).Msg("email delivered")
	return nil
}

// statusError is a non-2xx answer from SendGrid.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

// retryableSend retries transport failures, throttling and server errors.
func retryableSend(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	return true
}

var _ delivery.Mailer = (*SendGrid)(nil)
