// Package mailer delivers transactional email.
package mailer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/pkg/provider"
)

const httpProvider = "email-api"

// Message is a rendered email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPConfig configures an HTTP email API sender.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	From     string
	Timeout  time.Duration
}

// HTTPSender posts messages to a JSON email API using bearer authentication.
type HTTPSender struct {
	client   *resty.Client
	endpoint string
	from     string
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

// NewHTTPSender constructs an HTTP sender.
func NewHTTPSender(cfg HTTPConfig) (*HTTPSender, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("email endpoint and api key must be provided")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &HTTPSender{client: client, endpoint: cfg.Endpoint, from: cfg.From}, nil
}

// Send delivers msg. Transport errors and non-2xx responses are provider errors.
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sendRequest{
			From:    s.from,
			To:      []string{msg.To},
			Subject: msg.Subject,
			HTML:    msg.HTMLBody,
			Text:    msg.TextBody,
		}).
		Post(s.endpoint)
	if err != nil {
		return provider.Wrap(httpProvider, "send", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return provider.Wrap(httpProvider, "send", fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())))
	}
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender constructs a logging sender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log_mailer").Logger()}
}

// Send logs the message and reports success.
func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email delivered to log")
	return nil
}
