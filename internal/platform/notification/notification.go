// Package notification provides the SMS dispatch channel used for one-time
// codes and invite links, with template rendering and retry.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a reusable message template. Placeholders use {{key}} syntax.
type Template struct {
	ID   string
	Body string
}

// Render substitutes template data into the body.
func (t Template) Render(data map[string]string) string {
	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body
}

// Builtin templates.
var (
	TemplateOTPCode = Template{
		ID:   "otp-code",
		Body: "Your verification code is {{code}}. It expires in {{minutes}} minutes.",
	}
	TemplateInviteLink = Template{
		ID:   "invite-link",
		Body: "{{inviter}} shared their health reports with you. Open {{url}} to view them.",
	}
)

// LogSender writes messages to the log instead of a real SMS gateway. Used in
// development and tests.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().Str("to", to).Str("body", body).Msg("sms (log sender)")
	return nil
}

// RetrySender wraps another sender with bounded retries and backoff.
type RetrySender struct {
	Next     SMSSender
	Attempts int
	Backoff  time.Duration
}

func (s *RetrySender) SendSMS(ctx context.Context, to, body string) error {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.Next.SendSMS(ctx, to, body); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		return nil
	}
	return fmt.Errorf("send sms after %d attempts: %w", attempts, lastErr)
}
