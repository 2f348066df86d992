// Package mailer is the outbound email delivery boundary. No retry happens
// inside it: callers own retry and quota bookkeeping.
package mailer

import (
	"context"

	"github.com/tidepress/mail-dispatch/internal/domain"
)

// Email is one outbound message, fully rendered.
type Email struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	ReplyTo     string
	Attachments []domain.Attachment
}

// SendResult stores provider call metadata.
type SendResult struct {
	StatusCode int
	ProviderID string
}

// Transport is the email provider port.
type Transport interface {
	Send(ctx context.Context, email Email) (*SendResult, error)
}
