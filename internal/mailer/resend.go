package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidepress/mail-dispatch/internal/domain"
)

const (
	defaultResendBaseURL = "https://api.resend.com"
	defaultSendTimeout   = 15 * time.Second
)

type resendAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type resendRequest struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Subject     string             `json:"subject"`
	HTML        string             `json:"html,omitempty"`
	Text        string             `json:"text,omitempty"`
	ReplyTo     string             `json:"reply_to,omitempty"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// ResendTransport delivers mail through the Resend REST API.
type ResendTransport struct {
	client *resty.Client
	from   string
}

func NewResendTransport(apiKey, from string) (*ResendTransport, error) {
	client := resty.New()
	client.SetBaseURL(defaultResendBaseURL)
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)
	client.SetAuthToken(strings.TrimSpace(apiKey))

	return NewResendTransportWithClient(from, client)
}

func NewResendTransportWithClient(from string, client *resty.Client) (*ResendTransport, error) {
	if err := domain.ValidateEmailAddress(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &ResendTransport{
		client: client,
		from:   strings.TrimSpace(from),
	}, nil
}

func (t *ResendTransport) Send(ctx context.Context, email Email) (*SendResult, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("transport is not initialized")
	}
	if err := domain.ValidateEmailAddress(email.To); err != nil {
		return nil, &TransportError{
			Message:   "invalid recipient",
			Transient: false,
			Cause:     err,
		}
	}

	reqBody := resendRequest{
		From:    t.from,
		To:      []string{strings.TrimSpace(email.To)},
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
		ReplyTo: strings.TrimSpace(email.ReplyTo),
	}
	for _, att := range email.Attachments {
		reqBody.Attachments = append(reqBody.Attachments, resendAttachment{
			Filename: att.Filename,
			Content:  att.EncodedContent,
		})
	}

	var parsed resendResponse
	response, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&parsed).
		Post("/emails")
	if err != nil {
		return nil, &TransportError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &TransportError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			StatusCode: statusCode,
			ProviderID: parsed.ID,
		}, nil
	}

	return nil, &TransportError{
		StatusCode: statusCode,
		Message:    transportErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func transportErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
