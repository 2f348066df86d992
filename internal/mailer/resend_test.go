package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/tidepress/mail-dispatch/internal/domain"
)

func newTestTransport(t *testing.T, serverURL string) *ResendTransport {
	t.Helper()

	client := resty.New()
	client.SetBaseURL(serverURL)

	transport, err := NewResendTransportWithClient("notifications@tidepress.dev", client)
	if err != nil {
		t.Fatalf("NewResendTransportWithClient() error = %v", err)
	}
	return transport
}

func TestResendTransportSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody resendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/emails" {
			t.Errorf("path = %s, want /emails", r.URL.Path)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"re_123"}`))
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL)

	result, err := transport.Send(context.Background(), Email{
		To:      "author@example.com",
		Subject: "We received your submission",
		HTML:    "<p>hi</p>",
		Text:    "hi",
		ReplyTo: "reader@example.com",
		Attachments: []domain.Attachment{
			{Filename: "draft.pdf", EncodedContent: "cGRmLWJ5dGVz", MimeType: "application/pdf", SizeBytes: 9},
		},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if result.ProviderID != "re_123" {
		t.Fatalf("ProviderID = %q, want re_123", result.ProviderID)
	}
	if len(gotBody.To) != 1 || gotBody.To[0] != "author@example.com" {
		t.Fatalf("request.to = %v", gotBody.To)
	}
	if gotBody.From != "notifications@tidepress.dev" {
		t.Fatalf("request.from = %q", gotBody.From)
	}
	if gotBody.ReplyTo != "reader@example.com" {
		t.Fatalf("request.reply_to = %q", gotBody.ReplyTo)
	}
	if len(gotBody.Attachments) != 1 || gotBody.Attachments[0].Filename != "draft.pdf" {
		t.Fatalf("request.attachments = %v", gotBody.Attachments)
	}
}

func TestResendTransportStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "unprocessable payload is permanent", statusCode: http.StatusUnprocessableEntity, wantTransient: false},
		{name: "forbidden is permanent", statusCode: http.StatusForbidden, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("provider failed"))
			}))
			defer server.Close()

			transport := newTestTransport(t, server.URL)

			_, err := transport.Send(context.Background(), Email{
				To:      "author@example.com",
				Subject: "x",
				Text:    "x",
			})
			if err == nil {
				t.Fatal("Send() expected error")
			}

			var transportErr *TransportError
			if !errors.As(err, &transportErr) {
				t.Fatalf("error type = %T, want *TransportError", err)
			}
			if transportErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", transportErr.StatusCode, tc.statusCode)
			}
			if IsTransient(err) != tc.wantTransient {
				t.Fatalf("IsTransient = %v, want %v", IsTransient(err), tc.wantTransient)
			}
		})
	}
}

func TestResendTransportRejectsInvalidRecipient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider should not be called for an invalid recipient")
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL)

	_, err := transport.Send(context.Background(), Email{To: "not-an-address", Subject: "x", Text: "x"})
	if err == nil {
		t.Fatal("Send() expected error")
	}
	if IsTransient(err) {
		t.Fatal("invalid recipient should be permanent")
	}
}

func TestNewResendTransportValidatesFrom(t *testing.T) {
	t.Parallel()

	if _, err := NewResendTransport("key", "not-an-address"); err == nil {
		t.Fatal("NewResendTransport should reject an invalid from address")
	}
}
