// Package storage downloads submission files from the publication's object
// store. The store is treated as an opaque public blob host; only the
// download contract matters here.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultDownloadTimeout = 30 * time.Second
	downloadRetries        = 2
	retryBackoffBase       = time.Second
)

// Downloader is the blob-store port: download(bucket, path) -> bytes.
type Downloader interface {
	Download(ctx context.Context, bucket, path string) ([]byte, error)
}

// DownloadError classifies a failed object fetch.
type DownloadError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DownloadError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "storage error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DownloadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a download failure is worth retrying. Rate
// limits, timeouts, and server errors are; missing objects and permission
// denials are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var downloadErr *DownloadError
	if errors.As(err, &downloadErr) {
		return downloadErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// Client fetches objects over the store's public HTTP surface.
type Client struct {
	client  *resty.Client
	baseURL string
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(baseURL string) (*Client, error) {
	client := resty.New()
	client.SetTimeout(defaultDownloadTimeout)
	client.SetRetryCount(0)

	return NewClientWithResty(baseURL, client)
}

func NewClientWithResty(baseURL string, client *resty.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("storage base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid storage base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDownloadTimeout)
	}
	client.SetRetryCount(0)

	return &Client{
		client:  client,
		baseURL: trimmed,
		sleep:   sleepWithContext,
	}, nil
}

// Download fetches one object. Transient failures are retried up to twice
// with linear backoff (1s x attempt); not-found and permission errors return
// immediately.
func (c *Client) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("storage client is not initialized")
	}
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bucket and path are required")
	}

	var lastErr error
	for attempt := 1; attempt <= downloadRetries+1; attempt++ {
		data, err := c.downloadOnce(ctx, bucket, path)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt > downloadRetries {
			break
		}
		if err := c.sleep(ctx, time.Duration(attempt)*retryBackoffBase); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) downloadOnce(ctx context.Context, bucket, path string) ([]byte, error) {
	objectURL := fmt.Sprintf("%s%s%s/%s", c.baseURL, publicObjectPrefix, bucket, path)

	response, err := c.client.R().
		SetContext(ctx).
		Get(objectURL)
	if err != nil {
		return nil, &DownloadError{
			Message:   fmt.Sprintf("failed to fetch %s/%s", bucket, path),
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &DownloadError{
			Message:   "storage returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return response.Body(), nil
	}

	return nil, &DownloadError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("failed to fetch %s/%s", bucket, path),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
