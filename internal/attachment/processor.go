// Package attachment turns object-store references into validated, base64
// email attachment payloads under hard size and count budgets.
package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/tidepress/mail-dispatch/internal/domain"
	"github.com/tidepress/mail-dispatch/internal/storage"
	"go.uber.org/zap"
)

const (
	// MaxFileSize caps a single attachment.
	MaxFileSize int64 = 40 << 20
	// MaxTotalSize caps the sum of attachment sizes in one email.
	MaxTotalSize int64 = 40 << 20
	// MaxFiles caps the attachment count in one email.
	MaxFiles = 10
	// MinFileSize guards against truncated or empty downloads.
	MinFileSize int64 = 10

	base64SmokeTestLen = 64
)

// mimeTypesByExtension is the attachment allow-list. Anything else is dropped.
var mimeTypesByExtension = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".txt":  "text/plain",
	".md":   "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".zip":  "application/zip",
}

// Result reports what one fetch pass produced. Skipped counts files dropped
// for budget reasons (count/size caps); Failed counts files dropped because
// download or validation failed.
type Result struct {
	Attachments []domain.Attachment
	Skipped     int
	Failed      int
}

type Processor struct {
	store        storage.Downloader
	logger       *zap.Logger
	maxFiles     int
	maxFileSize  int64
	maxTotalSize int64
}

func NewProcessor(store storage.Downloader, logger *zap.Logger) (*Processor, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		store:        store,
		logger:       logger,
		maxFiles:     MaxFiles,
		maxFileSize:  MaxFileSize,
		maxTotalSize: MaxTotalSize,
	}, nil
}

// FetchAll materializes attachments for the given object references. Files
// are processed sequentially to bound peak memory and to avoid hammering the
// store. One bad file never aborts the rest; the send proceeds with whatever
// survived. FetchAll itself never fails: on a pass-level panic-equivalent
// condition the caller still gets a usable zero-attachment result.
func (p *Processor) FetchAll(ctx context.Context, urls []string) Result {
	if p == nil || p.store == nil {
		return Result{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var result Result
	var totalSize int64

	for _, raw := range urls {
		if len(result.Attachments) >= p.maxFiles {
			result.Skipped++
			continue
		}

		loc, err := storage.ParseLocation(raw)
		if err != nil {
			p.logger.Warn("skipping attachment: bad reference",
				zap.String("url", raw),
				zap.Error(err),
			)
			result.Failed++
			continue
		}

		data, err := p.store.Download(ctx, loc.Bucket, loc.Path)
		if err != nil {
			p.logger.Warn("skipping attachment: download failed",
				zap.String("bucket", loc.Bucket),
				zap.String("path", loc.Path),
				zap.Error(err),
			)
			result.Failed++
			continue
		}

		att := domain.Attachment{
			Filename:       loc.Filename(),
			EncodedContent: base64.StdEncoding.EncodeToString(data),
			MimeType:       mimeTypeForFilename(loc.Filename()),
			SizeBytes:      int64(len(data)),
		}

		if err := Validate(att); err != nil {
			p.logger.Warn("skipping attachment: validation failed",
				zap.String("filename", att.Filename),
				zap.Int64("sizeBytes", att.SizeBytes),
				zap.Error(err),
			)
			result.Failed++
			continue
		}

		if totalSize+att.SizeBytes > p.maxTotalSize {
			result.Skipped++
			continue
		}

		totalSize += att.SizeBytes
		result.Attachments = append(result.Attachments, att)
	}

	return result
}

// Validate checks one attachment against the allow-list and size bounds.
func Validate(att domain.Attachment) error {
	if strings.TrimSpace(att.Filename) == "" {
		return fmt.Errorf("filename is required")
	}
	if strings.TrimSpace(att.EncodedContent) == "" {
		return fmt.Errorf("content is required")
	}
	if att.MimeType == "" {
		return fmt.Errorf("mime type %q is not allowed", path.Ext(att.Filename))
	}
	if !allowedMimeType(att.MimeType) {
		return fmt.Errorf("mime type %q is not allowed", att.MimeType)
	}
	if att.SizeBytes < MinFileSize {
		return fmt.Errorf("file too small: %d bytes", att.SizeBytes)
	}
	if att.SizeBytes > MaxFileSize {
		return fmt.Errorf("file too large: %d bytes", att.SizeBytes)
	}

	// Decode a prefix as a smoke test; a full decode of a 40MB payload is
	// wasted work when the encoding is broken in the first block.
	prefix := att.EncodedContent
	if len(prefix) > base64SmokeTestLen {
		prefix = prefix[:base64SmokeTestLen]
	}
	if _, err := base64.StdEncoding.DecodeString(prefix); err != nil {
		return fmt.Errorf("content is not valid base64: %w", err)
	}

	return nil
}

func allowedMimeType(mimeType string) bool {
	for _, allowed := range mimeTypesByExtension {
		if allowed == mimeType {
			return true
		}
	}
	return false
}

func mimeTypeForFilename(filename string) string {
	return mimeTypesByExtension[strings.ToLower(path.Ext(filename))]
}
