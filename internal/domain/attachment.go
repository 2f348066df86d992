package domain

// Attachment is an in-memory email attachment payload. It is built per send
// attempt from object storage and never persisted.
type Attachment struct {
	Filename       string
	EncodedContent string // base64
	MimeType       string
	SizeBytes      int64
}
