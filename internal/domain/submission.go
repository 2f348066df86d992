package domain

import (
	"fmt"
	"strings"
)

// SubmissionKind tags the event that triggers a notification batch.
type SubmissionKind string

const (
	KindArticle    SubmissionKind = "ARTICLE"
	KindContact    SubmissionKind = "CONTACT"
	KindNewsletter SubmissionKind = "NEWSLETTER"
)

func (k SubmissionKind) String() string { return string(k) }

func (k SubmissionKind) IsValid() bool {
	switch k {
	case KindArticle, KindContact, KindNewsletter:
		return true
	}
	return false
}

func ParseSubmissionKindFromString(s string) (SubmissionKind, error) {
	k := SubmissionKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid submission kind %q", ErrValidation, s)
	}
	return k, nil
}

// ArticleSubmission is the payload of a manuscript submission event.
type ArticleSubmission struct {
	Title       string   `json:"title"`
	AuthorName  string   `json:"authorName"`
	AuthorEmail string   `json:"authorEmail"`
	Abstract    string   `json:"abstract"`
	FileURLs    []string `json:"fileUrls"`
	ImageURLs   []string `json:"imageUrls"`
}

func (a *ArticleSubmission) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: article payload is required", ErrValidation)
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("%w: article title is required", ErrValidation)
	}
	if strings.TrimSpace(a.AuthorName) == "" {
		return fmt.Errorf("%w: author name is required", ErrValidation)
	}
	if err := ValidateEmailAddress(a.AuthorEmail); err != nil {
		return fmt.Errorf("%w: author email: %v", ErrValidation, err)
	}
	return nil
}

// AttachmentURLs returns the union of article files and image annexes, in the
// order they were submitted.
func (a *ArticleSubmission) AttachmentURLs() []string {
	if a == nil {
		return nil
	}
	urls := make([]string, 0, len(a.FileURLs)+len(a.ImageURLs))
	urls = append(urls, a.FileURLs...)
	urls = append(urls, a.ImageURLs...)
	return urls
}

// ContactMessage is the payload of a contact-form event.
type ContactMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c *ContactMessage) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: contact payload is required", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: contact name is required", ErrValidation)
	}
	if err := ValidateEmailAddress(c.Email); err != nil {
		return fmt.Errorf("%w: contact email: %v", ErrValidation, err)
	}
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("%w: contact message body is required", ErrValidation)
	}
	return nil
}

// NewsletterSignup is the payload of a newsletter signup event.
type NewsletterSignup struct {
	Email string `json:"email"`
}

func (n *NewsletterSignup) Validate() error {
	if n == nil {
		return fmt.Errorf("%w: newsletter payload is required", ErrValidation)
	}
	if err := ValidateEmailAddress(n.Email); err != nil {
		return fmt.Errorf("%w: newsletter email: %v", ErrValidation, err)
	}
	return nil
}

// Submission is a tagged union of the three event payloads. Exactly the field
// matching Kind must be set; everything else is rejected at the boundary.
type Submission struct {
	Kind          SubmissionKind     `json:"kind"`
	CorrelationID string             `json:"correlationId,omitempty"`
	Article       *ArticleSubmission `json:"article,omitempty"`
	Contact       *ContactMessage    `json:"contact,omitempty"`
	Newsletter    *NewsletterSignup  `json:"newsletter,omitempty"`
}

func (s *Submission) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: submission is required", ErrValidation)
	}
	if !s.Kind.IsValid() {
		return fmt.Errorf("%w: invalid submission kind %q", ErrValidation, s.Kind)
	}

	set := 0
	if s.Article != nil {
		set++
	}
	if s.Contact != nil {
		set++
	}
	if s.Newsletter != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: submission must carry exactly one payload, got %d", ErrValidation, set)
	}

	switch s.Kind {
	case KindArticle:
		return s.Article.Validate()
	case KindContact:
		return s.Contact.Validate()
	case KindNewsletter:
		return s.Newsletter.Validate()
	}
	return nil
}

// SubmitterEmail returns the address that receives the user confirmation.
func (s *Submission) SubmitterEmail() string {
	switch s.Kind {
	case KindArticle:
		if s.Article != nil {
			return s.Article.AuthorEmail
		}
	case KindContact:
		if s.Contact != nil {
			return s.Contact.Email
		}
	case KindNewsletter:
		if s.Newsletter != nil {
			return s.Newsletter.Email
		}
	}
	return ""
}

// ReplyToEmail returns the address admin notifications should reply to, if any.
func (s *Submission) ReplyToEmail() *string {
	if s.Kind == KindContact && s.Contact != nil {
		addr := strings.TrimSpace(s.Contact.Email)
		if addr != "" {
			return &addr
		}
	}
	return nil
}

// AttachmentURLs returns the object-store references for admin-class mail.
// Only article submissions carry attachments.
func (s *Submission) AttachmentURLs() []string {
	if s.Kind != KindArticle {
		return nil
	}
	return s.Article.AttachmentURLs()
}
