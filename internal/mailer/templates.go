package mailer

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"
	"github.com/tidepress/mail-dispatch/internal/domain"
)

// RenderedEmail is the per-class output of the template set.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

type templateSet struct {
	subject string
	html    string
	text    string
}

// Template sources keyed by submission kind and message class. Admin
// templates address the editorial team; the user template addresses the
// submitter.
var templateSources = map[domain.SubmissionKind]map[domain.MessageClass]templateSet{
	domain.KindArticle: {
		domain.ClassUserConfirmation: {
			subject: `We received your submission: {{ title }}`,
			html: `<p>Dear {{ authorName }},</p>
<p>Thank you for submitting <strong>{{ title }}</strong>. Our editors have received your manuscript and will be in touch once the review is complete.</p>
<p>— The editorial team</p>`,
			text: `Dear {{ authorName }},

Thank you for submitting "{{ title }}". Our editors have received your manuscript and will be in touch once the review is complete.

— The editorial team`,
		},
		domain.ClassAdminPrimary: {
			subject: `New manuscript submission: {{ title }}`,
			html: `<p>A new manuscript was submitted.</p>
<ul>
<li><strong>Title:</strong> {{ title }}</li>
<li><strong>Author:</strong> {{ authorName }} ({{ authorEmail }})</li>
</ul>
<p>{{ abstract }}</p>
<p>Submitted files are attached.</p>`,
			text: `A new manuscript was submitted.

Title: {{ title }}
Author: {{ authorName }} ({{ authorEmail }})

{{ abstract }}

Submitted files are attached.`,
		},
		domain.ClassAdminSecondary: {
			subject: `[copy] New manuscript submission: {{ title }}`,
			html: `<p>Copy of the submission notice for <strong>{{ title }}</strong> by {{ authorName }} ({{ authorEmail }}).</p>
<p>Submitted files are attached.</p>`,
			text: `Copy of the submission notice for "{{ title }}" by {{ authorName }} ({{ authorEmail }}).

Submitted files are attached.`,
		},
	},
	domain.KindContact: {
		domain.ClassUserConfirmation: {
			subject: `We received your message`,
			html: `<p>Dear {{ name }},</p>
<p>Thank you for getting in touch. We have received your message and will reply as soon as we can.</p>`,
			text: `Dear {{ name }},

Thank you for getting in touch. We have received your message and will reply as soon as we can.`,
		},
		domain.ClassAdminPrimary: {
			subject: `Contact form: {{ subject }}`,
			html: `<p><strong>From:</strong> {{ name }} ({{ email }})</p>
<p>{{ body }}</p>`,
			text: `From: {{ name }} ({{ email }})

{{ body }}`,
		},
		domain.ClassAdminSecondary: {
			subject: `[copy] Contact form: {{ subject }}`,
			html: `<p>Copy of a contact-form message from {{ name }} ({{ email }}).</p>
<p>{{ body }}</p>`,
			text: `Copy of a contact-form message from {{ name }} ({{ email }}).

{{ body }}`,
		},
	},
	domain.KindNewsletter: {
		domain.ClassUserConfirmation: {
			subject: `Welcome to the newsletter`,
			html:    `<p>You are on the list. Expect the next issue in your inbox soon.</p>`,
			text:    `You are on the list. Expect the next issue in your inbox soon.`,
		},
		domain.ClassAdminPrimary: {
			subject: `New newsletter signup`,
			html:    `<p>{{ email }} signed up for the newsletter.</p>`,
			text:    `{{ email }} signed up for the newsletter.`,
		},
		domain.ClassAdminSecondary: {
			subject: `[copy] New newsletter signup`,
			html:    `<p>{{ email }} signed up for the newsletter.</p>`,
			text:    `{{ email }} signed up for the newsletter.`,
		},
	},
}

// Renderer renders per-class notification emails from typed submission
// payloads. Templates are parsed once at construction.
type Renderer struct {
	templates map[domain.SubmissionKind]map[domain.MessageClass]parsedSet
}

type parsedSet struct {
	subject *liquid.Template
	html    *liquid.Template
	text    *liquid.Template
}

func NewRenderer() (*Renderer, error) {
	engine := liquid.NewEngine()

	templates := make(map[domain.SubmissionKind]map[domain.MessageClass]parsedSet, len(templateSources))
	for kind, byClass := range templateSources {
		templates[kind] = make(map[domain.MessageClass]parsedSet, len(byClass))
		for class, set := range byClass {
			subject, err := engine.ParseString(set.subject)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s/%s subject template: %w", kind, class, err)
			}
			html, err := engine.ParseString(set.html)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s/%s html template: %w", kind, class, err)
			}
			text, err := engine.ParseString(set.text)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s/%s text template: %w", kind, class, err)
			}
			templates[kind][class] = parsedSet{subject: subject, html: html, text: text}
		}
	}

	return &Renderer{templates: templates}, nil
}

func (r *Renderer) Render(class domain.MessageClass, sub domain.Submission) (*RenderedEmail, error) {
	if r == nil {
		return nil, fmt.Errorf("renderer is not initialized")
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	byClass, ok := r.templates[sub.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no templates for kind %q", domain.ErrValidation, sub.Kind)
	}
	set, ok := byClass[class]
	if !ok {
		return nil, fmt.Errorf("%w: no %q template for kind %q", domain.ErrValidation, class, sub.Kind)
	}

	bindings := bindingsFor(sub)

	subject, err := set.subject.RenderString(bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	html, err := set.html.RenderString(bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to render html body: %w", err)
	}
	text, err := set.text.RenderString(bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to render text body: %w", err)
	}

	return &RenderedEmail{
		Subject: strings.TrimSpace(subject),
		HTML:    html,
		Text:    text,
	}, nil
}

// bindingsFor exposes only the fields the templates name. Unknown payload
// fields never reach a template.
func bindingsFor(sub domain.Submission) liquid.Bindings {
	switch sub.Kind {
	case domain.KindArticle:
		return liquid.Bindings{
			"title":       sub.Article.Title,
			"authorName":  sub.Article.AuthorName,
			"authorEmail": sub.Article.AuthorEmail,
			"abstract":    sub.Article.Abstract,
		}
	case domain.KindContact:
		return liquid.Bindings{
			"name":    sub.Contact.Name,
			"email":   sub.Contact.Email,
			"subject": sub.Contact.Subject,
			"body":    sub.Contact.Body,
		}
	case domain.KindNewsletter:
		return liquid.Bindings{
			"email": sub.Newsletter.Email,
		}
	}
	return liquid.Bindings{}
}
