// ABOUTME: Contact form model and the admin notification email built from it
// ABOUTME: Renders a Markdown template to HTML with goldmark, escaping everything the visitor typed

package mail

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/yuin/goldmark"
)

const (
	maxFieldLength   = 200
	maxMessageLength = 5000
)

// ErrInvalidContact is returned when a contact form fails validation
var ErrInvalidContact = errors.New("invalid contact form")

//go:embed templates/contact_admin.md
var contactAdminSource string

var contactAdminTemplate = template.Must(template.New("contact_admin").Parse(contactAdminSource))

// ContactForm is what a visitor submits through the public contact endpoint.
type ContactForm struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Subject     string `json:"subject"`
	Message     string `json:"message"`
}

// Validate checks that every field is present and the email parses.
func (f *ContactForm) Validate() error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"name", f.Name, maxFieldLength},
		{"email", f.Email, maxFieldLength},
		{"phoneNumber", f.PhoneNumber, maxFieldLength},
		{"subject", f.Subject, maxFieldLength},
		{"message", f.Message, maxMessageLength},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidContact, field.name)
		}
		if utf8.RuneCountInString(field.value) > field.max {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidContact, field.name, field.max)
		}
	}
	if strings.ContainsAny(f.Subject, "\r\n") {
		return fmt.Errorf("%w: subject must be a single line", ErrInvalidContact)
	}
	if _, err := netmail.ParseAddress(f.Email); err != nil {
		return fmt.Errorf("%w: email: %v", ErrInvalidContact, err)
	}
	return nil
}

// RenderContactAdmin builds the notification sent to the shop admin. The
// visitor's address becomes Reply-To; From and To are left for the caller.
func RenderContactAdmin(form ContactForm) (*Email, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}

	escaped := ContactForm{
		Name:        escapeMarkdown(form.Name),
		Email:       escapeMarkdown(form.Email),
		PhoneNumber: escapeMarkdown(form.PhoneNumber),
		Subject:     escapeMarkdown(form.Subject),
		Message:     escapeMarkdownBlock(form.Message),
	}

	var md bytes.Buffer
	if err := contactAdminTemplate.Execute(&md, escaped); err != nil {
		return nil, fmt.Errorf("executing contact template: %w", err)
	}

	var html bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &html); err != nil {
		return nil, fmt.Errorf("rendering contact email: %w", err)
	}

	return &Email{
		ReplyTo: form.Email,
		Subject: "[Contact] " + strings.TrimSpace(form.Subject),
		Text:    contactText(form),
		HTML:    html.String(),
	}, nil
}

func contactText(form ContactForm) string {
	var b strings.Builder
	b.WriteString("New contact request\n\n")
	fmt.Fprintf(&b, "Name: %s\n", form.Name)
	fmt.Fprintf(&b, "Email: %s\n", form.Email)
	fmt.Fprintf(&b, "Phone: %s\n", form.PhoneNumber)
	fmt.Fprintf(&b, "Subject: %s\n\n", form.Subject)
	b.WriteString(form.Message)
	b.WriteString("\n")
	return b.String()
}

// escapeMarkdown backslash-escapes ASCII punctuation so visitor input renders
// literally. Escaped '<' and '&' come out of goldmark as entities.
func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r < utf8.RuneSelf && strings.ContainsRune("\\`*_{}[]()<>#+-.!|~&\"'=:", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeMarkdownBlock escapes each line and keeps line breaks as hard breaks.
func escapeMarkdownBlock(s string) string {
	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(s), "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = escapeMarkdown(line)
	}
	return strings.Join(lines, "  \n")
}
