// Package convert turns a parsed email into a Markdown post: the HTML body is
// converted to Markdown (plain text is used as-is when there is no HTML), the
// subject becomes the title and slug, and the metadata is gathered into front
// matter.
package convert

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/godown"

	"github.com/byamadeus/penpal/mail"
	"github.com/byamadeus/penpal/post"
)

// DefaultTitle is used when an email arrives without a subject.
const DefaultTitle = "Untitled Post"

// Input is everything the converter needs from an email.
type Input struct {
	// Subject is the subject with any token marker removed.
	Subject string

	HTML string
	Text string

	Attachments []mail.Attachment

	ThreadID  string
	MessageID string
	Author    string
	Date      time.Time
}

// FromEmail builds converter input from a parsed email, using subject in place
// of the email's own subject.
func FromEmail(e *mail.Email, subject string) Input {
	return Input{
		Subject:     subject,
		HTML:        e.HTML,
		Text:        e.Text,
		Attachments: e.Attachments,
		ThreadID:    e.ThreadID(),
		MessageID:   e.MessageID,
		Author:      e.From.String(),
		Date:        e.Date,
	}
}

// Document is a converted post, ready to be stored.
type Document struct {
	Title    string
	Slug     string
	Markdown string
	Meta     post.Meta

	// Attachments carry the names they will be stored under, which match
	// the names listed in Meta.
	Attachments []mail.Attachment
}

// Bytes renders the document with its front matter.
func (d *Document) Bytes() ([]byte, error) {
	return post.Encode(&d.Meta, d.Markdown)
}

// Convert builds a Document from the input.
func Convert(in Input) (*Document, error) {
	body := in.Text
	if strings.TrimSpace(in.HTML) != "" {
		md, err := HTMLToMarkdown(in.HTML)
		if err != nil {
			return nil, err
		}
		body = md
	}

	title := strings.TrimSpace(in.Subject)
	if title == "" {
		title = DefaultTitle
	}

	d := &Document{
		Title:    title,
		Slug:     Slugify(title),
		Markdown: body,
		Meta: post.Meta{
			Title:     title,
			Date:      in.Date.UTC().Format(post.DateLayout),
			MessageID: in.MessageID,
			ThreadID:  in.ThreadID,
			Author:    in.Author,
		},
	}

	if len(in.Attachments) > 0 {
		names := make([]string, len(in.Attachments))
		for i, att := range in.Attachments {
			names[i] = att.Filename
		}

		d.Attachments = make([]mail.Attachment, len(in.Attachments))
		for i, name := range post.AttachmentNames(names) {
			att := in.Attachments[i]
			att.Filename = name
			d.Attachments[i] = att
			d.Meta.Attachments = append(d.Meta.Attachments, post.AttachmentMeta{
				Filename:    name,
				ContentType: att.ContentType,
			})
		}
	}

	return d, nil
}

// HTMLToMarkdown converts an HTML fragment or document to Markdown.
func HTMLToMarkdown(html string) (string, error) {
	var buf bytes.Buffer
	if err := godown.Convert(&buf, strings.NewReader(html), nil); err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}
