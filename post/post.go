// Package post stores blog posts as flat files. A post is a Markdown file with
// a YAML front matter header; its attachments live in a directory named after
// the post's slug; posts that came from the same email thread are tied
// together by a small JSON index per thread.
//
// All file access goes through an afero.Fs so the store can be exercised
// against an in-memory file system.
package post

import (
	"bytes"
	"fmt"
	"time"

	"github.com/adrg/frontmatter"
	"github.com/araddon/dateparse"
	"gopkg.in/yaml.v3"
)

// DateLayout is the layout of the date stored in front matter.
const DateLayout = "2006-01-02"

// AttachmentMeta describes an attachment in front matter.
type AttachmentMeta struct {
	Filename    string `yaml:"filename" json:"filename"`
	ContentType string `yaml:"contentType" json:"contentType"`
}

// Meta is the front matter of a post.
type Meta struct {
	Title       string           `yaml:"title"`
	Date        string           `yaml:"date"`
	MessageID   string           `yaml:"messageId"`
	ThreadID    string           `yaml:"threadId,omitempty"`
	Author      string           `yaml:"author,omitempty"`
	Attachments []AttachmentMeta `yaml:"attachments,omitempty"`
}

// Time parses the front matter date. Hand-edited posts are allowed to use any
// reasonable date format. The zero time is returned when the date cannot be
// understood.
func (m *Meta) Time() time.Time {
	if m.Date == "" {
		return time.Time{}
	}
	if t, err := time.Parse(DateLayout, m.Date); err == nil {
		return t
	}
	if t, err := dateparse.ParseAny(m.Date); err == nil {
		return t
	}
	return time.Time{}
}

// Post is a stored post.
type Post struct {
	Slug    string
	Meta    Meta
	Content string
}

// Encode renders front matter and a Markdown body into the on-disk form:
//
//	---
//	title: ...
//	---
//
//	body
func Encode(meta *Meta, body string) ([]byte, error) {
	fm, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	buf := &bytes.Buffer{}
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// Decode splits a stored post into its front matter and Markdown body.
func Decode(slug string, src []byte) (*Post, error) {
	p := &Post{Slug: slug}
	body, err := frontmatter.Parse(bytes.NewReader(src), &p.Meta)
	if err != nil {
		return nil, fmt.Errorf("parse front matter of %q: %w", slug, err)
	}
	p.Content = string(bytes.TrimLeft(body, "\n"))
	return p, nil
}

// Bytes renders the post in its on-disk form.
func (p *Post) Bytes() ([]byte, error) {
	return Encode(&p.Meta, p.Content)
}
