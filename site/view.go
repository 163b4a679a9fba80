package site

import (
	"html/template"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/byamadeus/penpal/post"
)

const (
	// PreviewLength is the number of characters of a post shown on the index.
	PreviewLength = 150

	// DisplayDate is how dates are shown on pages.
	DisplayDate = "January 2, 2006"

	untitled = "Untitled"
)

type pageData struct {
	Site  Info
	Title string
	Index *indexView
	Post  *postView
}

type indexView struct {
	Count int
	Cards []card
}

type card struct {
	URL         string
	Title       string
	Date        string
	Thread      bool
	Preview     string
	Attachments int
}

type postView struct {
	Slug        string
	Title       string
	Date        string
	Thread      bool
	Body        template.HTML
	Attachments []attachmentView
	Series      *seriesView
}

type attachmentView struct {
	Filename    string
	ContentType string
	URL         string
	Image       bool
}

type seriesView struct {
	Count   int
	Current int
	Entries []seriesEntry
}

type seriesEntry struct {
	URL     string
	Title   string
	Date    string
	Current bool
}

func (s *Site) postURL(slug string) string {
	return s.info.Base + "post/" + url.PathEscape(slug) + "/"
}

func (s *Site) attachmentURL(slug, filename string) string {
	return s.info.Base + "attachments/" + url.PathEscape(slug) + "/" + url.PathEscape(filename)
}

func (s *Site) indexData(posts []*post.Post) *pageData {
	v := &indexView{Count: len(posts), Cards: make([]card, 0, len(posts))}
	for _, p := range posts {
		v.Cards = append(v.Cards, card{
			URL:         s.postURL(p.Slug),
			Title:       title(p),
			Date:        displayDate(&p.Meta),
			Thread:      p.Meta.ThreadID != "",
			Preview:     Preview(p.Content),
			Attachments: len(p.Meta.Attachments),
		})
	}
	return &pageData{Site: s.info, Index: v}
}

// postData builds the view of one post. Series members are looked up in
// known first and loaded from the store otherwise.
func (s *Site) postData(p *post.Post, known map[string]*post.Post) (*pageData, error) {
	body, err := s.md.Render(p.Content)
	if err != nil {
		return nil, err
	}

	v := &postView{
		Slug:   p.Slug,
		Title:  title(p),
		Date:   displayDate(&p.Meta),
		Thread: p.Meta.ThreadID != "",
		Body:   body,
	}

	for _, a := range p.Meta.Attachments {
		v.Attachments = append(v.Attachments, attachmentView{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			URL:         s.attachmentURL(p.Slug, a.Filename),
			Image:       isImage(a),
		})
	}

	t, err := s.store.ThreadFor(p)
	if err != nil {
		s.logger.Sugar().Warnw("thread index unreadable", "slug", p.Slug, "error", err)
	} else if t != nil && len(t.Posts) > 1 {
		v.Series = s.series(t, p.Slug, known)
	}

	return &pageData{Site: s.info, Title: v.Title, Post: v}, nil
}

func (s *Site) series(t *post.Thread, current string, known map[string]*post.Post) *seriesView {
	sv := &seriesView{Count: len(t.Posts)}
	for i, e := range t.Posts {
		entry := seriesEntry{
			URL:     s.postURL(e.Slug),
			Title:   untitled,
			Current: e.Slug == current,
		}

		member, ok := known[e.Slug]
		if !ok {
			if p, err := s.store.BySlug(e.Slug); err == nil {
				member = p
			}
		}
		if member != nil {
			entry.Title = title(member)
			entry.Date = displayDate(&member.Meta)
		}

		if entry.Current {
			sv.Current = i + 1
		}
		sv.Entries = append(sv.Entries, entry)
	}
	return sv
}

func title(p *post.Post) string {
	if t := strings.TrimSpace(p.Meta.Title); t != "" {
		return t
	}
	return untitled
}

func displayDate(m *post.Meta) string {
	if t := m.Time(); !t.IsZero() {
		return t.Format(DisplayDate)
	}
	return m.Date
}

// Preview returns the start of a post body for the index page, cut to
// PreviewLength characters.
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= PreviewLength {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(string(r[:PreviewLength])) + "..."
}

func isImage(a post.AttachmentMeta) bool {
	ct := a.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(a.Filename))
	}
	return strings.HasPrefix(strings.ToLower(ct), "image/")
}
