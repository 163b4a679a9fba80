// Package pipeline is the job that runs when an accepted email reaches CI: it
// turns the raw message into a stored post, its attachments and thread
// entry, and optionally commits the result.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/byamadeus/penpal/convert"
	"github.com/byamadeus/penpal/inbound"
	"github.com/byamadeus/penpal/mail"
	"github.com/byamadeus/penpal/post"
	"github.com/byamadeus/penpal/publish"
	"github.com/byamadeus/penpal/token"
)

// ErrEmpty is returned when there is no message to process.
var ErrEmpty = mail.ErrEmpty

// Publisher records the files written for a post.
type Publisher interface {
	Publish(ctx context.Context, msg string, files []string) error
}

// Processor turns raw messages into posts.
type Processor struct {
	store     *post.Store
	secret    string
	publisher Publisher
	mailOpts  []mail.Option
	logger    *zap.Logger
}

// Option configures a Processor.
type Option func(p *Processor)

// WithSecret requires every message to carry secret in its subject. Without
// a secret the token marker is stripped from the subject but not checked.
func WithSecret(secret string) Option {
	return func(p *Processor) { p.secret = secret }
}

// WithPublisher commits each new post through pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithMailOptions passes options through to mail.Parse.
func WithMailOptions(opts ...mail.Option) Option {
	return func(p *Processor) { p.mailOpts = append(p.mailOpts, opts...) }
}

// WithLogger attaches a logger to the processor.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// New returns a processor writing to store.
func New(store *post.Store, opts ...Option) *Processor {
	p := &Processor{
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.mailOpts = append([]mail.Option{mail.WithLogger(p.logger)}, p.mailOpts...)
	return p
}

// Result describes what Process wrote.
type Result struct {
	Slug        string
	Title       string
	Path        string
	Attachments []post.SavedAttachment

	// Thread is the updated thread index, or nil when the message is not a
	// reply.
	Thread *post.Thread
}

// Files lists every file written, for committing.
func (r *Result) Files(store *post.Store) []string {
	files := []string{r.Path}
	for _, a := range r.Attachments {
		files = append(files, a.Path)
	}
	if r.Thread != nil {
		files = append(files, store.ThreadPath(r.Thread.ThreadID))
	}
	return files
}

// Process stores the post built from raw.
func (p *Processor) Process(ctx context.Context, raw []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmpty
	}

	e, err := mail.Parse(bytes.NewReader(raw), p.mailOpts...)
	if err != nil {
		return nil, err
	}

	subject, err := p.subject(e.Subject)
	if err != nil {
		return nil, err
	}

	doc, err := convert.Convert(convert.FromEmail(e, subject))
	if err != nil {
		return nil, err
	}

	src, err := doc.Bytes()
	if err != nil {
		return nil, err
	}

	// resolve the thread first so a broken index fails before anything is
	// written
	threadID := doc.Meta.ThreadID
	var root *post.Post
	if threadID != "" {
		root, err = p.threadRoot(threadID)
		if err != nil {
			return nil, err
		}
	}

	slug, err := p.store.Save(doc.Slug, src)
	if err != nil {
		return nil, fmt.Errorf("save post: %w", err)
	}

	res := &Result{Slug: slug, Title: doc.Title, Path: p.store.PostPath(slug)}

	if len(doc.Attachments) > 0 {
		atts := make([]post.Attachment, len(doc.Attachments))
		for i, a := range doc.Attachments {
			atts[i] = post.Attachment{Filename: a.Filename, Content: a.Content}
		}

		res.Attachments, err = p.store.SaveAttachments(slug, atts)
		if err != nil {
			return nil, fmt.Errorf("save attachments: %w", err)
		}
	}

	if threadID != "" {
		res.Thread, _, err = p.store.StartThread(threadID, root, slug, doc.Meta.MessageID)
		if err != nil {
			return nil, fmt.Errorf("update thread: %w", err)
		}
	}

	p.logger.Info("post created",
		zap.String("slug", slug),
		zap.String("title", doc.Title),
		zap.Int("attachments", len(res.Attachments)),
		zap.Bool("thread", res.Thread != nil))

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, publish.CommitMessage(doc.Title), res.Files(p.store)); err != nil {
			return res, fmt.Errorf("publish %s: %w", slug, err)
		}
	}

	return res, nil
}

func (p *Processor) subject(raw string) (string, error) {
	if p.secret == "" {
		_, clean, _ := token.Extract(raw)
		return clean, nil
	}

	clean, err := token.Check(raw, p.secret)
	if err != nil {
		return "", fmt.Errorf("email rejected: %w", err)
	}
	return clean, nil
}

// threadRoot checks the index of threadID and, when there is none yet,
// returns the stored root post to seed it with. A root that was never stored
// is nil.
func (p *Processor) threadRoot(threadID string) (*post.Post, error) {
	t, err := p.store.Thread(threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if t != nil {
		return nil, nil
	}

	root, err := p.store.ByMessageID(threadID)
	if errors.Is(err, post.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find thread root: %w", err)
	}
	return root, nil
}

// event is the part of a repository_dispatch event payload the pipeline
// needs.
type event struct {
	ClientPayload inbound.ClientPayload `json:"client_payload"`
}

// ReadEvent extracts the raw message from a GitHub repository_dispatch event
// file, as found at $GITHUB_EVENT_PATH.
func ReadEvent(r io.Reader) ([]byte, error) {
	var ev event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	if ev.ClientPayload.Email == "" {
		return nil, ErrEmpty
	}
	return []byte(ev.ClientPayload.Email), nil
}
