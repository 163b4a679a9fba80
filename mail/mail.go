// Package mail turns a raw RFC 5322 message into the handful of fields a blog
// post needs: the subject, author, date, threading identifiers, the HTML and
// plain text bodies, and any attachments.
//
// The heavy lifting of MIME parsing is done by
// github.com/zostay/go-email/v2. This package walks the parsed part tree once,
// decodes transfer encodings and charsets, and classifies each leaf part as a
// body or an attachment.
package mail

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/zostay/go-addr/pkg/addr"
	"github.com/zostay/go-email/v2/message"
	"github.com/zostay/go-email/v2/message/header"
	"github.com/zostay/go-email/v2/message/walk"
	"go.uber.org/zap"
)

// DefaultFilename is used for attachments that carry no filename at all.
const DefaultFilename = "unnamed"

// Errors returned by Parse.
var (
	// ErrEmpty is returned when the input holds no message at all.
	ErrEmpty = errors.New("no email data provided")
)

// Address is a single parsed mailbox.
type Address struct {
	Name    string
	Address string
}

// String renders the address the way a mail client would display it.
func (a Address) String() string {
	switch {
	case a.Name == "":
		return a.Address
	case a.Address == "":
		return a.Name
	default:
		return fmt.Sprintf("%s <%s>", a.Name, a.Address)
	}
}

// Attachment is a decoded attachment part.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Email is the structured form of a parsed message.
type Email struct {
	Subject    string
	From       Address
	Date       time.Time
	MessageID  string
	InReplyTo  string
	References []string

	HTML string
	Text string

	Attachments []Attachment
}

// ThreadID reports the identifier of the thread this message belongs to. The
// first References entry names the root of the conversation, so it is
// preferred; In-Reply-To is used when References is missing. A message that
// is not a reply returns an empty string.
func (e *Email) ThreadID() string {
	if len(e.References) > 0 {
		return e.References[0]
	}
	return e.InReplyTo
}

type parser struct {
	now      func() time.Time
	newID    func() string
	maxDepth int
	logger   *zap.Logger
}

// Option modifies how Parse works.
type Option func(pr *parser)

// WithClock sets the clock used when the message has no usable Date header.
func WithClock(now func() time.Time) Option {
	return func(pr *parser) { pr.now = now }
}

// WithIDGenerator sets the function used to invent a Message-ID when the
// message lacks one.
func WithIDGenerator(newID func() string) Option {
	return func(pr *parser) { pr.newID = newID }
}

// WithMaxDepth limits how deep into nested multiparts the parser will go.
func WithMaxDepth(depth int) Option {
	return func(pr *parser) { pr.maxDepth = depth }
}

// WithLogger attaches a logger for parse diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(pr *parser) { pr.logger = logger }
}

func defaultParser() *parser {
	return &parser{
		now:      time.Now,
		newID:    func() string { return "msg-" + uuid.NewString() },
		maxDepth: message.DefaultMaxMultipartDepth,
		logger:   zap.NewNop(),
	}
}

// Parse reads a complete message from r.
//
// Missing headers never fail the parse: the date falls back to the current
// time and the message id to a generated one. A multipart message without a
// boundary cannot be split, so its whole body is read as plain text.
func Parse(r io.Reader, opts ...Option) (*Email, error) {
	pr := defaultParser()
	for _, opt := range opts {
		opt(pr)
	}

	msg, err := message.Parse(r,
		message.DecodeTransferEncoding(),
		message.WithMaxDepth(pr.maxDepth),
	)
	if err != nil {
		return nil, fmt.Errorf("parse email: %w", err)
	}

	h := msg.GetHeader()
	if h == nil || h.Len() == 0 {
		return nil, ErrEmpty
	}

	e := &Email{
		Subject:    decodeWords(getString(h, header.Subject)),
		From:       firstAddress(h),
		MessageID:  strings.TrimSpace(getString(h, header.MessageID)),
		InReplyTo:  firstMessageID(getString(h, header.InReplyTo)),
		References: messageIDs(getString(h, header.References)),
	}

	if e.MessageID == "" {
		e.MessageID = pr.newID()
	}

	e.Date = pr.date(h)

	err = walk.AndProcess(
		func(part message.Part, parents []message.Part) error {
			if part.IsMultipart() {
				return nil
			}
			return e.collect(part)
		},
		msg,
	)
	if err != nil {
		return nil, fmt.Errorf("read email parts: %w", err)
	}

	return e, nil
}

// date reads the Date header. Dates that are not quite RFC 5322 are given a
// second chance with a lenient parser before falling back to the clock.
func (pr *parser) date(h *header.Header) time.Time {
	d, err := h.GetDate()
	if err == nil {
		return d.UTC()
	}

	if raw := getString(h, header.Date); raw != "" {
		if d, perr := dateparse.ParseAny(raw); perr == nil {
			return d.UTC()
		}
	}

	pr.logger.Debug("falling back to current time for post date", zap.Error(err))
	return pr.now().UTC()
}

// collect classifies a single leaf part.
func (e *Email) collect(part message.Part) error {
	h := part.GetHeader()

	mediaType, err := h.GetMediaType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	mediaType = strings.ToLower(mediaType)
	if strings.HasPrefix(mediaType, "multipart/") {
		// left unsplit by the parser
		mediaType = "text/plain"
	}

	presentation, _ := h.GetPresentation()
	filename := partFilename(h)

	attached := strings.EqualFold(presentation, "attachment")
	isText := mediaType == "text/plain" || mediaType == "text/html"

	if isText && !attached {
		switch {
		case mediaType == "text/html" && e.HTML == "":
			body, err := readText(h, part.GetReader())
			if err != nil {
				return err
			}
			e.HTML = body
			return nil
		case mediaType == "text/plain" && e.Text == "":
			body, err := readText(h, part.GetReader())
			if err != nil {
				return err
			}
			e.Text = body
			return nil
		case filename == "":
			// an extra body alternative with nothing to save it as
			return nil
		}
	}

	if !attached && filename == "" {
		return nil
	}

	if filename == "" {
		filename = DefaultFilename
	}

	var content []byte
	if r := part.GetReader(); r != nil {
		content, err = io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read attachment %q: %w", filename, err)
		}
	}

	e.Attachments = append(e.Attachments, Attachment{
		Filename:    filename,
		ContentType: mediaType,
		Content:     content,
	})

	return nil
}

func getString(h *header.Header, name string) string {
	v, err := h.Get(name)
	if err != nil && !errors.Is(err, header.ErrManyFields) {
		return ""
	}
	return v
}

func firstAddress(h *header.Header) Address {
	al, err := h.GetFrom()
	if err != nil {
		return Address{}
	}
	return mailbox(al)
}

// mailbox picks the first mailbox out of an address list, skipping groups.
func mailbox(al addr.AddressList) Address {
	for _, a := range al {
		if mb, ok := a.(*addr.Mailbox); ok {
			return Address{
				Name:    displayName(mb),
				Address: mb.Address(),
			}
		}
	}
	return Address{}
}

// displayName returns the phrase in front of the angle address. The parsed
// display name of an unquoted phrase has its spaces folded away, so that form
// is read back from the original text.
func displayName(mb *addr.Mailbox) string {
	name := mb.DisplayName()
	orig := mb.OriginalString()
	if i := strings.LastIndex(orig, "<"); i > 0 {
		if phrase := strings.TrimSpace(orig[:i]); phrase != "" && !strings.HasPrefix(phrase, `"`) {
			name = phrase
		}
	}
	return strings.Trim(decodeWords(name), `"`)
}

func partFilename(h *header.Header) string {
	if fn, err := h.GetFilename(); err == nil && fn != "" {
		return decodeWords(fn)
	}

	if ct, err := h.GetContentType(); err == nil {
		if fn := ct.Parameter("name"); fn != "" {
			return decodeWords(fn)
		}
	}

	return ""
}

var msgIDPattern = regexp.MustCompile(`<[^<>\s]+>`)

// messageIDs pulls the angle-bracketed identifiers out of a References style
// field in order. Bare identifiers without brackets are accepted when no
// bracketed ones are present.
func messageIDs(body string) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	ids := msgIDPattern.FindAllString(body, -1)
	if len(ids) > 0 {
		return ids
	}

	return strings.Fields(body)
}

func firstMessageID(body string) string {
	ids := messageIDs(body)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// ReadSubject parses only the top-level header of the message in r and
// returns its decoded Subject. The body is never examined.
func ReadSubject(r io.Reader) (string, error) {
	msg, err := message.Parse(r, message.WithoutMultipart())
	if err != nil {
		return "", fmt.Errorf("parse email header: %w", err)
	}

	h := msg.GetHeader()
	if h == nil || h.Len() == 0 {
		return "", ErrEmpty
	}

	return decodeWords(getString(h, header.Subject)), nil
}
