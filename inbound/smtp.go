package inbound

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// DefaultDispatchTimeout bounds how long an SMTP delivery waits for the
// dispatch to complete.
const DefaultDispatchTimeout = 30 * time.Second

// Backend adapts a Relay to an SMTP server. Every message delivered with
// DATA is passed to the relay once per transaction, regardless of how many
// recipients it has.
type Backend struct {
	relay   *Relay
	timeout time.Duration
	logger  *zap.Logger
}

// NewBackend returns an SMTP backend feeding relay.
func NewBackend(relay *Relay, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		relay:   relay,
		timeout: DefaultDispatchTimeout,
		logger:  logger,
	}
}

// NewServer builds an SMTP server listening on addr for domain.
func NewServer(b *Backend, addr, domain string, maxBytes int64) *smtp.Server {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}

	s := smtp.NewServer(b)
	s.Addr = addr
	s.Domain = domain
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 30 * time.Second
	s.MaxMessageBytes = maxBytes
	s.MaxRecipients = 50
	return s
}

// NewSession implements smtp.Backend.
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &Session{
		backend: b,
		logger:  b.logger.With(zap.String("remote", remote)),
	}, nil
}

// Session is one SMTP connection.
type Session struct {
	backend *Backend
	logger  *zap.Logger

	from string
	to   []string
}

func (s *Session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *Session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *Session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, smtp.ErrDataTooLarge) {
			return smtp.ErrDataTooLarge
		}
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Unable to read message",
		}
	}

	env := Envelope{From: s.from, Data: data}
	if len(s.to) > 0 {
		env.To = s.to[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	return smtpError(s.backend.relay.Accept(ctx, env))
}

func (s *Session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *Session) Logout() error {
	return nil
}

// smtpError maps a relay result onto an SMTP reply. A failed dispatch is
// temporary so the sender retries; anything else is permanent.
func smtpError(err error) error {
	if err == nil {
		return nil
	}

	var rerr *RejectError
	if !errors.As(err, &rerr) {
		rerr = internalError(err)
	}

	switch {
	case errors.Is(err, ErrDispatch):
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      rerr.Message,
		}
	default:
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      rerr.Message,
		}
	}
}
