// Package inbound is the edge of the blog: it receives email, checks the
// secret token in the subject line and hands accepted messages to the CI
// system that turns them into posts. It keeps no state. A message is either
// forwarded immediately or rejected, never queued or retried.
package inbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/byamadeus/penpal/mail"
	"github.com/byamadeus/penpal/token"
)

// Response messages.
const (
	MsgAccepted      = "Email processed successfully"
	MsgMissingToken  = "Email rejected: Missing token in subject"
	MsgInvalidToken  = "Email rejected: Invalid token"
	msgDispatchError = "Failed to trigger GitHub Actions: "
	msgInternalError = "Internal error: "
)

// Sentinel errors carried inside a RejectError.
var (
	ErrMissingToken = token.ErrMissing
	ErrInvalidToken = token.ErrInvalid
	ErrDispatch     = errors.New("dispatch failed")
)

// RejectError is returned by Relay.Accept when a message is not forwarded.
// Status follows HTTP conventions.
type RejectError struct {
	Status  int
	Message string
	Err     error
}

func (e *RejectError) Error() string {
	return e.Message
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP style status for the result of Accept: 200 for
// nil, the RejectError status when there is one, 500 otherwise.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var rerr *RejectError
	if errors.As(err, &rerr) {
		return rerr.Status
	}
	return http.StatusInternalServerError
}

// Envelope is a message as delivered to the receiver.
type Envelope struct {
	// From and To are the envelope sender and recipient. Either may be
	// empty when the transport does not provide them.
	From string
	To   string

	// Data is the raw RFC 5322 message.
	Data []byte
}

// Relay checks inbound messages and forwards the accepted ones.
type Relay struct {
	secret     string
	dispatcher Dispatcher
	now        func() time.Time
	logger     *zap.Logger
}

// RelayOption configures a Relay.
type RelayOption func(r *Relay)

// WithRelayClock sets the clock used to timestamp forwarded messages.
func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

// WithRelayLogger attaches a logger to the relay.
func WithRelayLogger(logger *zap.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

// NewRelay returns a relay accepting messages whose subject carries secret.
// A relay with an empty secret rejects every message.
func NewRelay(secret string, d Dispatcher, opts ...RelayOption) *Relay {
	r := &Relay{
		secret:     secret,
		dispatcher: d,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if secret == "" {
		r.logger.Warn("no email secret configured; every message will be rejected")
	}

	return r
}

// Accept checks env and forwards it. It returns nil when the message was
// dispatched and a *RejectError otherwise.
func (r *Relay) Accept(ctx context.Context, env Envelope) error {
	log := r.logger.With(zap.String("from", env.From), zap.String("to", env.To))

	if len(env.Data) == 0 {
		return internalError(mail.ErrEmpty)
	}

	subject, err := mail.ReadSubject(bytes.NewReader(env.Data))
	if err != nil {
		log.Error("unreadable email", zap.Error(err))
		return internalError(err)
	}

	if _, err := token.Check(subject, r.secret); err != nil {
		log.Info("email rejected", zap.Error(err))
		if errors.Is(err, token.ErrMissing) {
			return &RejectError{Status: http.StatusBadRequest, Message: MsgMissingToken, Err: err}
		}
		return &RejectError{Status: http.StatusForbidden, Message: MsgInvalidToken, Err: err}
	}

	payload := &ClientPayload{
		Email:     string(env.Data),
		From:      env.From,
		To:        env.To,
		Subject:   subject,
		Timestamp: r.now().UTC().Format(time.RFC3339),
	}

	if err := r.dispatcher.Dispatch(ctx, payload); err != nil {
		log.Error("dispatch failed", zap.Error(err))
		return &RejectError{
			Status:  http.StatusInternalServerError,
			Message: msgDispatchError + err.Error(),
			Err:     fmt.Errorf("%w: %w", ErrDispatch, err),
		}
	}

	log.Info("email dispatched", zap.String("subject", subject))
	return nil
}

func internalError(err error) *RejectError {
	return &RejectError{
		Status:  http.StatusInternalServerError,
		Message: msgInternalError + err.Error(),
		Err:     err,
	}
}
