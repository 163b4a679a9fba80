package inbound

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// DefaultMaxMessageBytes bounds the size of an accepted message.
const DefaultMaxMessageBytes int64 = 25 << 20

// Headers carrying the envelope on an HTTP delivery.
const (
	HeaderEnvelopeFrom = "X-Envelope-From"
	HeaderEnvelopeTo   = "X-Envelope-To"
)

// Handler serves the HTTP intake:
//
//	POST /email    raw message in the body
//	GET  /healthz  liveness
type Handler struct {
	relay    *Relay
	maxBytes int64
	logger   *zap.Logger
	mux      *http.ServeMux
}

// NewHandler returns the HTTP intake for relay. A maxBytes of zero or less
// means DefaultMaxMessageBytes.
func NewHandler(relay *Relay, maxBytes int64, logger *zap.Logger) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		relay:    relay,
		maxBytes: maxBytes,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("/email", h.handleEmail)
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) handleEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeText(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Email rejected: message exceeds %d bytes", h.maxBytes))
			return
		}
		writeText(w, http.StatusInternalServerError, msgInternalError+err.Error())
		return
	}

	err = h.relay.Accept(r.Context(), Envelope{
		From: r.Header.Get(HeaderEnvelopeFrom),
		To:   r.Header.Get(HeaderEnvelopeTo),
		Data: data,
	})
	if err != nil {
		writeText(w, StatusOf(err), err.Error())
		return
	}

	writeText(w, http.StatusOK, MsgAccepted)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
