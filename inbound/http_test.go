package inbound_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byamadeus/penpal/inbound"
)

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_Email(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	h := inbound.NewHandler(newRelay(secret, rec), 0, nil)

	req := httptest.NewRequest(http.MethodPost, "/email", bytes.NewReader(message("[TOKEN-s3cret] Hi")))
	req.Header.Set(inbound.HeaderEnvelopeFrom, "author@example.com")
	req.Header.Set(inbound.HeaderEnvelopeTo, "blog@example.com")

	rr := serve(t, h, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, inbound.MsgAccepted, rr.Body.String())

	require.Len(t, rec.payloads, 1)
	assert.Equal(t, "author@example.com", rec.payloads[0].From)
	assert.Equal(t, "blog@example.com", rec.payloads[0].To)
}

func TestHandler_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		subject string
		err     error
		status  int
		body    string
	}{
		{"missing token", "Hi", nil, http.StatusBadRequest, inbound.MsgMissingToken},
		{"invalid token", "[TOKEN-x] Hi", nil, http.StatusForbidden, inbound.MsgInvalidToken},
		{"dispatch failure", "[TOKEN-s3cret] Hi", errors.New("boom"), http.StatusInternalServerError, "Failed to trigger GitHub Actions: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := inbound.NewHandler(newRelay(secret, &recorder{err: tt.err}), 0, nil)
			req := httptest.NewRequest(http.MethodPost, "/email", bytes.NewReader(message(tt.subject)))

			rr := serve(t, h, req)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.body, rr.Body.String())
		})
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := inbound.NewHandler(newRelay(secret, &recorder{}), 0, nil)
	rr := serve(t, h, httptest.NewRequest(http.MethodGet, "/email", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestHandler_TooLarge(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	h := inbound.NewHandler(newRelay(secret, rec), 64, nil)
	body := append(message("[TOKEN-s3cret] Hi"), []byte(strings.Repeat("x", 100))...)

	rr := serve(t, h, httptest.NewRequest(http.MethodPost, "/email", bytes.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, rec.payloads)
}

func TestHandler_ReadError(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	h := inbound.NewHandler(newRelay(secret, rec), 0, nil)
	body := iotest.ErrReader(errors.New("connection reset"))

	rr := serve(t, h, httptest.NewRequest(http.MethodPost, "/email", body))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Internal error: connection reset", rr.Body.String())
	assert.Empty(t, rec.payloads)
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	h := inbound.NewHandler(newRelay(secret, &recorder{}), 0, nil)
	rr := serve(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
