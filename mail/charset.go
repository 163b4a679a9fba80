package mail

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/zostay/go-email/v2/message/header"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// charsetReader wraps input so that it yields UTF-8 regardless of the declared
// charset. Unknown charsets are an error.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return input, nil
	}
	return enc.NewDecoder().Reader(input), nil
}

// lookupCharset returns nil when no transcoding is needed.
func lookupCharset(charset string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc, nil
}

// decodeWords decodes RFC 2047 encoded-words. Text that fails to decode is
// returned as-is.
func decodeWords(s string) string {
	if !strings.Contains(s, "=?") {
		return strings.TrimSpace(s)
	}

	d, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(d)
}

// readText reads a text part, transcoding from its declared charset to UTF-8
// and normalizing line endings to \n. An undecodable charset falls back to
// the raw bytes.
func readText(h *header.Header, r io.Reader) (string, error) {
	if r == nil {
		return "", nil
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read text part: %w", err)
	}

	text := string(raw)
	if charset, err := h.GetCharset(); err == nil {
		if enc, err := lookupCharset(charset); err == nil && enc != nil {
			if decoded, err := enc.NewDecoder().String(text); err == nil {
				text = decoded
			}
		}
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text, nil
}
