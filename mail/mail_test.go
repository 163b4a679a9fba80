package mail_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byamadeus/penpal/mail"
)

const simpleMsg = `From: "Sterling Hanenkamp" <sterling@example.com>
To: blog@example.com
Subject: [TOKEN-abc] Hello World
Date: Mon, 02 Jan 2006 15:04:05 -0700
Message-ID: <first@example.com>
Content-Type: text/plain; charset=utf-8

Hello World!
Second line.
`

// micro-GIF borrowed from the go-email walk tests
const complexMsg = `From: sterling@example.com
To: blog@example.com
Subject: [TOKEN-abc] Part Two
Date: Tue, 03 Jan 2006 10:00:00 +0000
Message-ID: <second@example.com>
In-Reply-To: <first@example.com>
References: <root@example.com> <first@example.com>
Content-Type: multipart/mixed; boundary=__boundary-one__

--__boundary-one__
Content-Type: multipart/alternative; boundary=__boundary-two__

--__boundary-two__
Content-Type: text/plain; charset=utf-8

Hello *World*!
--__boundary-two__
Content-Type: text/html; charset=utf-8

<p>Hello <strong>World</strong>!</p>
--__boundary-two__--
--__boundary-one__
Content-Type: application/pdf
Content-Disposition: attachment; filename=micro.pdf

%PDF-1.
trailer<</Root<</Pages<</Kids[<</MediaBox[0 0 3 3]>>]>>>>>>
--__boundary-one__
Content-Type: image/gif; name=att-1.gif
Content-Transfer-Encoding: base64

R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7
--__boundary-one__--
`

const bareMsg = `Subject: =?UTF-8?B?SMOpbGxv?=
Content-Type: text/plain; charset=iso-8859-1
Content-Transfer-Encoding: quoted-printable

caf=E9
`

func TestParse_Simple(t *testing.T) {
	t.Parallel()

	e, err := mail.Parse(strings.NewReader(simpleMsg))
	require.NoError(t, err)

	assert.Equal(t, "[TOKEN-abc] Hello World", e.Subject)
	assert.Equal(t, "sterling@example.com", e.From.Address)
	assert.Equal(t, "Sterling Hanenkamp", e.From.Name)
	assert.Equal(t, "Sterling Hanenkamp <sterling@example.com>", e.From.String())
	assert.Equal(t, "<first@example.com>", e.MessageID)
	assert.Equal(t, time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), e.Date)
	assert.Equal(t, "Hello World!\nSecond line.\n", e.Text)
	assert.Empty(t, e.HTML)
	assert.Empty(t, e.Attachments)
	assert.Empty(t, e.ThreadID())
}

func TestParse_Multipart(t *testing.T) {
	t.Parallel()

	e, err := mail.Parse(strings.NewReader(complexMsg))
	require.NoError(t, err)

	assert.Equal(t, "[TOKEN-abc] Part Two", e.Subject)
	assert.Equal(t, "<first@example.com>", e.InReplyTo)
	assert.Equal(t, []string{"<root@example.com>", "<first@example.com>"}, e.References)
	assert.Equal(t, "<root@example.com>", e.ThreadID())

	assert.Contains(t, e.HTML, "<strong>World</strong>")
	assert.Contains(t, e.Text, "Hello *World*!")

	require.Len(t, e.Attachments, 2)

	pdf := e.Attachments[0]
	assert.Equal(t, "micro.pdf", pdf.Filename)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, strings.HasPrefix(string(pdf.Content), "%PDF-1."))

	gif := e.Attachments[1]
	assert.Equal(t, "att-1.gif", gif.Filename)
	assert.Equal(t, "image/gif", gif.ContentType)
	assert.True(t, strings.HasPrefix(string(gif.Content), "GIF89a"), "base64 content is decoded")
}

func TestParse_MissingHeaders(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("X", 3600))
	e, err := mail.Parse(strings.NewReader(bareMsg),
		mail.WithClock(func() time.Time { return now }),
		mail.WithIDGenerator(func() string { return "msg-fixed" }),
	)
	require.NoError(t, err)

	assert.Equal(t, "Héllo", e.Subject)
	assert.Equal(t, "msg-fixed", e.MessageID)
	assert.Equal(t, now.UTC(), e.Date)
	assert.Equal(t, "café\n", e.Text)
	assert.Equal(t, mail.Address{}, e.From)
}

func TestParse_GeneratedMessageID(t *testing.T) {
	t.Parallel()

	e, err := mail.Parse(strings.NewReader(bareMsg))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e.MessageID, "msg-"))
}

func TestEmail_ThreadID(t *testing.T) {
	t.Parallel()

	e := &mail.Email{InReplyTo: "<parent@x>"}
	assert.Equal(t, "<parent@x>", e.ThreadID())

	e.References = []string{"<root@x>", "<parent@x>"}
	assert.Equal(t, "<root@x>", e.ThreadID())

	assert.Empty(t, (&mail.Email{}).ThreadID())
}

func TestAddress_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a@example.com", mail.Address{Address: "a@example.com"}.String())
	assert.Equal(t, "A", mail.Address{Name: "A"}.String())
	assert.Equal(t, "A <a@example.com>", mail.Address{Name: "A", Address: "a@example.com"}.String())
}

func TestParse_LenientDate(t *testing.T) {
	t.Parallel()

	msg := "From: Blog Author <author@example.com>\nSubject: Dated\nDate: 2024-03-04 10:00:00\n\nbody\n"
	e, err := mail.Parse(strings.NewReader(msg),
		mail.WithClock(func() time.Time { return time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), e.Date)
	assert.Equal(t, mail.Address{Name: "Blog Author", Address: "author@example.com"}, e.From)
}

func TestReadSubject(t *testing.T) {
	t.Parallel()

	s, err := mail.ReadSubject(strings.NewReader(simpleMsg))
	require.NoError(t, err)
	assert.Equal(t, "[TOKEN-abc] Hello World", s)

	s, err = mail.ReadSubject(strings.NewReader(bareMsg))
	require.NoError(t, err)
	assert.Equal(t, "Héllo", s)

	_, err = mail.ReadSubject(strings.NewReader(""))
	assert.Error(t, err)
}

const attachmentsMsg = "From: author@example.com\n" +
	"Subject: Pictures\n" +
	"Message-ID: <pics@example.com>\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\n" +
	"\n" +
	"--XYZ\n" +
	"Content-Type: text/plain; charset=utf-8\n" +
	"\n" +
	"See attached.\n" +
	"--XYZ\n" +
	"Content-Type: image/png; name=\"pic.png\"\n" +
	"\n" +
	"not really a png\n" +
	"--XYZ\n" +
	"Content-Type: application/octet-stream\n" +
	"Content-Disposition: attachment\n" +
	"\n" +
	"mystery bytes\n" +
	"--XYZ--\n"

func TestParse_AttachmentNames(t *testing.T) {
	t.Parallel()

	e, err := mail.Parse(strings.NewReader(attachmentsMsg))
	require.NoError(t, err)

	assert.Equal(t, "See attached.", strings.TrimSpace(e.Text))
	require.Len(t, e.Attachments, 2)

	assert.Equal(t, "pic.png", e.Attachments[0].Filename)
	assert.Equal(t, "image/png", e.Attachments[0].ContentType)
	assert.Equal(t, "not really a png", strings.TrimSpace(string(e.Attachments[0].Content)))

	assert.Equal(t, mail.DefaultFilename, e.Attachments[1].Filename)
	assert.Equal(t, "application/octet-stream", e.Attachments[1].ContentType)
	assert.Equal(t, "mystery bytes", strings.TrimSpace(string(e.Attachments[1].Content)))
}

func TestParse_MultipartWithoutBoundary(t *testing.T) {
	t.Parallel()

	const msg = "From: author@example.com\n" +
		"Subject: Broken\n" +
		"Content-Type: multipart/mixed\n" +
		"\n" +
		"Just some text.\n"

	e, err := mail.Parse(strings.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, "Broken", e.Subject)
	assert.Equal(t, "Just some text.", strings.TrimSpace(e.Text))
	assert.Empty(t, e.HTML)
	assert.Empty(t, e.Attachments)
}

func TestParse_FromDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from string
		want mail.Address
	}{
		{"Blog Author <author@example.com>", mail.Address{Name: "Blog Author", Address: "author@example.com"}},
		{`"Quoted Name" <author@example.com>`, mail.Address{Name: "Quoted Name", Address: "author@example.com"}},
		{"author@example.com", mail.Address{Address: "author@example.com"}},
	}

	for _, tt := range tests {
		e, err := mail.Parse(strings.NewReader("From: " + tt.from + "\nSubject: hi\n\nbody\n"))
		require.NoError(t, err, tt.from)
		assert.Equal(t, tt.want, e.From, tt.from)
	}
}
