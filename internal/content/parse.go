package content

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// UnparseableSubject is returned as the subject when a raw message cannot be
// parsed at all. Callers should prefer the envelope subject in that case.
const UnparseableSubject = "(unparseable message)"

// maxPartBytes caps how much of a single text part is read into memory.
const maxPartBytes = 1 << 20

func init() {
	// QQ/163 style mailboxes label bodies as gbk, which go-message does not know.
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
}

// Parsed is the readable content of a raw RFC 5322 message.
type Parsed struct {
	Subject string
	Text    string
	HTML    string
}

// ParseError reports a message that could not be read as MIME. The Parsed
// value returned alongside it is still usable.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse extracts subject, text and HTML bodies from a raw message. It walks
// the whole MIME tree, so multipart/mixed wrapping multipart/alternative is
// handled, and attachments are skipped. On failure it returns empty bodies,
// UnparseableSubject and a *ParseError.
func Parse(raw []byte) (Parsed, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return Parsed{Subject: UnparseableSubject}, &ParseError{Err: err}
	}

	var p Parsed

	h := mail.Header{Header: entity.Header}
	if subject, err := h.Subject(); err == nil {
		p.Subject = subject
	} else {
		p.Subject = h.Get("Subject")
	}

	p.Text, p.HTML = extractBodies(entity)

	return p, nil
}

// extractBodies returns the first inline text/plain and text/html parts found
// in the entity tree.
func extractBodies(entity *message.Entity) (string, string) {
	var text, html string

	_ = entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil {
			// Faulty part; keep whatever was collected so far.
			return nil
		}

		mediaType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		if disposition, _, _ := part.Header.ContentDisposition(); disposition == "attachment" {
			return nil
		}

		// A non-multipart message without Content-Type is text/plain.
		if mediaType == "" {
			mediaType = "text/plain"
		}

		if mediaType != "text/plain" && mediaType != "text/html" {
			return nil
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			return nil
		}

		switch {
		case mediaType == "text/plain" && text == "":
			text = string(body)
		case mediaType == "text/html" && html == "":
			html = string(body)
		}

		return nil
	})

	return text, html
}
