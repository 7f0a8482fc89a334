// Package mimeparse summarizes RFC 5322 messages: the headers an operator
// looks for and the shape of the MIME tree, without decoding bodies.
package mimeparse

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
)

// maxDepth bounds multipart nesting.
const maxDepth = 10

// Summary describes a relayed message.
type Summary struct {
	Subject     string
	From        string
	MessageID   string
	Date        string
	MediaType   string
	Parts       int
	Attachments []string
}

var wordDecoder = new(mime.WordDecoder)

// Summarize reads the headers of raw and walks its MIME parts. A malformed
// multipart body still yields the headers along with the error.
func Summarize(raw []byte) (*Summary, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mimeparse: read message: %w", err)
	}

	s := &Summary{
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		From:      decodeHeader(msg.Header.Get("From")),
		MessageID: strings.Trim(msg.Header.Get("Message-Id"), "<> "),
		Date:      msg.Header.Get("Date"),
		MediaType: "text/plain",
	}

	ct := msg.Header.Get("Content-Type")
	if ct == "" {
		s.Parts = 1
		return s, nil
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return s, fmt.Errorf("mimeparse: parse content-type: %w", err)
	}
	s.MediaType = mediaType

	if !strings.HasPrefix(mediaType, "multipart/") {
		s.Parts = 1
		return s, nil
	}
	if params["boundary"] == "" {
		return s, fmt.Errorf("mimeparse: multipart message missing boundary")
	}
	return s, walk(msg.Body, params["boundary"], s, 1)
}

func walk(r io.Reader, boundary string, s *Summary, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("mimeparse: multipart nesting deeper than %d", maxDepth)
	}
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mimeparse: next part: %w", err)
		}

		mediaType := "text/plain"
		var params map[string]string
		if ct := part.Header.Get("Content-Type"); ct != "" {
			if mediaType, params, err = mime.ParseMediaType(ct); err != nil {
				mediaType = "application/octet-stream"
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
			if err := walk(part, params["boundary"], s, depth+1); err != nil {
				return err
			}
			continue
		}

		s.Parts++
		if name, ok := attachmentName(part, params); ok {
			s.Attachments = append(s.Attachments, name)
		}
	}
}

// attachmentName reports whether part is an attachment and its file name.
func attachmentName(part *multipart.Part, params map[string]string) (string, bool) {
	var name string
	isAttachment := false
	if cd := part.Header.Get("Content-Disposition"); cd != "" {
		if disp, dparams, err := mime.ParseMediaType(cd); err == nil {
			isAttachment = strings.EqualFold(disp, "attachment")
			name = dparams["filename"]
		}
	}
	if name == "" {
		name = params["name"]
	}
	if name != "" {
		isAttachment = true
	}
	return decodeHeader(name), isAttachment
}

func decodeHeader(v string) string {
	if out, err := wordDecoder.DecodeHeader(v); err == nil {
		return out
	}
	return v
}
