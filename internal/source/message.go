package source

import (
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/zeroinbox/mailscrub/internal/corpus"
)

// wordDecoder tolerates unknown charsets by passing bytes through
// unchanged. Old corpus mail is full of mislabeled encodings.
var wordDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	},
}

var htmlPolicy = bluemonday.StrictPolicy()

// parseMessage reads one RFC 822 message and reduces it to a corpus
// record: decoded subject and sender headers plus a plain-text body.
func parseMessage(r io.Reader, sourceName string) (corpus.Record, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return corpus.Record{}, fmt.Errorf("failed to parse message: %w", err)
	}

	return corpus.Record{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		From:    decodeHeader(msg.Header.Get("From")),
		Body: extractBody(
			msg.Header.Get("Content-Type"),
			msg.Header.Get("Content-Transfer-Encoding"),
			msg.Body,
		),
		Source: sourceName,
	}, nil
}

// decodeHeader decodes MIME encoded-words, falling back to the raw
// value when decoding fails.
func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(decoded)
}

// extractBody pulls the text body out of a message. Multipart messages
// prefer the first text/plain part and fall back to stripped text/html.
// Attachments and binary parts are ignored.
func extractBody(contentType, encoding string, r io.Reader) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return extractMultipart(r, params["boundary"])
	case mediaType == "text/html":
		return htmlToText(readPart(r, encoding))
	case strings.HasPrefix(mediaType, "text/"):
		return strings.TrimSpace(readPart(r, encoding))
	default:
		return ""
	}
}

// extractMultipart walks the parts of a multipart body. A malformed
// boundary ends the walk with whatever was collected so far.
func extractMultipart(r io.Reader, boundary string) string {
	if boundary == "" {
		return ""
	}

	reader := multipart.NewReader(r, boundary)
	var htmlFallback string

	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		if part.FileName() != "" {
			continue
		}

		encoding := part.Header.Get("Content-Transfer-Encoding")
		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			mediaType = "text/plain"
		}

		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			if text := extractMultipart(part, params["boundary"]); text != "" {
				return text
			}
		case mediaType == "" || mediaType == "text/plain":
			if text := strings.TrimSpace(readPart(part, encoding)); text != "" {
				return text
			}
		case mediaType == "text/html":
			if htmlFallback == "" {
				htmlFallback = htmlToText(readPart(part, encoding))
			}
		}
	}

	return htmlFallback
}

// readPart reads a body or part applying its transfer encoding,
// keeping whatever decoded cleanly when the stream is truncated.
func readPart(r io.Reader, encoding string) string {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	data, _ := io.ReadAll(r)
	return string(data)
}

// htmlToText strips markup and resolves entities, leaving the visible
// text for the scrubber to work on.
func htmlToText(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlPolicy.Sanitize(s)))
}
