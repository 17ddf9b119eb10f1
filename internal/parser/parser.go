// Package parser turns raw inbound email bytes into a re-walkable MIME
// structure with decoded headers and extracted bodies. The bounce
// classifier and the sync engine both need to traverse the same message
// more than once, so parts are materialized in memory instead of being
// consumed from the entity's streaming reader.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/sirupsen/logrus"
)

// Part is one node of the MIME tree. Leaf parts carry their decoded body
// bytes; multipart containers carry their children.
type Part struct {
	Header      message.Header
	ContentType string
	Params      map[string]string
	Body        []byte
	Parts       []*Part
}

// Walk visits the part and all its descendants depth-first. The visit
// function returns false to stop the walk.
func (p *Part) Walk(visit func(*Part) bool) bool {
	if !visit(p) {
		return false
	}
	for _, sub := range p.Parts {
		if !sub.Walk(visit) {
			return false
		}
	}
	return true
}

// Multipart reports whether the part is a multipart container
func (p *Part) Multipart() bool {
	return len(p.Parts) > 0 || strings.HasPrefix(p.ContentType, "multipart/")
}

// Email is one parsed inbound message
type Email struct {
	Subject   string
	From      string
	To        string
	Cc        string
	Bcc       string
	MessageID string

	// Headers holds every top-level header with its transfer encoding
	// decoded, falling back to the raw value when decoding fails.
	Headers map[string]string

	BodyPlain string
	BodyHTML  string

	Root *Part
}

// Header returns a decoded top-level header value, "" when absent
func (e *Email) Header(key string) string {
	return headerText(e.Root.Header, key)
}

// Parse reads raw message bytes into an Email. Unknown charsets degrade to
// the raw bytes instead of aborting the message.
func Parse(raw []byte) (*Email, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	root := readPart(entity)

	email := &Email{
		Subject:   headerText(root.Header, "Subject"),
		From:      headerText(root.Header, "From"),
		To:        headerText(root.Header, "To"),
		Cc:        headerText(root.Header, "Cc"),
		Bcc:       headerText(root.Header, "Bcc"),
		MessageID: root.Header.Get("Message-Id"),
		Headers:   headerMap(root.Header),
		Root:      root,
	}
	email.BodyPlain, email.BodyHTML = extractBodies(root)

	return email, nil
}

// readPart materializes one entity and its descendants
func readPart(e *message.Entity) *Part {
	p := &Part{Header: e.Header}

	ct, params, err := e.Header.ContentType()
	if err == nil {
		p.ContentType = ct
		p.Params = params
	}

	if mr := e.MultipartReader(); mr != nil {
		for {
			sub, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				if message.IsUnknownCharset(err) && sub != nil {
					p.Parts = append(p.Parts, readPart(sub))
					continue
				}
				// Keep what was readable so far
				logrus.Debugf("Stopping multipart walk: %v", err)
				break
			}
			p.Parts = append(p.Parts, readPart(sub))
		}
		return p
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		logrus.Debugf("Failed to read part body: %v", err)
	}
	p.Body = body
	return p
}

// extractBodies picks the first text/plain and first text/html part;
// subsequent parts of the same type are ignored. A single-part message
// contributes its sole body.
func extractBodies(root *Part) (plain, html string) {
	if !root.Multipart() {
		if strings.HasPrefix(root.ContentType, "text/html") {
			return "", string(root.Body)
		}
		return string(root.Body), ""
	}

	root.Walk(func(p *Part) bool {
		switch {
		case p.ContentType == "text/plain" && plain == "":
			plain = string(p.Body)
		case p.ContentType == "text/html" && html == "":
			html = string(p.Body)
		}
		return true
	})
	return plain, html
}

// headerText returns the decoded value of one header, degrading to the raw
// value when the transfer encoding or charset cannot be decoded.
func headerText(h message.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return text
}

// headerMap builds the full decoded header map of an entity
func headerMap(h message.Header) map[string]string {
	headers := make(map[string]string)
	fields := h.Fields()
	for fields.Next() {
		key := fields.Key()
		headers[key] = headerText(h, key)
	}
	return headers
}
