// Package bounce classifies inbound emails as delivery failures and
// resolves the correlation token linking them back to an outbound message.
// All functions are pure: they inspect the parsed message and perform no
// I/O and no persistence.
package bounce

import (
	"bufio"
	"bytes"
	"net/textproto"
	"regexp"
	"strings"

	"github.com/emersion/go-message"

	"mail-dispatch-go/internal/model"
	"mail-dispatch-go/internal/parser"
)

// TrackingHeader is the custom header carrying the correlation token on
// every outbound message.
const TrackingHeader = "X-Codenerix-Tracking-ID"

// trackingPattern matches the tracking header quoted inside a message body;
// the token is canonical UUID text (36 characters including hyphens).
var trackingPattern = regexp.MustCompile(`X-Codenerix-Tracking-ID:\s*([a-fA-F0-9\-]{36})`)

// FindTrackingID resolves the correlation token of an inbound email. Three
// tiers are tried in order, first match wins:
//
//  1. the tracking header on the top-level message (direct replies),
//  2. the tracking header inside attached message/rfc822 or
//     text/rfc822-headers parts (bounces and forwards),
//  3. a regex search over the plain-text bodies, where the original email
//     may be quoted as text.
//
// It returns "" when no token is found.
func FindTrackingID(email *parser.Email) string {
	if id := email.Root.Header.Get(TrackingHeader); id != "" {
		return id
	}

	if id := trackingIDFromParts(email.Root); id != "" {
		return id
	}

	return trackingIDFromBody(email.Root)
}

// trackingIDFromParts looks for the tracking header inside attached copies
// of the original email.
func trackingIDFromParts(root *parser.Part) string {
	var id string
	root.Walk(func(p *parser.Part) bool {
		switch p.ContentType {
		case "message/rfc822":
			// The part body is the original email verbatim
			embedded, err := message.Read(bytes.NewReader(p.Body))
			if err != nil && !message.IsUnknownCharset(err) {
				return true
			}
			id = embedded.Header.Get(TrackingHeader)

		case "text/rfc822-headers":
			// The part body is the raw header block of the original email
			id = readHeaderBlocks(p.Body).firstValue(TrackingHeader)
		}
		return id == ""
	})
	return id
}

// trackingIDFromBody concatenates the plain-text bodies and searches for a
// quoted tracking header.
func trackingIDFromBody(root *parser.Part) string {
	var body strings.Builder
	if root.Multipart() {
		root.Walk(func(p *parser.Part) bool {
			if p.ContentType == "text/plain" {
				body.Write(p.Body)
			}
			return true
		})
	} else if root.ContentType == "" || root.ContentType == "text/plain" {
		body.Write(root.Body)
	}

	match := trackingPattern.FindStringSubmatch(body.String())
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

// Analyze determines whether an email is a bounce notification and of what
// kind. Tiers are evaluated in order and the first conclusive one wins:
// DSN reports, then bounce-indicating headers, then keyword heuristics.
//
// It returns (model.BounceNone, "") for regular mail.
func Analyze(email *parser.Email) (bounceType, bounceReason string) {
	if t, reason, ok := analyzeDSN(email.Root); ok {
		return t, reason
	}
	if t, reason, ok := analyzeHeaders(email); ok {
		return t, reason
	}
	return analyzeKeywords(email)
}

// analyzeDSN classifies RFC 3464 delivery status notifications. The
// Action/Status fields live in a header block of the message/delivery-status
// part; the SMTP enhanced status code decides hard (5.x.x) vs soft (4.x.x).
func analyzeDSN(root *parser.Part) (string, string, bool) {
	if root.ContentType != "multipart/report" || root.Params["report-type"] != "delivery-status" {
		return model.BounceNone, "", false
	}

	var status *deliveryStatus
	root.Walk(func(p *parser.Part) bool {
		if p.ContentType != "message/delivery-status" {
			return true
		}
		for _, block := range readHeaderBlocks(p.Body) {
			if block.Get("Action") != "" {
				status = &deliveryStatus{
					action: strings.ToLower(block.Get("Action")),
					code:   block.Get("Status"),
				}
				return false
			}
		}
		return true
	})

	if status == nil || status.action != "failed" {
		return model.BounceNone, "", false
	}

	switch {
	case strings.HasPrefix(status.code, "5."):
		// 5.x.x: permanent failure
		return model.BounceHard, status.code, true
	case strings.HasPrefix(status.code, "4."):
		// 4.x.x: temporary failure
		return model.BounceSoft, status.code, true
	default:
		reason := status.code
		if reason == "" {
			reason = "Unknown"
		}
		return model.BounceHard, reason, true
	}
}

type deliveryStatus struct {
	action string
	code   string
}

// analyzeHeaders checks headers some mail servers set on bounces. The
// Auto-Submitted header alone also covers out-of-office replies, so it only
// counts combined with a bounce keyword in the subject.
func analyzeHeaders(email *parser.Email) (string, string, bool) {
	if email.Root.Header.Get("X-Failed-Recipients") != "" {
		return model.BounceHard, "Unknown (X-Failed-Recipients)", true
	}

	auto := strings.ToLower(email.Root.Header.Get("Auto-Submitted"))
	if auto == "auto-replied" || auto == "auto-generated" {
		subject := strings.ToLower(email.Subject)
		for _, keyword := range []string{"undeliverable", "delivery failed", "failure notice"} {
			if strings.Contains(subject, keyword) {
				return model.BounceHard, "Unknown (Auto-Submitted + Keyword)", true
			}
		}
	}

	return model.BounceNone, "", false
}

// analyzeKeywords is the least reliable tier: well-known bounce sender
// addresses, then bounce phrases in the subject.
func analyzeKeywords(email *parser.Email) (string, string) {
	from := strings.ToLower(email.From)
	if strings.Contains(from, "mailer-daemon@") || strings.Contains(from, "postmaster@") {
		return model.BounceHard, "Unknown (From Keyword)"
	}

	subject := strings.ToLower(email.Subject)
	for _, keyword := range []string{"undelivered", "delivery error", "mail delivery failed"} {
		if strings.Contains(subject, keyword) {
			return model.BounceHard, "Unknown (Subject Keyword)"
		}
	}

	return model.BounceNone, ""
}

type headerBlocks []textproto.MIMEHeader

// readHeaderBlocks parses raw bytes as a sequence of blank-line separated
// header blocks (the wire shape of delivery-status parts and rfc822-headers
// attachments).
func readHeaderBlocks(raw []byte) headerBlocks {
	var blocks headerBlocks
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	for {
		hdr, err := tp.ReadMIMEHeader()
		if len(hdr) > 0 {
			blocks = append(blocks, hdr)
		}
		if err != nil {
			return blocks
		}
	}
}

func (b headerBlocks) firstValue(key string) string {
	for _, block := range b {
		if v := block.Get(key); v != "" {
			return v
		}
	}
	return ""
}
