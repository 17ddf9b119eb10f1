// Package filter implements the declarative admission rules applied to
// inbound emails before they are persisted.
//
// Rules combine with AND across keys and OR within a key: a message passes a
// key if any of the key's patterns matches the corresponding field, and
// passes the rule set only if it passes every configured key. Evaluation
// stops at the first failing key.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// HeaderRule matches one named header against a list of patterns
type HeaderRule struct {
	Name     string   `mapstructure:"name"`
	Patterns []string `mapstructure:"patterns"`
}

// RuleSet is the declarative filter configuration. An empty rule set
// admits every message.
type RuleSet struct {
	Subject      []string     `mapstructure:"subject"`
	From         []string     `mapstructure:"from"`
	To           []string     `mapstructure:"to"`
	MessageID    []string     `mapstructure:"message_id"`
	BodyPlain    []string     `mapstructure:"body_plain"`
	BodyHTML     []string     `mapstructure:"body_html"`
	Header       []HeaderRule `mapstructure:"header"`
	BounceType   []string     `mapstructure:"bounce_type"`
	BounceReason []string     `mapstructure:"bounce_reason"`
	TrackingID   bool         `mapstructure:"tracking_id"`
}

// Input carries the extracted fields of one inbound email
type Input struct {
	Subject      string
	From         string
	To           string
	Cc           string
	Bcc          string
	MessageID    string
	BodyPlain    string
	BodyHTML     string
	Headers      map[string]string
	BounceType   string
	BounceReason string
	TrackingID   string
}

// Empty reports whether no rule is configured at all
func (r *RuleSet) Empty() bool {
	return r == nil || (len(r.Subject) == 0 && len(r.From) == 0 && len(r.To) == 0 &&
		len(r.MessageID) == 0 && len(r.BodyPlain) == 0 && len(r.BodyHTML) == 0 &&
		len(r.Header) == 0 && len(r.BounceType) == 0 && len(r.BounceReason) == 0 &&
		!r.TrackingID)
}

// Validate compiles every pattern so that bad regexes are rejected at
// configuration time instead of silently never matching.
func (r *RuleSet) Validate() error {
	if r == nil {
		return nil
	}
	groups := map[string][]string{
		"subject":       r.Subject,
		"from":          r.From,
		"to":            r.To,
		"message_id":    r.MessageID,
		"body_plain":    r.BodyPlain,
		"body_html":     r.BodyHTML,
		"bounce_reason": r.BounceReason,
	}
	for key, patterns := range groups {
		for _, pattern := range patterns {
			if _, err := regexp.Compile("(?i)" + pattern); err != nil {
				return fmt.Errorf("%s pattern %q: %w", key, pattern, err)
			}
		}
	}
	for _, h := range r.Header {
		if h.Name == "" {
			return fmt.Errorf("header rule without a header name")
		}
		for _, pattern := range h.Patterns {
			if _, err := regexp.Compile("(?i)" + pattern); err != nil {
				return fmt.Errorf("header %s pattern %q: %w", h.Name, pattern, err)
			}
		}
	}
	return nil
}

// matchAny reports whether any pattern matches the value (case-insensitive)
func matchAny(value string, patterns []string) bool {
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			// Rejected by Validate at load time; never a silent match here
			continue
		}
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// Evaluate applies the rule set to one email. It returns whether the email
// passes, and on failure the reason naming the first failing key.
func Evaluate(in Input, rules *RuleSet) (bool, string) {
	if rules.Empty() {
		return true, "no filters defined, processing all"
	}

	if len(rules.Subject) > 0 && !matchAny(in.Subject, rules.Subject) {
		return false, fmt.Sprintf("SUBJECT failed: %s", in.Subject)
	}

	if len(rules.From) > 0 && !matchAny(in.From, rules.From) {
		return false, fmt.Sprintf("FROM failed: %s", in.From)
	}

	if len(rules.To) > 0 && !matchTo(in, rules.To) {
		return false, fmt.Sprintf("TO failed: %s", in.To)
	}

	if len(rules.MessageID) > 0 && !matchAny(in.MessageID, rules.MessageID) {
		return false, fmt.Sprintf("MESSAGE-ID failed: %s", in.MessageID)
	}

	if len(rules.BodyPlain) > 0 && !matchAny(in.BodyPlain, rules.BodyPlain) {
		return false, "BODY_PLAIN failed"
	}

	if len(rules.BodyHTML) > 0 && !matchAny(in.BodyHTML, rules.BodyHTML) {
		return false, "BODY_HTML failed"
	}

	if len(rules.Header) > 0 {
		matched := false
		for _, h := range rules.Header {
			if matchAny(in.Headers[h.Name], h.Patterns) {
				matched = true
				break
			}
		}
		if !matched {
			return false, "HEADER failed"
		}
	}

	if len(rules.BounceType) > 0 {
		member := false
		for _, t := range rules.BounceType {
			if in.BounceType == t {
				member = true
				break
			}
		}
		if !member {
			return false, fmt.Sprintf("BOUNCE_TYPE failed: %s", in.BounceType)
		}
	}

	if len(rules.BounceReason) > 0 {
		if in.BounceReason == "" || !matchAny(in.BounceReason, rules.BounceReason) {
			return false, fmt.Sprintf("BOUNCE_REASON failed: %s", in.BounceReason)
		}
	}

	if rules.TrackingID && in.TrackingID == "" {
		return false, "TRACKING_ID failed: no tracking ID"
	}

	return true, "all filters passed"
}

// matchTo applies the two-stage TO match. The raw To/Cc/Bcc strings are
// tried first; when none match, each field is re-split into individual
// addresses (display names and angle brackets stripped) and retried, since
// raw headers like `"Jane Doe" <jane@example.com>` break address-level
// patterns.
func matchTo(in Input, patterns []string) bool {
	for _, target := range []string{in.To, in.Cc, in.Bcc} {
		if matchAny(target, patterns) {
			return true
		}
	}

	var addrs []string
	for _, target := range []string{in.To, in.Cc, in.Bcc} {
		addrs = append(addrs, splitAddresses(target)...)
	}
	for _, addr := range addrs {
		if matchAny(addr, patterns) {
			return true
		}
	}
	return false
}

var addrSeparator = regexp.MustCompile(`[;,]\s*`)

// splitAddresses splits a raw address header on `;`/`,` and keeps only the
// address token of each entry, stripping surrounding angle brackets.
func splitAddresses(raw string) []string {
	var out []string
	for _, entry := range addrSeparator.Split(raw, -1) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Fields(entry)
		addr := strings.Trim(fields[len(fields)-1], "<>")
		out = append(out, addr)
	}
	return out
}
