package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyRuleSetPassesEverything(t *testing.T) {
	rules := &RuleSet{}
	assert.True(t, rules.Empty())

	pass, reason := Evaluate(Input{Subject: "anything at all"}, rules)
	assert.True(t, pass)
	assert.Equal(t, "no filters defined, processing all", reason)
}

func TestSubjectPatternsOrWithinKey(t *testing.T) {
	rules := &RuleSet{Subject: []string{"invoice", "receipt"}}

	pass, _ := Evaluate(Input{Subject: "Your Receipt for March"}, rules)
	assert.True(t, pass, "second pattern should match case-insensitively")

	pass, reason := Evaluate(Input{Subject: "Weekly newsletter"}, rules)
	assert.False(t, pass)
	assert.Equal(t, "SUBJECT failed: Weekly newsletter", reason)
}

func TestKeysAndAcrossKeys(t *testing.T) {
	rules := &RuleSet{
		Subject: []string{"bounce"},
		From:    []string{"mailer-daemon@"},
	}

	// Subject matches but From does not: the whole set fails
	pass, reason := Evaluate(Input{
		Subject: "Bounce notification",
		From:    "friend@example.com",
	}, rules)
	assert.False(t, pass)
	assert.Equal(t, "FROM failed: friend@example.com", reason)

	pass, _ = Evaluate(Input{
		Subject: "Bounce notification",
		From:    "MAILER-DAEMON@mx.example.com",
	}, rules)
	assert.True(t, pass)
}

func TestFirstFailingKeyReported(t *testing.T) {
	rules := &RuleSet{
		Subject: []string{"nope"},
		From:    []string{"nope"},
	}

	_, reason := Evaluate(Input{Subject: "hello", From: "x@example.com"}, rules)
	assert.Equal(t, "SUBJECT failed: hello", reason)
}

func TestToTwoStageMatch(t *testing.T) {
	rules := &RuleSet{To: []string{`^jane@example\.com$`}}

	// The raw header cannot match an anchored address pattern; the split
	// stage strips the display name and angle brackets.
	pass, _ := Evaluate(Input{To: `"Jane Doe" <jane@example.com>`}, rules)
	assert.True(t, pass)

	pass, _ = Evaluate(Input{To: `"John Doe" <john@example.com>`}, rules)
	assert.False(t, pass)
}

func TestToMatchesMultipleRecipientsAndCc(t *testing.T) {
	rules := &RuleSet{To: []string{`^ops@example\.com$`}}

	pass, _ := Evaluate(Input{To: "a@example.com; Ops <ops@example.com>, b@example.com"}, rules)
	assert.True(t, pass)

	pass, _ = Evaluate(Input{To: "a@example.com", Cc: "<ops@example.com>"}, rules)
	assert.True(t, pass, "Cc participates in the TO match")
}

func TestHeaderRules(t *testing.T) {
	rules := &RuleSet{Header: []HeaderRule{{Name: "X-Spam-Flag", Patterns: []string{"^no$"}}}}

	pass, _ := Evaluate(Input{Headers: map[string]string{"X-Spam-Flag": "NO"}}, rules)
	assert.True(t, pass)

	pass, reason := Evaluate(Input{Headers: map[string]string{"X-Spam-Flag": "yes"}}, rules)
	assert.False(t, pass)
	assert.Equal(t, "HEADER failed", reason)
}

func TestBounceTypeMembership(t *testing.T) {
	rules := &RuleSet{BounceType: []string{"hard", "soft"}}

	pass, _ := Evaluate(Input{BounceType: "hard"}, rules)
	assert.True(t, pass)

	pass, reason := Evaluate(Input{BounceType: ""}, rules)
	assert.False(t, pass)
	assert.Equal(t, "BOUNCE_TYPE failed: ", reason)
}

func TestBounceReasonRequiresValue(t *testing.T) {
	rules := &RuleSet{BounceReason: []string{`^5\.`}}

	pass, _ := Evaluate(Input{BounceReason: "5.1.1"}, rules)
	assert.True(t, pass)

	// An empty reason never matches, even against permissive patterns
	pass, _ = Evaluate(Input{BounceReason: ""}, &RuleSet{BounceReason: []string{".*"}})
	assert.False(t, pass)
}

func TestTrackingIDRequirement(t *testing.T) {
	rules := &RuleSet{TrackingID: true}

	pass, _ := Evaluate(Input{TrackingID: "123e4567-e89b-12d3-a456-426614174000"}, rules)
	assert.True(t, pass)

	pass, reason := Evaluate(Input{}, rules)
	assert.False(t, pass)
	assert.Equal(t, "TRACKING_ID failed: no tracking ID", reason)
}

func TestValidateRejectsBadRegex(t *testing.T) {
	rules := &RuleSet{Subject: []string{"("}}
	assert.Error(t, rules.Validate())

	rules = &RuleSet{Header: []HeaderRule{{Name: "", Patterns: []string{"x"}}}}
	assert.Error(t, rules.Validate())

	rules = &RuleSet{Subject: []string{"fine"}, From: []string{`^a@b\.c$`}}
	assert.NoError(t, rules.Validate())
}

func TestSplitAddresses(t *testing.T) {
	addrs := splitAddresses(`"Jane Doe" <jane@example.com>; bob@example.com, Carol <carol@example.com>`)
	assert.Equal(t, []string{"jane@example.com", "bob@example.com", "carol@example.com"}, addrs)
}
