package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crlf normalizes test fixtures to wire line endings
func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseMultipartAlternative(t *testing.T) {
	raw := crlf(`From: Alice <alice@example.com>
To: bob@example.com
Cc: carol@example.com
Subject: =?utf-8?q?Caf=C3=A9_update?=
Message-Id: <abc123@example.com>
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/plain

plain body
--b1
Content-Type: text/html

<p>html body</p>
--b1--
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Café update", email.Subject)
	assert.Equal(t, "Alice <alice@example.com>", email.From)
	assert.Equal(t, "bob@example.com", email.To)
	assert.Equal(t, "carol@example.com", email.Cc)
	assert.Equal(t, "<abc123@example.com>", email.MessageID)
	assert.Equal(t, "plain body", email.BodyPlain)
	assert.Equal(t, "<p>html body</p>", email.BodyHTML)
	assert.True(t, email.Root.Multipart())
	assert.Len(t, email.Root.Parts, 2)
}

func TestParseSinglePartHTML(t *testing.T) {
	raw := crlf(`From: a@example.com
To: b@example.com
Subject: hi
Content-Type: text/html

<b>hello</b>
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	assert.Empty(t, email.BodyPlain)
	assert.Contains(t, email.BodyHTML, "<b>hello</b>")
	assert.False(t, email.Root.Multipart())
}

func TestParseSinglePartDefaultsToPlain(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: hi

just text
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	assert.Contains(t, email.BodyPlain, "just text")
	assert.Empty(t, email.BodyHTML)
}

func TestFirstPartOfEachTypeWins(t *testing.T) {
	raw := crlf(`Subject: two plains
Content-Type: multipart/mixed; boundary="b2"

--b2
Content-Type: text/plain

first
--b2
Content-Type: text/plain

second
--b2--
`)

	email, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "first", email.BodyPlain)
}

func TestHeaderMapAndLookup(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: hi
X-Custom-Header: custom-value

body
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "custom-value", email.Headers["X-Custom-Header"])
	assert.Equal(t, "custom-value", email.Header("X-Custom-Header"))
	assert.Equal(t, "", email.Header("X-Absent"))
}

func TestWalkVisitsNestedParts(t *testing.T) {
	raw := crlf(`Subject: nested
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain

deep plain
--inner
Content-Type: text/html

<i>deep html</i>
--inner--
--outer
Content-Type: application/pdf

%PDF-
--outer--
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	var types []string
	email.Root.Walk(func(p *Part) bool {
		types = append(types, p.ContentType)
		return true
	})

	assert.Contains(t, types, "multipart/mixed")
	assert.Contains(t, types, "multipart/alternative")
	assert.Contains(t, types, "text/plain")
	assert.Contains(t, types, "text/html")
	assert.Contains(t, types, "application/pdf")
	assert.Equal(t, "deep plain", email.BodyPlain)
	assert.Equal(t, "<i>deep html</i>", email.BodyHTML)
}
