// Package transport provides the outbound mail transport used by the
// delivery scheduler. The scheduler only sees the Connection interface;
// errors from Open are connect-time failures (auth, network, timeout) and
// errors from Send are send-time failures (TLS, disconnect, protocol), each
// with its own retry semantics in the scheduler.
package transport

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"sort"
	"time"
)

// Attachment is one file attached to an outgoing message
type Attachment struct {
	Filename string
	Mime     string
	Content  []byte
}

// Message is the envelope and content of one outgoing email
type Message struct {
	From           string
	To             string
	Subject        string
	Body           string
	ContentSubtype string // "plain" or "html"
	Headers        map[string]string
	UnsubscribeURL string
	Attachments    []Attachment
}

// Connection is an open-send-close handle on an SMTP-like transport. One
// connection is reused across all messages of a batch; Open on an already
// open connection is a no-op.
type Connection interface {
	Open() error
	Send(msg *Message) error
	Close() error
}

// Dialer produces fresh unopened connections; the scheduler uses it for
// its initial connect and for reconnects after send failures.
type Dialer func() Connection

// SMTPConfig holds what the transport needs to reach the server
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// Addr returns the host:port address of the SMTP server
func (c *SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SMTPConnection implements Connection over net/smtp with optional STARTTLS
type SMTPConnection struct {
	cfg    SMTPConfig
	client *smtp.Client
}

// NewSMTPConnection returns an unopened connection to the configured server
func NewSMTPConnection(cfg SMTPConfig) *SMTPConnection {
	return &SMTPConnection{cfg: cfg}
}

// NewDialer returns a Dialer producing SMTP connections for cfg
func NewDialer(cfg SMTPConfig) Dialer {
	return func() Connection {
		return NewSMTPConnection(cfg)
	}
}

// Open dials the server, negotiates TLS and authenticates. Calling Open on
// an already open connection does nothing.
func (c *SMTPConnection) Open() error {
	if c.client != nil {
		return nil
	}

	client, err := smtp.Dial(c.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server [HOST=%s TLS=%t]: %w",
			c.cfg.Addr(), c.cfg.UseTLS, err)
	}

	if c.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			client.Close()
			return fmt.Errorf("failed to start TLS [HOST=%s]: %w", c.cfg.Addr(), err)
		}
	}

	if c.cfg.Username != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return fmt.Errorf("failed to authenticate [HOST=%s USER=%s]: %w",
				c.cfg.Addr(), c.cfg.Username, err)
		}
	}

	c.client = client
	return nil
}

// Send transmits one message over the open connection
func (c *SMTPConnection) Send(msg *Message) error {
	if c.client == nil {
		return fmt.Errorf("connection is not open")
	}

	if err := c.client.Mail(msg.From); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := c.client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO rejected: %w", err)
	}

	w, err := c.client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(BuildMIME(msg)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message body: %w", err)
	}

	return nil
}

// Close terminates the connection. Safe to call on a closed connection.
func (c *SMTPConnection) Close() error {
	if c.client == nil {
		return nil
	}
	client := c.client
	c.client = nil
	if err := client.Quit(); err != nil {
		client.Close()
		return err
	}
	return nil
}

// BuildMIME assembles the full wire form of a message: headers, the text
// body, and a multipart/mixed wrapper with base64 attachments when present.
func BuildMIME(msg *Message) []byte {
	var buf bytes.Buffer

	writeHeader(&buf, "From", msg.From)
	writeHeader(&buf, "To", msg.To)
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	// Deterministic order for the custom header map
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, msg.Headers[k])
	}

	if msg.UnsubscribeURL != "" {
		writeHeader(&buf, "List-Unsubscribe", "<"+msg.UnsubscribeURL+">")
	}

	contentType := "text/plain"
	if msg.ContentSubtype == "html" {
		contentType = "text/html"
	}

	if len(msg.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", contentType+`; charset="UTF-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(msg.Body)
		return buf.Bytes()
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", `multipart/mixed; boundary="`+mw.Boundary()+`"`)
	buf.WriteString("\r\n")

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", contentType+`; charset="UTF-8"`)
	tw, _ := mw.CreatePart(textHeader)
	tw.Write([]byte(msg.Body))

	for _, at := range msg.Attachments {
		atHeader := textproto.MIMEHeader{}
		atHeader.Set("Content-Type", at.Mime)
		atHeader.Set("Content-Transfer-Encoding", "base64")
		atHeader.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, at.Filename))
		aw, _ := mw.CreatePart(atHeader)
		writeBase64(aw, at.Content)
	}

	mw.Close()
	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

// writeBase64 emits RFC 2045 base64 lines, wrapped at 76 characters so
// large attachments stay under the SMTP line length limit.
func writeBase64(w io.Writer, content []byte) {
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > 76 {
		fmt.Fprintf(w, "%s\r\n", encoded[:76])
		encoded = encoded[76:]
	}
	fmt.Fprint(w, encoded)
}
