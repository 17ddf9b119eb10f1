// Package mailbox wraps the IMAP client behind the narrow surface the sync
// engine needs: search, fetch raw messages with their server timestamps,
// flag, delete and logout.
package mailbox

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// Config holds what is needed to reach and open one mailbox folder
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool
	Folder   string
}

// Addr returns the host:port address of the IMAP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Selector describes which messages a sync pass should fetch, in priority
// order: an explicit IMAP id, an explicit Message-ID, everything, or the
// configured default search criteria (typically UNSEEN).
type Selector struct {
	IMAPID    uint32
	MessageID string
	All       bool
	Criteria  string
}

// Fetched is one raw message with its server-assigned receive timestamp
type Fetched struct {
	ID           uint32
	Raw          []byte
	InternalDate time.Time
}

// Client is a connected, logged-in IMAP session on one folder
type Client struct {
	c *client.Client
}

// Connect dials the server, logs in and selects the configured folder.
// Any failure here is fatal to the sync pass.
func Connect(cfg Config) (*Client, error) {
	var (
		c   *client.Client
		err error
	)
	if cfg.UseSSL {
		c, err = client.DialTLS(cfg.Addr(), nil)
	} else {
		c, err = client.Dial(cfg.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server [HOST=%s SSL=%t]: %w",
			cfg.Addr(), cfg.UseSSL, err)
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server [USER=%s]: %w", cfg.Username, err)
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select folder %q: %w", folder, err)
	}

	return &Client{c: c}, nil
}

// Search resolves a Selector into message sequence ids
func (m *Client) Search(sel Selector) ([]uint32, error) {
	if sel.IMAPID != 0 {
		return []uint32{sel.IMAPID}, nil
	}

	criteria := imap.NewSearchCriteria()
	switch {
	case sel.MessageID != "":
		criteria.Header.Set("Message-Id", sel.MessageID)
	case sel.All:
		// No restriction
	default:
		applyCriteria(criteria, sel.Criteria)
	}

	ids, err := m.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return ids, nil
}

// applyCriteria maps the configured selector keyword onto search criteria,
// defaulting to UNSEEN for anything unrecognized.
func applyCriteria(criteria *imap.SearchCriteria, keyword string) {
	switch keyword {
	case "ALL":
		// No restriction
	case "SEEN":
		criteria.WithFlags = []string{imap.SeenFlag}
	case "RECENT":
		criteria.WithFlags = []string{imap.RecentFlag}
	default:
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
}

// Fetch retrieves the full raw body (without marking seen) and internal
// date of each message, in ascending server id order.
func (m *Client) Fetch(ids []uint32) ([]Fetched, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- m.c.Fetch(seqset, items, messages)
	}()

	var fetched []Fetched
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			logrus.Warnf("No body returned for IMAP id %d", msg.SeqNum)
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			logrus.Warnf("Failed to read body of IMAP id %d: %v", msg.SeqNum, err)
			continue
		}
		fetched = append(fetched, Fetched{
			ID:           msg.SeqNum,
			Raw:          raw,
			InternalDate: msg.InternalDate,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].ID < fetched[j].ID })
	return fetched, nil
}

// MarkSeen flags one message as read so it is not reprocessed by the
// default UNSEEN selector.
func (m *Client) MarkSeen(id uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return m.c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

// Delete removes one message from the mailbox and expunges it
func (m *Client) Delete(id uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.c.Store(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return err
	}
	return m.c.Expunge(nil)
}

// Logout closes the session
func (m *Client) Logout() error {
	return m.c.Logout()
}
