package sender

import (
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/metrics"
	"mail-dispatch-go/internal/model"
	"mail-dispatch-go/internal/repository"
	"mail-dispatch-go/internal/transport"
)

// fakeStore keeps queued messages in memory and honors the selection
// contract of the real repository.
type fakeStore struct {
	emails  []*model.EmailMessage
	claimed []uint
	purged  []uint
}

func (f *fakeStore) Pending(q repository.BatchQuery) ([]model.EmailMessage, error) {
	var out []model.EmailMessage
	for _, m := range f.emails {
		if m.Sent || m.Sending || m.Error {
			continue
		}
		if !q.RetryAll && int(m.Retries) >= q.MaxRetries {
			continue
		}
		if !q.SendNow && m.NextRetry.After(q.Now) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].NextRetry.Before(out[j].NextRetry)
	})
	if !q.All && len(out) > q.BucketSize {
		out = out[:q.BucketSize]
	}
	return out, nil
}

func (f *fakeStore) Claim(ids []uint) error {
	f.claimed = append(f.claimed, ids...)
	for _, m := range f.emails {
		for _, id := range ids {
			if m.ID == id {
				m.Sending = true
			}
		}
	}
	return nil
}

func (f *fakeStore) ClearSending() (int64, error) {
	var n int64
	for _, m := range f.emails {
		if m.Sending {
			m.Sending = false
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Save(m *model.EmailMessage) error {
	for i, existing := range f.emails {
		if existing.ID == m.ID {
			clone := *m
			f.emails[i] = &clone
			return nil
		}
	}
	return errors.New("unknown email")
}

func (f *fakeStore) PurgeSent(ids []uint) error {
	var kept []*model.EmailMessage
	for _, m := range f.emails {
		drop := false
		for _, id := range ids {
			if m.ID == id && m.Sent {
				drop = true
				f.purged = append(f.purged, id)
			}
		}
		if !drop {
			kept = append(kept, m)
		}
	}
	f.emails = kept
	return nil
}

func (f *fakeStore) byID(id uint) *model.EmailMessage {
	for _, m := range f.emails {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// script drives fake connections across reconnects: error queues are shared
// by every connection the dialer hands out.
type script struct {
	openErrs []error
	sendErrs []error
	sent     []*transport.Message
	dials    int
	closes   int
}

func (s *script) dialer() transport.Dialer {
	return func() transport.Connection {
		s.dials++
		return &fakeConn{s: s}
	}
}

type fakeConn struct {
	s    *script
	open bool
}

func (c *fakeConn) Open() error {
	if c.open {
		return nil
	}
	if len(c.s.openErrs) > 0 {
		err := c.s.openErrs[0]
		c.s.openErrs = c.s.openErrs[1:]
		if err != nil {
			return err
		}
	}
	c.open = true
	return nil
}

func (c *fakeConn) Send(msg *transport.Message) error {
	if len(c.s.sendErrs) > 0 {
		err := c.s.sendErrs[0]
		c.s.sendErrs = c.s.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	c.s.sent = append(c.s.sent, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.open = false
	c.s.closes++
	return nil
}

func queueConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxRetries:   10,
		RetryWait:    5400,
		BucketSize:   10,
		History:      true,
		SendAttempts: 2,
	}
}

func newTestSender(store *fakeStore, s *script, cfg config.QueueConfig) *Sender {
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return New(store, s.dialer(), cfg, m, log)
}

func queuedEmail(id uint, priority uint) *model.EmailMessage {
	return &model.EmailMessage{
		ID:             id,
		UUID:           "00000000-0000-0000-0000-00000000000" + string(rune('0'+id)),
		EFrom:          "noreply@example.com",
		ETo:            "dest" + string(rune('0'+id)) + "@example.com",
		Subject:        "hello",
		Body:           "body",
		ContentSubtype: model.ContentHTML,
		Priority:       priority,
		NextRetry:      time.Now().Add(-time.Minute),
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	store := &fakeStore{}
	snd := newTestSender(store, &script{}, queueConfig())

	sent, failed, err := snd.RunOnce(Options{})
	assert.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, failed)
	assert.Empty(t, store.claimed)
}

func TestRunOnceDeliversInQueueOrder(t *testing.T) {
	store := &fakeStore{emails: []*model.EmailMessage{
		queuedEmail(1, 7),
		queuedEmail(2, 3),
		queuedEmail(3, 5),
	}}
	sc := &script{}
	snd := newTestSender(store, sc, queueConfig())

	sent, failed, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Zero(t, failed)

	// Lower priority value first
	var order []string
	for _, msg := range sc.sent {
		order = append(order, msg.To)
	}
	assert.Equal(t, []string{"dest2@example.com", "dest3@example.com", "dest1@example.com"}, order)

	// One connection served the whole batch
	assert.Equal(t, 1, sc.dials)
	assert.ElementsMatch(t, []uint{1, 2, 3}, store.claimed)

	for _, m := range store.emails {
		assert.True(t, m.Sent)
		assert.False(t, m.Sending)
	}
}

func TestRunOnceRespectsRetryWindow(t *testing.T) {
	future := queuedEmail(1, 5)
	future.NextRetry = time.Now().Add(time.Hour)
	store := &fakeStore{emails: []*model.EmailMessage{future}}
	sc := &script{}
	snd := newTestSender(store, sc, queueConfig())

	sent, _, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, _, err = snd.RunOnce(Options{SendNow: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestRunOnceRespectsRetryCeiling(t *testing.T) {
	exhausted := queuedEmail(1, 5)
	exhausted.Retries = 10
	store := &fakeStore{emails: []*model.EmailMessage{exhausted}}
	sc := &script{}
	snd := newTestSender(store, sc, queueConfig())

	sent, _, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, _, err = snd.RunOnce(Options{RetryAll: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestRunOnceHonorsBucketSize(t *testing.T) {
	cfg := queueConfig()
	cfg.BucketSize = 2
	store := &fakeStore{emails: []*model.EmailMessage{
		queuedEmail(1, 1), queuedEmail(2, 2), queuedEmail(3, 3),
	}}
	snd := newTestSender(store, &script{}, cfg)

	sent, _, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	sent, _, err = snd.RunOnce(Options{SendAll: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "the remaining message goes out when the bucket cap is lifted")
}

func TestConnectFailureConsumesOneRetry(t *testing.T) {
	store := &fakeStore{emails: []*model.EmailMessage{
		queuedEmail(1, 1),
		queuedEmail(2, 2),
	}}
	sc := &script{openErrs: []error{errors.New("535 authentication failed")}}
	snd := newTestSender(store, sc, queueConfig())

	before := time.Now()
	sent, failed, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)

	// First message hit the connect failure, second got a fresh connection
	assert.Equal(t, 2, sc.dials)

	m := store.byID(1)
	assert.False(t, m.Sent)
	assert.False(t, m.Sending)
	assert.False(t, m.Error)
	assert.Equal(t, uint(1), m.Retries)
	assert.Equal(t, uint(2), m.Priority)
	assert.Contains(t, m.Log, "authentication failed")
	assert.True(t, m.NextRetry.After(before.Add(5400*time.Second-time.Minute)))

	assert.True(t, store.byID(2).Sent)
}

func TestSendRetrySucceedsOnFreshConnection(t *testing.T) {
	store := &fakeStore{emails: []*model.EmailMessage{queuedEmail(1, 1)}}
	sc := &script{sendErrs: []error{errors.New("421 connection dropped")}}
	snd := newTestSender(store, sc, queueConfig())

	sent, failed, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Zero(t, failed)
	assert.Equal(t, 2, sc.dials, "the retry runs on a reconnected session")

	m := store.byID(1)
	assert.True(t, m.Sent)
	assert.Zero(t, m.Retries, "the internal send retry never touches the retry budget")
	assert.Contains(t, m.Log, "attempt 1/2")
}

func TestSendAttemptsExhausted(t *testing.T) {
	store := &fakeStore{emails: []*model.EmailMessage{queuedEmail(1, 1)}}
	sc := &script{sendErrs: []error{
		errors.New("454 TLS failure"),
		errors.New("454 TLS failure"),
	}}
	snd := newTestSender(store, sc, queueConfig())

	sent, failed, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, failed)

	m := store.byID(1)
	assert.False(t, m.Sent)
	assert.Equal(t, uint(1), m.Retries)
	assert.Contains(t, m.Log, "attempt 1/2")
	assert.Contains(t, m.Log, "attempt 2/2")
	assert.Contains(t, m.Log, "Send attempts exhausted")
}

func TestTerminalErrorAtRetryCeiling(t *testing.T) {
	m := queuedEmail(1, 1)
	m.Retries = 9
	store := &fakeStore{emails: []*model.EmailMessage{m}}
	sc := &script{openErrs: []error{errors.New("network unreachable")}}
	snd := newTestSender(store, sc, queueConfig())

	_, failed, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got := store.byID(1)
	assert.True(t, got.Error)
	assert.False(t, got.Sent)
	assert.Equal(t, uint(10), got.Retries)
}

func TestHistoryDisabledPurgesDelivered(t *testing.T) {
	cfg := queueConfig()
	cfg.History = false
	store := &fakeStore{emails: []*model.EmailMessage{queuedEmail(1, 1)}}
	snd := newTestSender(store, &script{}, cfg)

	sent, _, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []uint{1}, store.purged)
	assert.Nil(t, store.byID(1))
}

func TestOutgoingMessageCarriesTrackingHeader(t *testing.T) {
	m := queuedEmail(1, 1)
	m.Headers = map[string]string{"X-Campaign": "spring"}
	store := &fakeStore{emails: []*model.EmailMessage{m}}
	sc := &script{}
	snd := newTestSender(store, sc, queueConfig())

	_, _, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	require.Len(t, sc.sent, 1)

	headers := sc.sent[0].Headers
	assert.Equal(t, m.UUID, headers["X-Codenerix-Tracking-ID"])
	assert.Equal(t, "spring", headers["X-Campaign"])
}

func TestClearThenPassResumesStranded(t *testing.T) {
	stuck := queuedEmail(1, 1)
	stuck.Sending = true
	store := &fakeStore{emails: []*model.EmailMessage{stuck}}
	sc := &script{}
	snd := newTestSender(store, sc, queueConfig())

	// Stranded in-flight rows are invisible to a pass until cleared
	sent, _, err := snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Zero(t, sent)

	n, err := snd.Clear()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sent, _, err = snd.RunOnce(Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, store.byID(1).Sent)
}

func TestClearResetsInFlightMarkers(t *testing.T) {
	stuck := queuedEmail(1, 1)
	stuck.Sending = true
	store := &fakeStore{emails: []*model.EmailMessage{stuck, queuedEmail(2, 2)}}
	snd := newTestSender(store, &script{}, queueConfig())

	n, err := snd.Clear()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, store.byID(1).Sending)
}
