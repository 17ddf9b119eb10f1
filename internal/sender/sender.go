// Package sender implements the outbound queue-delivery engine: it claims a
// bucket of schedulable messages, delivers them over one shared transport
// connection, and applies the retry/backoff state machine per message.
package sender

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/bounce"
	"mail-dispatch-go/internal/metrics"
	"mail-dispatch-go/internal/model"
	"mail-dispatch-go/internal/repository"
	"mail-dispatch-go/internal/transport"
)

// Store is the record-store surface the sender needs
type Store interface {
	Pending(q repository.BatchQuery) ([]model.EmailMessage, error)
	Claim(ids []uint) error
	ClearSending() (int64, error)
	Save(m *model.EmailMessage) error
	PurgeSent(ids []uint) error
}

// Options are the per-pass flags of the delivery command
type Options struct {
	SendAll  bool // ignore the bucket size
	SendNow  bool // ignore the next_retry window
	RetryAll bool // ignore the retry ceiling
	Verbose  bool
}

// Sender runs outbound delivery passes
type Sender struct {
	store   Store
	dial    transport.Dialer
	cfg     config.QueueConfig
	metrics *metrics.Metrics
	log     *logrus.Logger
}

// New creates a sender. The logger is injected rather than inherited so the
// engines stay plain composable values.
func New(store Store, dial transport.Dialer, cfg config.QueueConfig, m *metrics.Metrics, log *logrus.Logger) *Sender {
	return &Sender{store: store, dial: dial, cfg: cfg, metrics: m, log: log}
}

// Clear resets every stranded in-flight marker back into the schedulable
// pool; used for crash recovery. Terminal error flags are not touched.
func (s *Sender) Clear() (int64, error) {
	return s.store.ClearSending()
}

// RunOnce performs one delivery pass: select, claim, send, update. It
// returns how many messages were delivered and how many failed. Per-message
// failures never abort the pass.
func (s *Sender) RunOnce(opts Options) (sent, failed int, err error) {
	now := time.Now()

	emails, err := s.store.Pending(repository.BatchQuery{
		MaxRetries: s.cfg.MaxRetries,
		RetryAll:   opts.RetryAll,
		SendNow:    opts.SendNow,
		All:        opts.SendAll,
		BucketSize: s.cfg.BucketSize,
		Now:        now,
	})
	if err != nil {
		return 0, 0, err
	}
	if len(emails) == 0 {
		if opts.Verbose {
			s.log.Info("No emails to be sent at this moment in the queue")
		}
		return 0, 0, nil
	}

	s.metrics.SendPasses.Inc()
	if opts.Verbose {
		s.log.Infof("Sending %d emails in this batch", len(emails))
	}

	ids := make([]uint, len(emails))
	for i := range emails {
		ids[i] = emails[i].ID
	}

	// Claim the whole batch before any send begins so a competing
	// scheduler instance cannot re-select these rows.
	if err := s.store.Claim(ids); err != nil {
		return 0, 0, err
	}

	var conn transport.Connection
	for i := range emails {
		email := &emails[i]
		if opts.Verbose {
			s.log.Infof("Sending to %s", email.ETo)
		}

		start := time.Now()
		if s.sendOne(&conn, email, now) {
			sent++
			s.metrics.EmailsSent.Inc()
		} else {
			failed++
			s.metrics.SendFailures.Inc()
		}
		s.metrics.SendDuration.Observe(time.Since(start).Seconds())

		if saveErr := s.store.Save(email); saveErr != nil {
			s.log.Errorf("Failed to persist email %d: %v", email.ID, saveErr)
		}

		if opts.Verbose {
			if email.Sent {
				s.log.Infof("Email %d -> SENT", email.ID)
			} else {
				s.log.Warnf("Email %d -> ERROR (%d retries left)",
					email.ID, s.cfg.MaxRetries-int(email.Retries))
			}
		}
	}

	if conn != nil {
		conn.Close()
	}

	// Drop delivered rows when history retention is disabled
	if !s.cfg.History {
		if err := s.store.PurgeSent(ids); err != nil {
			s.log.Errorf("Failed to purge sent emails: %v", err)
		}
	}

	return sent, failed, nil
}

// sendOne drives the per-message state machine. The shared connection is
// established lazily on first use and replaced after send-time failures.
func (s *Sender) sendOne(conn *transport.Connection, email *model.EmailMessage, now time.Time) bool {
	if *conn == nil {
		*conn = s.dial()
	}

	// Connect-time failures (auth, network, timeout) consume one retry
	// and terminate this message's attempt without any send.
	if err := (*conn).Open(); err != nil {
		s.fail(email, fmt.Sprintf("Connect failed: %v", err), now)
		(*conn).Close()
		*conn = nil
		return false
	}

	msg, err := s.buildMessage(email)
	if err != nil {
		s.fail(email, fmt.Sprintf("Failed to build message: %v", err), now)
		return false
	}

	// Send-time failures (TLS, disconnect, protocol) are retried locally
	// on a fresh connection before the cross-run retry budget is touched.
	for attempt := 1; ; attempt++ {
		err := (*conn).Send(msg)
		if err == nil {
			email.MarkSent()
			return true
		}

		email.AppendLog(fmt.Sprintf("Send failed (attempt %d/%d): %v", attempt, s.cfg.SendAttempts, err))
		(*conn).Close()
		*conn = s.dial()

		if attempt >= s.cfg.SendAttempts {
			s.fail(email, "Send attempts exhausted", now)
			return false
		}
		if err := (*conn).Open(); err != nil {
			s.fail(email, fmt.Sprintf("Reconnect failed: %v", err), now)
			(*conn).Close()
			*conn = nil
			return false
		}
	}
}

// fail applies the shared failure bookkeeping and logs it
func (s *Sender) fail(email *model.EmailMessage, reason string, now time.Time) {
	email.RecordFailure(reason, s.cfg.RetryWaitDuration(), s.cfg.MaxRetries, now)
	s.log.Warnf("Email %d: %s", email.ID, reason)
}

// buildMessage assembles the transport envelope, loading attachment
// content from disk.
func (s *Sender) buildMessage(email *model.EmailMessage) (*transport.Message, error) {
	headers := make(map[string]string, len(email.Headers)+1)
	for k, v := range email.Headers {
		headers[k] = v
	}
	headers[bounce.TrackingHeader] = email.UUID

	msg := &transport.Message{
		From:           email.EFrom,
		To:             email.ETo,
		Subject:        email.Subject,
		Body:           email.Body,
		ContentSubtype: email.ContentSubtype,
		Headers:        headers,
		UnsubscribeURL: email.UnsubscribeURL,
	}

	for _, at := range email.Attachments {
		content, err := os.ReadFile(at.Path)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", at.Filename, err)
		}
		msg.Attachments = append(msg.Attachments, transport.Attachment{
			Filename: at.Filename,
			Mime:     at.Mime,
			Content:  content,
		})
	}

	return msg, nil
}

// Run loops delivery passes until the context is cancelled, sleeping
// between empty passes. The current batch always completes before the loop
// exits; no in-flight send is interrupted.
func (s *Sender) Run(ctx context.Context, idle time.Duration, opts Options) error {
	for {
		sent, failed, err := s.RunOnce(opts)
		if err != nil {
			s.log.Errorf("Delivery pass failed: %v", err)
		} else if sent+failed > 0 {
			s.log.Infof("Delivery pass done: sent=%d failed=%d", sent, failed)
		}

		if sent+failed == 0 {
			select {
			case <-ctx.Done():
				s.log.Info("Delivery loop exiting")
				return ctx.Err()
			case <-time.After(idle):
			}
		} else if ctx.Err() != nil {
			s.log.Info("Delivery loop exiting")
			return ctx.Err()
		}
	}
}
