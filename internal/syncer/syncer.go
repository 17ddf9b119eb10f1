// Package syncer implements the inbound mailbox ingestion engine: it
// fetches messages from the mailbox, classifies bounces, correlates them to
// outbound messages by tracking token, applies the admission filters and
// persists the result.
package syncer

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/bounce"
	"mail-dispatch-go/internal/filter"
	"mail-dispatch-go/internal/mailbox"
	"mail-dispatch-go/internal/metrics"
	"mail-dispatch-go/internal/model"
	"mail-dispatch-go/internal/parser"
)

// Mailbox is the IMAP surface the syncer needs
type Mailbox interface {
	Search(sel mailbox.Selector) ([]uint32, error)
	Fetch(ids []uint32) ([]mailbox.Fetched, error)
	MarkSeen(id uint32) error
	Delete(id uint32) error
}

// Store is the record-store surface the syncer needs
type Store interface {
	ReceivedByEID(eid string) (*model.EmailReceived, error)
	SaveReceived(rec *model.EmailReceived) error
	MessageByUUID(token string) (*model.EmailMessage, error)
	RecalculateBounces(m *model.EmailMessage) error
}

// Options are the per-pass flags of the sync command
type Options struct {
	IMAPID     uint32 // fetch one message by server id
	MessageID  string // fetch one message by Message-ID
	TrackingID string // keep only messages carrying this correlation token
	All        bool   // fetch the whole folder instead of the default selector
	Rewrite    bool   // overwrite already-ingested messages
	Silent     bool
}

// Result summarizes one sync pass
type Result struct {
	Fetched     int
	Created     int
	Overwritten int
	Skipped     int
	Bounces     int
}

// Syncer runs inbound ingestion passes against one mailbox folder
type Syncer struct {
	mbox    Mailbox
	store   Store
	cfg     config.IMAPConfig
	rules   filter.RuleSet
	metrics *metrics.Metrics
	log     *logrus.Logger
}

func New(mbox Mailbox, store Store, cfg config.IMAPConfig, rules filter.RuleSet, m *metrics.Metrics, log *logrus.Logger) *Syncer {
	return &Syncer{mbox: mbox, store: store, cfg: cfg, rules: rules, metrics: m, log: log}
}

// Sync performs one ingestion pass. Per-message failures are logged and
// skipped; the mailbox disposition (delete or mark seen) is applied to every
// fetched message regardless of whether it was persisted, so no message is
// examined twice by the default selector.
func (s *Syncer) Sync(opts Options) (*Result, error) {
	sel := mailbox.Selector{
		IMAPID:    opts.IMAPID,
		MessageID: opts.MessageID,
		All:       opts.All,
		Criteria:  s.cfg.Selector,
	}

	ids, err := s.mbox.Search(sel)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if len(ids) == 0 {
		if !opts.Silent {
			s.log.Info("No messages matched the mailbox search")
		}
		return res, nil
	}

	s.metrics.SyncPasses.Inc()

	fetched, err := s.mbox.Fetch(ids)
	if err != nil {
		return nil, err
	}
	res.Fetched = len(fetched)

	for _, msg := range fetched {
		s.process(msg, opts, res)
		s.dispose(msg.ID)
	}

	if !opts.Silent {
		s.log.Infof("Sync pass done: fetched=%d created=%d overwritten=%d skipped=%d bounces=%d",
			res.Fetched, res.Created, res.Overwritten, res.Skipped, res.Bounces)
	}
	return res, nil
}

// process ingests one fetched message
func (s *Syncer) process(msg mailbox.Fetched, opts Options, res *Result) {
	email, err := parser.Parse(msg.Raw)
	if err != nil {
		s.log.Warnf("Failed to parse IMAP id %d: %v", msg.ID, err)
		res.Skipped++
		return
	}

	// The Message-ID is the deduplication key; messages without one get a
	// synthetic key derived from their server id, stable per folder.
	eid := email.MessageID
	if eid == "" {
		eid = fmt.Sprintf("<imapid-%d@%s>", msg.ID, s.cfg.Host)
	}

	existing, err := s.store.ReceivedByEID(eid)
	if err != nil {
		s.log.Errorf("Failed to look up %s: %v", eid, err)
		res.Skipped++
		return
	}
	if existing != nil && !opts.Rewrite {
		if !opts.Silent {
			s.log.Infof("Already ingested %s, skipping", eid)
		}
		res.Skipped++
		return
	}

	bounceType, bounceReason := bounce.Analyze(email)
	trackingID := bounce.FindTrackingID(email)

	if opts.TrackingID != "" && trackingID != opts.TrackingID {
		res.Skipped++
		return
	}

	pass, reason := filter.Evaluate(filter.Input{
		Subject:      email.Subject,
		From:         email.From,
		To:           email.To,
		Cc:           email.Cc,
		Bcc:          email.Bcc,
		MessageID:    eid,
		BodyPlain:    email.BodyPlain,
		BodyHTML:     email.BodyHTML,
		Headers:      email.Headers,
		BounceType:   bounceType,
		BounceReason: bounceReason,
		TrackingID:   trackingID,
	}, &s.rules)
	if !pass {
		if !opts.Silent {
			s.log.Infof("Filtered out %s: %s", eid, reason)
		}
		res.Skipped++
		return
	}

	rec := existing
	if rec == nil {
		rec = &model.EmailReceived{}
	}
	rec.IMAPID = msg.ID
	rec.EID = eid
	rec.EFrom = email.From
	rec.ETo = email.To
	rec.Subject = email.Subject
	rec.Headers = email.Headers
	rec.BodyText = email.BodyPlain
	rec.BodyHTML = email.BodyHTML
	rec.DateReceived = receivedAt(msg)
	rec.BounceType = bounceType
	rec.BounceReason = bounceReason

	var linked *model.EmailMessage
	if trackingID != "" {
		linked, err = s.store.MessageByUUID(trackingID)
		if err != nil {
			s.log.Errorf("Failed to resolve tracking token %s: %v", trackingID, err)
		} else if linked != nil {
			rec.EmailID = &linked.ID
		} else if !opts.Silent {
			s.log.Warnf("Tracking token %s matches no outbound message", trackingID)
		}
	}

	if err := s.store.SaveReceived(rec); err != nil {
		s.log.Errorf("Failed to save %s: %v", eid, err)
		res.Skipped++
		return
	}

	if existing != nil {
		res.Overwritten++
	} else {
		res.Created++
	}
	s.metrics.EmailsReceived.Inc()

	if rec.IsBounce() {
		res.Bounces++
		s.metrics.Bounces.Inc()
	}

	// Any change to a linked row can shift the outbound message's derived
	// bounce aggregation, bounce or not.
	if linked != nil {
		if err := s.store.RecalculateBounces(linked); err != nil {
			s.log.Errorf("Failed to recalculate bounces for email %d: %v", linked.ID, err)
		}
	}
}

// receivedAt is the server-assigned receive timestamp of the fetch. The
// message's own Date header is untrusted and is kept only inside the header
// map; a zero internal date degrades to the ingestion time.
func receivedAt(msg mailbox.Fetched) time.Time {
	if !msg.InternalDate.IsZero() {
		return msg.InternalDate
	}
	return time.Now()
}

// dispose applies the configured post-ingestion action
func (s *Syncer) dispose(id uint32) {
	if s.cfg.Delete {
		if err := s.mbox.Delete(id); err != nil {
			s.log.Errorf("Failed to delete IMAP id %d: %v", id, err)
		}
		return
	}
	if s.cfg.MarkSeen {
		if err := s.mbox.MarkSeen(id); err != nil {
			s.log.Errorf("Failed to mark IMAP id %d seen: %v", id, err)
		}
	}
}
