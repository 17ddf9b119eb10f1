// Package repository is the record store consumed by the delivery and sync
// engines. "Not found" is a nil result, never an error.
package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"mail-dispatch-go/internal/model"
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// BatchQuery restricts which queued messages a delivery pass selects
type BatchQuery struct {
	MaxRetries int
	RetryAll   bool // ignore the retry ceiling
	SendNow    bool // ignore the next_retry window
	All        bool // ignore the bucket size
	BucketSize int
	Now        time.Time
}

// Pending selects the schedulable messages for one delivery pass, ordered
// by (priority, next_retry) and sliced to the bucket size.
func (r *Repository) Pending(q BatchQuery) ([]model.EmailMessage, error) {
	tx := r.db.Where("sent = ? AND sending = ? AND error = ?", false, false, false)

	if !q.RetryAll {
		tx = tx.Where("retries < ?", q.MaxRetries)
	}
	if !q.SendNow {
		tx = tx.Where("next_retry <= ?", q.Now)
	}

	tx = tx.Order("priority ASC, next_retry ASC").Preload("Attachments")

	if !q.All {
		tx = tx.Limit(q.BucketSize)
	}

	var emails []model.EmailMessage
	if err := tx.Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("failed to select pending emails: %w", err)
	}
	return emails, nil
}

// Claim marks the whole batch as in-flight in one bulk update, before any
// individual send begins, so a competing scheduler cannot re-select it.
func (r *Repository) Claim(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	result := r.db.Model(&model.EmailMessage{}).Where("id IN ?", ids).Update("sending", true)
	if result.Error != nil {
		return fmt.Errorf("failed to claim batch: %w", result.Error)
	}
	return nil
}

// ClearSending resets every in-flight marker; used to recover messages
// stranded by an abnormal scheduler termination. It does not reset error.
func (r *Repository) ClearSending() (int64, error) {
	result := r.db.Model(&model.EmailMessage{}).Where("sending = ?", true).Update("sending", false)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear sending flags: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Save persists the full state of one queued message
func (r *Repository) Save(m *model.EmailMessage) error {
	if err := r.db.Save(m).Error; err != nil {
		return fmt.Errorf("failed to save email %d: %w", m.ID, err)
	}
	return nil
}

// Create enqueues a new outbound message
func (r *Repository) Create(m *model.EmailMessage) error {
	if err := r.db.Create(m).Error; err != nil {
		return fmt.Errorf("failed to create email: %w", err)
	}
	return nil
}

// PurgeSent deletes the batch members that ended the pass delivered; used
// when history retention is disabled.
func (r *Repository) PurgeSent(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	result := r.db.Where("id IN ? AND sent = ?", ids, true).Delete(&model.EmailMessage{})
	if result.Error != nil {
		return fmt.Errorf("failed to purge sent emails: %w", result.Error)
	}
	return nil
}

// MessageByUUID resolves a correlation token to its outbound message
func (r *Repository) MessageByUUID(token string) (*model.EmailMessage, error) {
	var m model.EmailMessage
	result := r.db.Where("uuid = ?", token).First(&m)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up email by uuid: %w", result.Error)
	}
	return &m, nil
}

// MarkOpened records the first open of a message. The first call wins:
// later calls leave the stored timestamp untouched. It reports whether the
// token exists at all.
func (r *Repository) MarkOpened(token string, at time.Time) (bool, error) {
	result := r.db.Model(&model.EmailMessage{}).
		Where("uuid = ? AND opened IS NULL", token).
		Update("opened", at)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark email opened: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Already opened, or unknown token
	var count int64
	if err := r.db.Model(&model.EmailMessage{}).Where("uuid = ?", token).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check email uuid: %w", err)
	}
	return count > 0, nil
}

// ReceivedByEID looks up a received email by its deduplication key
func (r *Repository) ReceivedByEID(eid string) (*model.EmailReceived, error) {
	var rec model.EmailReceived
	result := r.db.Where("eid = ?", eid).First(&rec)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up received email: %w", result.Error)
	}
	return &rec, nil
}

// SaveReceived creates or overwrites one received email row
func (r *Repository) SaveReceived(rec *model.EmailReceived) error {
	if err := r.db.Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save received email: %w", err)
	}
	return nil
}

// RecalculateBounces recomputes the derived bounce aggregation of an
// outbound message from its linked received emails.
func (r *Repository) RecalculateBounces(m *model.EmailMessage) error {
	var total, hard int64
	base := r.db.Model(&model.EmailReceived{}).Where("email_id = ?", m.ID)

	if err := base.Where("bounce_type <> ?", model.BounceNone).Count(&total).Error; err != nil {
		return fmt.Errorf("failed to count bounces: %w", err)
	}
	if err := r.db.Model(&model.EmailReceived{}).
		Where("email_id = ? AND bounce_type = ?", m.ID, model.BounceHard).
		Count(&hard).Error; err != nil {
		return fmt.Errorf("failed to count hard bounces: %w", err)
	}

	m.BounceCount = uint(total)
	m.Bounced = hard > 0
	return r.Save(m)
}

// QueueStats summarizes the delivery queue for the stats endpoint
type QueueStats struct {
	Pending int64 `json:"pending"`
	Sending int64 `json:"sending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

// Stats counts the queue by delivery state
func (r *Repository) Stats() (*QueueStats, error) {
	var stats QueueStats
	counts := []struct {
		dst   *int64
		query string
	}{
		{&stats.Pending, "sent = false AND sending = false AND error = false"},
		{&stats.Sending, "sending = true"},
		{&stats.Sent, "sent = true"},
		{&stats.Failed, "error = true"},
	}
	for _, c := range counts {
		if err := r.db.Model(&model.EmailMessage{}).Where(c.query).Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("failed to count queue: %w", err)
		}
	}
	return &stats, nil
}

// TemplateByCID looks up a template with its localized texts, nil if absent
func (r *Repository) TemplateByCID(cid string) (*model.EmailTemplate, error) {
	var tpl model.EmailTemplate
	result := r.db.Preload("Texts").Where("cid = ?", cid).First(&tpl)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up template: %w", result.Error)
	}
	return &tpl, nil
}

// TemplateByPK looks up a template by primary key, nil if absent
func (r *Repository) TemplateByPK(pk uint) (*model.EmailTemplate, error) {
	var tpl model.EmailTemplate
	result := r.db.Preload("Texts").First(&tpl, pk)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up template: %w", result.Error)
	}
	return &tpl, nil
}

// SaveTemplate validates and persists a template definition
func (r *Repository) SaveTemplate(tpl *model.EmailTemplate) error {
	if err := tpl.Normalize(); err != nil {
		return err
	}
	if err := r.db.Save(tpl).Error; err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// RenderTemplate renders a template identified by CID (preferred) or
// primary key into a new unsaved message. A missing template renders nil,
// not an error.
func (r *Repository) RenderTemplate(cid string, pk uint, ctx map[string]string, lang string) (*model.EmailMessage, error) {
	var (
		tpl *model.EmailTemplate
		err error
	)
	if cid != "" {
		tpl, err = r.TemplateByCID(cid)
	} else {
		tpl, err = r.TemplateByPK(pk)
	}
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, nil
	}
	return tpl.Render(ctx, lang)
}
