package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Content subtypes for outbound messages
const (
	ContentPlain = "plain"
	ContentHTML  = "html"
)

// EmailMessage represents one outbound email in the delivery queue
type EmailMessage struct {
	ID   uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	UUID string `json:"uuid" gorm:"type:varchar(36);uniqueIndex"`

	EFrom          string            `json:"efrom" gorm:"type:varchar(255);not null"`
	ETo            string            `json:"eto" gorm:"type:varchar(255);not null;index"`
	Subject        string            `json:"subject" gorm:"type:varchar(256);not null"`
	Body           string            `json:"body" gorm:"type:text;not null"`
	ContentSubtype string            `json:"content_subtype" gorm:"type:varchar(16);default:html"`
	Headers        map[string]string `json:"headers" gorm:"serializer:json"`
	UnsubscribeURL string            `json:"unsubscribe_url" gorm:"type:varchar(512)"`

	Priority  uint      `json:"priority" gorm:"not null;default:5;index:idx_queue_order,priority:1"`
	Sending   bool      `json:"sending" gorm:"not null;default:false"`
	Sent      bool      `json:"sent" gorm:"not null;default:false"`
	Error     bool      `json:"error" gorm:"not null;default:false"`
	Retries   uint      `json:"retries" gorm:"not null;default:0"`
	NextRetry time.Time `json:"next_retry" gorm:"index:idx_queue_order,priority:2"`
	Log       string    `json:"log" gorm:"type:text"`

	Opened *time.Time `json:"opened,omitempty"`

	// Derived from linked EmailReceived rows, see RecalculateBounces
	Bounced     bool `json:"bounced" gorm:"not null;default:false"`
	BounceCount uint `json:"bounce_count" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Attachments []EmailAttachment `json:"attachments,omitempty" gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for EmailMessage
func (EmailMessage) TableName() string {
	return "email_messages"
}

// BeforeCreate assigns the correlation token and initial retry timestamp
func (m *EmailMessage) BeforeCreate(tx *gorm.DB) error {
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	if m.NextRetry.IsZero() {
		m.NextRetry = time.Now()
	}
	return nil
}

// AppendLog appends one line to the message's durable diagnostic trail
func (m *EmailMessage) AppendLog(line string) {
	m.Log += line
	if len(line) > 0 && line[len(line)-1] != '\n' {
		m.Log += "\n"
	}
}

// RecordFailure applies the failure bookkeeping shared by connect-time and
// exhausted send-time errors: the message leaves the in-flight state, sinks
// in priority, consumes one retry and gets a constant-backoff retry slot.
// Once the retry budget is exhausted the message is terminally failed.
func (m *EmailMessage) RecordFailure(reason string, wait time.Duration, maxRetries int, now time.Time) {
	m.AppendLog(reason)
	m.Sending = false
	m.Priority++
	m.Retries++
	m.NextRetry = now.Add(wait)
	if int(m.Retries) >= maxRetries {
		m.Error = true
	}
}

// MarkSent records terminal delivery success
func (m *EmailMessage) MarkSent() {
	m.Sent = true
	m.Sending = false
}

// Terminal reports whether the message has permanently left the queue
func (m *EmailMessage) Terminal() bool {
	return m.Sent || m.Error
}

func (m *EmailMessage) String() string {
	return fmt.Sprintf("%s (%d)", m.ETo, m.ID)
}
