package model

import "time"

// Bounce classifications for received emails
const (
	BounceNone = ""
	BounceSoft = "soft"
	BounceHard = "hard"
)

// EmailReceived captures one inbound email fetched from the mailbox. EID is
// the deduplication key: at most one row per Message-ID unless an explicit
// rewrite is requested.
type EmailReceived struct {
	ID     uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	IMAPID uint32 `json:"imap_id" gorm:"not null;index"`
	EID    string `json:"eid" gorm:"type:varchar(255);not null;uniqueIndex"`

	EFrom   string            `json:"efrom" gorm:"type:varchar(255)"`
	ETo     string            `json:"eto" gorm:"type:text"`
	Subject string            `json:"subject" gorm:"type:text"`
	Headers map[string]string `json:"headers" gorm:"serializer:json"`

	BodyText string `json:"body_text" gorm:"type:longtext"`
	BodyHTML string `json:"body_html" gorm:"type:longtext"`

	DateReceived time.Time `json:"date_received"`

	// Weak back-reference to the outbound message this email correlates
	// with; lookup only, not ownership.
	EmailID *uint         `json:"email_id,omitempty" gorm:"index"`
	Email   *EmailMessage `json:"email,omitempty" gorm:"foreignKey:EmailID;constraint:OnDelete:SET NULL"`

	BounceType   string `json:"bounce_type" gorm:"type:varchar(8);index"`
	BounceReason string `json:"bounce_reason" gorm:"type:varchar(255)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for EmailReceived
func (EmailReceived) TableName() string {
	return "email_received"
}

// IsBounce reports whether the email was classified as any kind of bounce
func (r *EmailReceived) IsBounce() bool {
	return r.BounceType != BounceNone
}
