package model

import "time"

// EmailAttachment is owned by exactly one EmailMessage and is read-only at
// send time. Path references the stored file content on disk.
type EmailAttachment struct {
	ID       uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailID  uint   `json:"email_id" gorm:"not null;index"`
	Filename string `json:"filename" gorm:"type:varchar(256);not null"`
	Mime     string `json:"mime" gorm:"type:varchar(256);not null"`
	Path     string `json:"path" gorm:"type:varchar(512);not null"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for EmailAttachment
func (EmailAttachment) TableName() string {
	return "email_attachments"
}
