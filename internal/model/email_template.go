package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var cidPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// EmailTemplate is a keyed definition of sender and content kind with one
// localized text per configured language.
type EmailTemplate struct {
	ID             uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	CID            string `json:"cid" gorm:"type:varchar(30);not null;uniqueIndex"`
	EFrom          string `json:"efrom" gorm:"type:text"`
	ContentSubtype string `json:"content_subtype" gorm:"type:varchar(16);default:html"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Texts []EmailTemplateText `json:"texts,omitempty" gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for EmailTemplate
func (EmailTemplate) TableName() string {
	return "email_templates"
}

// EmailTemplateText holds the subject and body of one template in one
// language. One row per (template, language).
type EmailTemplateText struct {
	ID         uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	TemplateID uint   `json:"template_id" gorm:"not null;uniqueIndex:idx_template_lang"`
	Lang       string `json:"lang" gorm:"type:varchar(8);not null;uniqueIndex:idx_template_lang"`
	Subject    string `json:"subject" gorm:"type:text"`
	Body       string `json:"body" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for EmailTemplateText
func (EmailTemplateText) TableName() string {
	return "email_template_texts"
}

// Normalize uppercases the CID and validates it before persistence.
// Invalid CIDs are rejected, never coerced.
func (t *EmailTemplate) Normalize() error {
	t.CID = strings.ToUpper(strings.TrimSpace(t.CID))
	if !cidPattern.MatchString(t.CID) {
		return fmt.Errorf("CID can contain only numbers and letters with no spaces")
	}
	return nil
}

// Text returns the localized text for lang, or nil if the template has none
func (t *EmailTemplate) Text(lang string) *EmailTemplateText {
	lang = strings.ToLower(lang)
	for i := range t.Texts {
		if strings.ToLower(t.Texts[i].Lang) == lang {
			return &t.Texts[i]
		}
	}
	return nil
}

// Render produces a new unsaved EmailMessage from the template's text in
// the given language. The recipient is left empty for the caller to fill.
func (t *EmailTemplate) Render(ctx map[string]string, lang string) (*EmailMessage, error) {
	text := t.Text(lang)
	if text == nil {
		return nil, fmt.Errorf("template %s has no text for language %q", t.CID, lang)
	}

	return &EmailMessage{
		EFrom:          Substitute(t.EFrom, ctx),
		Subject:        Substitute(text.Subject, ctx),
		Body:           Substitute(text.Body, ctx),
		ContentSubtype: t.ContentSubtype,
	}, nil
}

var templateVar = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Substitute replaces every {{ variable }} occurrence with its value from
// ctx. Unknown variables render as the empty string.
func Substitute(text string, ctx map[string]string) string {
	return templateVar.ReplaceAllStringFunc(text, func(match string) string {
		name := templateVar.FindStringSubmatch(match)[1]
		return ctx[name]
	})
}
