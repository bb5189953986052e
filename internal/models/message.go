package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringSlice stores a []string as JSONB.
type StringSlice []string

// Value implements driver.Valuer.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported type %T for StringSlice", value)
	}
}

// Message is a stored chat message with its risk verdict attached for audit.
type Message struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	ExternalMessageID int64       `gorm:"index" json:"external_message_id"`
	UserExternalID    int64       `gorm:"index:idx_messages_user_created" json:"user_external_id"`
	ChatID            int64       `gorm:"index" json:"chat_id"`
	Content           string      `gorm:"type:text" json:"content"`
	ViolenceScore     float64     `gorm:"default:0;not null" json:"violence_score"`
	ToxicityScore     float64     `gorm:"default:0;not null" json:"toxicity_score"`
	Flagged           bool        `gorm:"default:false;not null;index" json:"flagged"`
	FlagReason        string      `json:"flag_reason,omitempty"`
	KeywordFlags      StringSlice `gorm:"type:jsonb" json:"keyword_flags,omitempty"`
	CreatedAt         time.Time   `gorm:"index:idx_messages_user_created" json:"created_at"`
}
