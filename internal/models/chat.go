package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ChatSettings is the typed per-chat configuration previously kept as a loose
// settings bag. Fields are enumerated so invariants stay checkable.
type ChatSettings struct {
	AutoDeleteFlagged bool    `json:"auto_delete_flagged"`
	PendingDeletions  []int64 `json:"pending_deletions,omitempty"`
}

// Value implements driver.Valuer so GORM stores settings as JSONB.
func (s ChatSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *ChatSettings) Scan(value interface{}) error {
	if value == nil {
		*s = ChatSettings{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported type %T for ChatSettings", value)
	}
}

// ChatContext tracks moderation configuration for a single chat.
type ChatContext struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	ChatID            int64        `gorm:"uniqueIndex;not null" json:"chat_id"`
	Title             string       `json:"title"`
	ModerationEnabled bool         `gorm:"default:true;not null" json:"moderation_enabled"`
	Settings          ChatSettings `gorm:"type:jsonb" json:"settings"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (ChatContext) TableName() string {
	return "chat_contexts"
}

// QueueDeletion appends a message ID to the pending-deletion queue, skipping
// duplicates. The transport layer drains this queue.
func (c *ChatContext) QueueDeletion(messageID int64) {
	for _, id := range c.Settings.PendingDeletions {
		if id == messageID {
			return
		}
	}
	c.Settings.PendingDeletions = append(c.Settings.PendingDeletions, messageID)
}
