package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventAction identifies the kind of enforcement decision an event records.
type EventAction string

// Moderation event actions.
const (
	ActionWarned      EventAction = "warned"
	ActionMuted       EventAction = "muted"
	ActionBanned      EventAction = "banned"
	ActionUnbanned    EventAction = "unbanned"
	ActionPromoted    EventAction = "promoted"
	ActionDemoted     EventAction = "demoted"
	ActionPointsGiven EventAction = "points_given"
	ActionPointsTaken EventAction = "points_taken"
)

// JSONMap stores a free-form detail payload as JSONB.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type %T for JSONMap", value)
	}
}

// ModerationEvent is the immutable audit record written once per enforcement
// decision. Events are never updated or deleted.
type ModerationEvent struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	UserExternalID int64       `gorm:"index;not null" json:"user_external_id"`
	ChatID         int64       `gorm:"index" json:"chat_id"`
	MessageID      *uint       `json:"message_id,omitempty"`
	Action         EventAction `gorm:"type:varchar(24);not null" json:"action"`
	Reason         string      `gorm:"type:text" json:"reason"`
	ModeratorID    *int64      `json:"moderator_id,omitempty"`
	Details        JSONMap     `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt      time.Time   `gorm:"index" json:"created_at"`
}
