// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// Role is a user's privilege level. Ordering: member < moderator < admin.
type Role string

// User roles.
const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var roleRank = map[Role]int{
	RoleMember:    0,
	RoleModerator: 1,
	RoleAdmin:     2,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Status is a user's enforcement state.
type Status string

// Enforcement statuses. The status/BannedUntil pair is always one of
// {active,nil}, {warned,nil}, {muted,future}, {banned,future-or-nil}.
const (
	StatusActive Status = "active"
	StatusWarned Status = "warned"
	StatusMuted  Status = "muted"
	StatusBanned Status = "banned"
)

// User represents a chat community member and their enforcement/points state.
type User struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ExternalID      int64      `gorm:"uniqueIndex;not null" json:"external_id"`
	Username        string     `json:"username"`
	FirstName       string     `json:"first_name"`
	Role            Role       `gorm:"type:varchar(16);default:'member';not null" json:"role"`
	Status          Status     `gorm:"type:varchar(16);default:'active';not null" json:"status"`
	WarningCount    int        `gorm:"default:0;not null" json:"warning_count"`
	BannedUntil     *time.Time `json:"banned_until"`
	Points          int64      `gorm:"default:0;not null" json:"points"`
	TotalEarned     int64      `gorm:"default:0;not null" json:"total_earned"`
	TotalSpent      int64      `gorm:"default:0;not null" json:"total_spent"`
	MessageCount    int64      `gorm:"default:0;not null" json:"message_count"`
	LastInteraction time.Time  `json:"last_interaction"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsBanned reports whether the user is banned as of now. A nil BannedUntil
// while banned means the ban is permanent.
func (u *User) IsBanned(now time.Time) bool {
	return u.Status == StatusBanned && (u.BannedUntil == nil || u.BannedUntil.After(now))
}

// IsMuted reports whether the user is muted as of now.
func (u *User) IsMuted(now time.Time) bool {
	return u.Status == StatusMuted && u.BannedUntil != nil && u.BannedUntil.After(now)
}

// RestrictionLapsed reports whether a timed mute/ban has expired and the user
// is due a lazy reset to active.
func (u *User) RestrictionLapsed(now time.Time) bool {
	return u.BannedUntil != nil && !u.BannedUntil.After(now)
}

// Exempt reports whether the user is exempt from automatic moderation.
func (u *User) Exempt() bool {
	return u.Role.AtLeast(RoleModerator)
}

// DisplayName returns the user's handle for audit reasons and responses.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "user"
}
