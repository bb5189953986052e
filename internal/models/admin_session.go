package models

import "time"

// AdminSession is a dashboard login session. Expired rows are purged by the
// reconciler sweep.
type AdminSession struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Token          string    `gorm:"uniqueIndex;not null" json:"-"`
	UserExternalID int64     `gorm:"index;not null" json:"user_external_id"`
	ExpiresAt      time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the session has lapsed.
func (s *AdminSession) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Extend pushes the expiry out by the given duration from now.
func (s *AdminSession) Extend(now time.Time, d time.Duration) {
	s.ExpiresAt = now.Add(d)
}
