package models

import (
	"strconv"
	"time"
)

// GrantStatus tags where a grant sits in its lifecycle. The tag is stored
// explicitly rather than derived from nullable columns so partial states
// cannot exist.
type GrantStatus string

const (
	StatusActive      GrantStatus = "active"
	StatusExpired     GrantStatus = "expired"
	StatusExhausted   GrantStatus = "exhausted"
	StatusSoftDeleted GrantStatus = "soft_deleted"
	StatusPurged      GrantStatus = "purged"
)

// Terminal reports whether the status never yields a successful delivery again.
func (s GrantStatus) Terminal() bool {
	switch s {
	case StatusExpired, StatusExhausted, StatusSoftDeleted, StatusPurged:
		return true
	}
	return false
}

// CanTransition reports whether a status change is legal.
// active may move to any terminal state; soft_deleted can be restored or
// purged; expired/exhausted only purge; purged is final.
func (s GrantStatus) CanTransition(to GrantStatus) bool {
	switch s {
	case StatusActive:
		return to == StatusExpired || to == StatusExhausted || to == StatusSoftDeleted || to == StatusPurged
	case StatusSoftDeleted:
		return to == StatusActive || to == StatusPurged
	case StatusExpired, StatusExhausted:
		return to == StatusPurged
	}
	return false
}

// Grant authorizes bounded access to one blob. The token is a capability:
// whoever holds it may download, subject to expiry and the download cap.
type Grant struct {
	Token         string      `gorm:"primaryKey;size:64" json:"token"`
	OwnerID       *string     `gorm:"size:64;index" json:"owner_id,omitempty"`
	BlobKey       string      `gorm:"size:512;not null" json:"blob_key"`
	DisplayName   string      `gorm:"size:512;not null" json:"display_name"`
	OriginalName  string      `gorm:"size:512" json:"original_name,omitempty"`
	Mime          string      `gorm:"size:255" json:"mime"`
	SizeBytes     int64       `json:"size_bytes"`
	DownloadCap   *int64      `json:"download_cap,omitempty"`
	DownloadCount int64       `gorm:"not null;default:0" json:"download_count"`
	Status        GrantStatus `gorm:"size:16;not null;default:active;index" json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	ExpiresAt     *time.Time  `gorm:"index" json:"expires_at,omitempty"`
	DeletedAt     *time.Time  `json:"deleted_at,omitempty"`
	DeletedBy     string      `gorm:"size:64" json:"-"`
}

// Unlimited reports whether the grant has no download cap.
func (g *Grant) Unlimited() bool {
	return g.DownloadCap == nil
}

// Remaining formats downloads left, given the current count. Unlimited grants
// render as the infinity sign, matching the wire contract.
func (g *Grant) Remaining(count int64) string {
	if g.DownloadCap == nil {
		return "∞"
	}
	left := *g.DownloadCap - count
	if left < 0 {
		left = 0
	}
	return strconv.FormatInt(left, 10)
}

// ExpiresIn formats the remaining lifetime in whole seconds, or "never".
func (g *Grant) ExpiresIn(now time.Time) string {
	if g.ExpiresAt == nil {
		return "never"
	}
	secs := int64(g.ExpiresAt.Sub(now).Seconds())
	if secs < 0 {
		secs = 0
	}
	return strconv.FormatInt(secs, 10)
}

// DownloadName is the name the receiver should see: the original name when an
// upload was masked, the display name otherwise.
func (g *Grant) DownloadName() string {
	if g.OriginalName != "" {
		return g.OriginalName
	}
	return g.DisplayName
}
