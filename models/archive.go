package models

import "time"

// TerminationReason records why a grant left service.
type TerminationReason string

const (
	ReasonTimeExpired    TerminationReason = "time_expired"
	ReasonDownloadLimit  TerminationReason = "download_limit_reached"
	ReasonManualDeletion TerminationReason = "manual_deletion"
)

// ArchivedGrant is the terminal snapshot of a grant, written before the
// ledger row and blob are removed so a crash mid-cleanup cannot lose
// provenance. GrantToken is unique: re-archiving after a partial cleanup is a
// no-op.
type ArchivedGrant struct {
	ID             string            `gorm:"primaryKey;size:64" json:"id"`
	GrantToken     string            `gorm:"size:64;uniqueIndex;not null" json:"grant_token"`
	OwnerID        *string           `gorm:"size:64;index" json:"owner_id,omitempty"`
	DisplayName    string            `gorm:"size:512" json:"display_name"`
	BlobKey        string            `gorm:"size:512" json:"blob_key"`
	Mime           string            `gorm:"size:255" json:"mime"`
	SizeBytes      int64             `json:"size_bytes"`
	TotalDownloads int64             `json:"total_downloads"`
	Reason         TerminationReason `gorm:"size:32;not null" json:"reason"`
	CreatedAt      time.Time         `json:"created_at"`
	ArchivedAt     time.Time         `json:"archived_at"`
}
