package models

import "time"

// PreviewGrant is a short-lived, single-use child of a grant, held in the
// ephemeral store only. Its token is recomputable from the parent token and
// issue timestamp, so the stored record is a use counter, not the secret.
type PreviewGrant struct {
	ParentToken  string    `json:"parent_token"`
	PreviewToken string    `json:"preview_token"`
	IssuedAt     time.Time `json:"issued_at"`
	TTLSeconds   int64     `json:"ttl_seconds"`
	MaxUses      int       `json:"max_uses"`
	UsedCount    int       `json:"used_count"`
}

// ExpiresAt is the instant after which the record is inert regardless of use
// count.
func (p *PreviewGrant) ExpiresAt() time.Time {
	return p.IssuedAt.Add(time.Duration(p.TTLSeconds) * time.Second)
}
