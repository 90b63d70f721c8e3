package models

import "time"

// DownloadEvent records one delivery attempt. Writes are best-effort and
// happen behind the response; a lost row never fails a download.
type DownloadEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	GrantToken string    `gorm:"size:64;index;not null" json:"grant_token"`
	ClientIP   string    `gorm:"size:45" json:"client_ip"`
	UserAgent  string    `gorm:"size:512" json:"user_agent"`
	BytesSent  int64     `json:"bytes_sent"`
	Ranged     bool      `json:"ranged"`
	Success    bool      `json:"success"`
	CreatedAt  time.Time `json:"created_at"`
}
