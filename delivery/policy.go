package delivery

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dropgate/dropgate/models"
)

// HeaderProfile is the content-type and disposition shape a delivery
// response takes. Masked profiles suppress the usual download-intent
// signaling so download accelerators ignore the transfer.
type HeaderProfile struct {
	ContentType string
	// Disposition is empty for masked deliveries.
	Disposition string
	Extra       map[string]string
}

// Policy decides header profiles per file-extension class and answers
// preview eligibility per mime class. It is configuration, not hard-coded
// conditionals, so the masking trade-off stays auditable.
type Policy struct {
	sensitive       map[string]bool
	previewPrefixes []string
}

func NewPolicy(sensitiveExts, previewMimePrefixes []string) *Policy {
	p := &Policy{
		sensitive:       make(map[string]bool, len(sensitiveExts)),
		previewPrefixes: previewMimePrefixes,
	}
	for _, ext := range sensitiveExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.sensitive[ext] = true
	}
	return p
}

// Sensitive reports whether the grant's download name falls into the masked
// extension class.
func (p *Policy) Sensitive(g *models.Grant) bool {
	ext := strings.ToLower(filepath.Ext(g.DownloadName()))
	return p.sensitive[ext]
}

// Profile picks the header profile for a delivery.
func (p *Policy) Profile(g *models.Grant) HeaderProfile {
	if p.Sensitive(g) {
		return HeaderProfile{
			ContentType: "text/plain",
			Extra: map[string]string{
				"X-Content-Type-Options": "nosniff",
				"X-Robots-Tag":           "noindex, nofollow, nosnippet, noarchive",
				"Referrer-Policy":        "strict-origin-when-cross-origin",
			},
		}
	}
	mime := g.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}
	return HeaderProfile{
		ContentType: mime,
		Disposition: fmt.Sprintf("attachment; filename=%q", g.DisplayName),
	}
}

// InlineProfile is the profile for preview redemptions: rendered inline,
// never masked, never an attachment.
func (p *Policy) InlineProfile(g *models.Grant) HeaderProfile {
	mime := g.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}
	return HeaderProfile{
		ContentType: mime,
		Disposition: fmt.Sprintf("inline; filename=%q", g.DisplayName),
	}
}

// Previewable reports whether the grant's mime class qualifies for inline
// preview.
func (p *Policy) Previewable(g *models.Grant) bool {
	for _, prefix := range p.previewPrefixes {
		if strings.HasPrefix(g.Mime, prefix) {
			return true
		}
	}
	return false
}
