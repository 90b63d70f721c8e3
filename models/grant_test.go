package models

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to GrantStatus
		want     bool
	}{
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusExhausted, true},
		{StatusActive, StatusSoftDeleted, true},
		{StatusActive, StatusPurged, true},
		{StatusSoftDeleted, StatusActive, true},
		{StatusSoftDeleted, StatusPurged, true},
		{StatusExpired, StatusPurged, true},
		{StatusExhausted, StatusPurged, true},
		{StatusExpired, StatusActive, false},
		{StatusExhausted, StatusActive, false},
		{StatusPurged, StatusActive, false},
		{StatusPurged, StatusPurged, false},
		{StatusActive, StatusActive, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	if StatusActive.Terminal() {
		t.Error("active must not be terminal")
	}
	for _, s := range []GrantStatus{StatusExpired, StatusExhausted, StatusSoftDeleted, StatusPurged} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestGrantRemaining(t *testing.T) {
	t.Parallel()

	unlimited := &Grant{}
	if got := unlimited.Remaining(1000); got != "∞" {
		t.Errorf("unlimited remaining = %q, want ∞", got)
	}

	cap := int64(5)
	g := &Grant{DownloadCap: &cap}
	if got := g.Remaining(2); got != "3" {
		t.Errorf("remaining = %q, want 3", got)
	}
	if got := g.Remaining(9); got != "0" {
		t.Errorf("over-cap remaining = %q, want 0", got)
	}
}

func TestGrantExpiresIn(t *testing.T) {
	t.Parallel()

	now := time.Now()
	forever := &Grant{}
	if got := forever.ExpiresIn(now); got != "never" {
		t.Errorf("ExpiresIn = %q, want never", got)
	}

	at := now.Add(90 * time.Second)
	g := &Grant{ExpiresAt: &at}
	if got := g.ExpiresIn(now); got != "90" {
		t.Errorf("ExpiresIn = %q, want 90", got)
	}

	past := now.Add(-time.Minute)
	g = &Grant{ExpiresAt: &past}
	if got := g.ExpiresIn(now); got != "0" {
		t.Errorf("past ExpiresIn = %q, want 0", got)
	}
}

func TestDownloadName(t *testing.T) {
	t.Parallel()

	g := &Grant{DisplayName: "report.pdf"}
	if got := g.DownloadName(); got != "report.pdf" {
		t.Errorf("DownloadName = %q", got)
	}
	g.OriginalName = "tool.exe"
	if got := g.DownloadName(); got != "tool.exe" {
		t.Errorf("masked DownloadName = %q", got)
	}
}
