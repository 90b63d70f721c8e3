// Package events carries delivery-result and sweep-summary events to
// whatever wants them. Sinks are best-effort: the delivery path never blocks
// or fails because an event could not be handled.
package events

import "time"

// DeliveryResult describes one finished (or aborted) delivery.
type DeliveryResult struct {
	Token     string
	ClientIP  string
	UserAgent string
	BytesSent int64
	Ranged    bool
	Success   bool
	At        time.Time
}

// SweepSummary describes one reconciliation pass.
type SweepSummary struct {
	Found   int
	Cleaned int
	At      time.Time
}

// Sink consumes events. Implementations must be safe for concurrent use and
// must not block the caller for long.
type Sink interface {
	Delivery(DeliveryResult)
	Sweep(SweepSummary)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Delivery(DeliveryResult) {}
func (Nop) Sweep(SweepSummary)      {}

type multi []Sink

// Multi fans events out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Delivery(ev DeliveryResult) {
	for _, s := range m {
		s.Delivery(ev)
	}
}

func (m multi) Sweep(ev SweepSummary) {
	for _, s := range m {
		s.Sweep(ev)
	}
}
