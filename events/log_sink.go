package events

import "go.uber.org/zap"

// LogSink writes events to the structured log.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Delivery(ev DeliveryResult) {
	s.log.Infow("delivery",
		"token", ev.Token,
		"ip", ev.ClientIP,
		"bytes", ev.BytesSent,
		"ranged", ev.Ranged,
		"success", ev.Success,
	)
}

func (s *LogSink) Sweep(ev SweepSummary) {
	s.log.Infow("sweep", "found", ev.Found, "cleaned", ev.Cleaned)
}
