package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
)

// Recorder writes delivery events to the ledger behind the response. The
// channel is bounded and full means drop: statistics must never apply
// backpressure to downloads.
type Recorder struct {
	ledger store.Ledger
	log    *zap.SugaredLogger
	ch     chan models.DownloadEvent
	done   chan struct{}
}

func NewRecorder(ledger store.Ledger, log *zap.SugaredLogger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		ledger: ledger,
		log:    log,
		ch:     make(chan models.DownloadEvent, buffer),
		done:   make(chan struct{}),
	}
}

// Start launches the drain loop. Returns immediately.
func (r *Recorder) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-r.ch:
				if !ok {
					return
				}
				wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := r.ledger.RecordEvent(wctx, &ev); err != nil {
					r.log.Warnf("record download event failed: %v", err)
				}
				cancel()
			}
		}
	}()
}

// Close stops accepting events and waits for the drain loop to exit.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

func (r *Recorder) Delivery(ev DeliveryResult) {
	row := models.DownloadEvent{
		GrantToken: ev.Token,
		ClientIP:   ev.ClientIP,
		UserAgent:  ev.UserAgent,
		BytesSent:  ev.BytesSent,
		Ranged:     ev.Ranged,
		Success:    ev.Success,
		CreatedAt:  ev.At,
	}
	select {
	case r.ch <- row:
	default:
		// buffer full, drop
	}
}

func (r *Recorder) Sweep(SweepSummary) {}
