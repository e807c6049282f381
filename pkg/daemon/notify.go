package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/modoterra/reqlog/pkg/transport/uds"
)

// DefaultNotifyInterval is the default gap between log.changed broadcasts.
const DefaultNotifyInterval = 250 * time.Millisecond

// NotifyLoop broadcasts the latest log change every interval, coalescing
// bursts of appends into a single event.
type NotifyLoop struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger
}

// NewNotifyLoop creates a notify loop for the given daemon.
func NewNotifyLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *NotifyLoop {
	return &NotifyLoop{daemon: d, interval: interval, logger: logger}
}

// Run starts the notify loop. Blocks until ctx is cancelled.
func (nl *NotifyLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(nl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nl.tick()
		}
	}
}

func (nl *NotifyLoop) tick() {
	c := nl.daemon.takePending()
	if c == nil {
		return
	}
	nl.daemon.Server().PublishLogChanged(uds.LogChangedEvent{
		Seq:      c.Seq,
		Op:       string(c.Op),
		Size:     c.Size,
		Capacity: c.Capacity,
	})
}
