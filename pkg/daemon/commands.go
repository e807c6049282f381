package daemon

import (
	"context"
	"errors"

	"github.com/modoterra/reqlog/pkg/core"
	"github.com/modoterra/reqlog/pkg/csvexport"
	"github.com/modoterra/reqlog/pkg/eventlog"
	"github.com/modoterra/reqlog/pkg/transport/uds"
)

// Rehydrate loads the persisted log once. Any load failure leaves the log
// empty and is only logged. Every log operation calls it first, so no command
// can overwrite the durable slot before it was read.
func (d *Daemon) Rehydrate(ctx context.Context) {
	d.rehydrate.Do(func() {
		records, err := d.store.Load(ctx)
		if err != nil {
			d.logger.Warn("could not restore persisted log, starting empty", "store", d.store.Describe(), "err", err)
			return
		}
		d.mu.Lock()
		d.log.Restore(records)
		size := d.log.Size()
		d.mu.Unlock()
		d.logger.Info("log restored", "store", d.store.Describe(), "records", size)
	})
}

// Append admits one captured request. It is the callback handed to every
// capture source.
func (d *Daemon) Append(raw core.RawEvent) {
	d.Rehydrate(context.Background())
	d.mu.Lock()
	d.log.Append(raw)
	err := d.saveLocked(context.Background())
	d.mu.Unlock()
	d.reportPersist(err)
}

// Snapshot returns the current log contents, oldest first.
func (d *Daemon) Snapshot() uds.SnapshotResponse {
	d.Rehydrate(context.Background())
	d.mu.Lock()
	defer d.mu.Unlock()
	return uds.SnapshotResponse{
		Capacity: d.log.Capacity(),
		Seq:      d.log.Seq(),
		Records:  d.log.Snapshot(),
	}
}

// SetCapacity resizes the log. Out-of-range values are clamped.
func (d *Daemon) SetCapacity(ctx context.Context, n int) uds.CommandResponse {
	d.Rehydrate(ctx)
	d.mu.Lock()
	d.log.SetCapacity(n)
	err := d.saveLocked(ctx)
	resp := d.commandResponseLocked(err)
	d.mu.Unlock()

	d.logger.Info("capacity changed", "requested", n, "capacity", resp.Capacity, "size", resp.Size)
	d.reportPersist(err)
	return d.withCapture(resp)
}

// Clear empties the log and removes the durable slot.
func (d *Daemon) Clear(ctx context.Context) uds.CommandResponse {
	d.Rehydrate(ctx)
	d.mu.Lock()
	d.log.Clear()
	err := core.NewPersistenceError(core.OpClear, d.store.Clear(ctx))
	d.recordPersistLocked(err)
	resp := d.commandResponseLocked(err)
	d.mu.Unlock()

	d.logger.Info("log cleared")
	d.reportPersist(err)
	return d.withCapture(resp)
}

// ExportCSV renders the log as pipe-delimited text. An empty log yields an
// empty export.
func (d *Daemon) ExportCSV() uds.ExportResponse {
	d.Rehydrate(context.Background())
	d.mu.Lock()
	records := d.log.Snapshot()
	d.mu.Unlock()

	if len(records) == 0 {
		return uds.ExportResponse{Empty: true}
	}
	return uds.ExportResponse{CSV: csvexport.ToCSV(records)}
}

// StartCapture registers every source that is not already active. Sources
// whose facility is unavailable are skipped.
func (d *Daemon) StartCapture(ctx context.Context) uds.CommandResponse {
	d.capMu.Lock()
	var errs []string
	for _, e := range d.sources {
		if e.active {
			continue
		}
		err := e.src.Register(ctx, d.Append)
		switch {
		case err == nil:
			e.active = true
			e.unavailable = ""
			e.gen++
			if f, ok := e.src.(core.Finisher); ok {
				go d.watchSource(e, e.gen, f.Done())
			}
			d.logger.Info("capture started", "source", e.src.Name(), "kind", e.kind)
		case errors.Is(err, core.ErrCaptureUnavailable):
			e.unavailable = err.Error()
			d.logger.Warn("capture unavailable", "source", e.src.Name(), "err", err)
		default:
			errs = append(errs, e.src.Name()+": "+err.Error())
			d.logger.Error("capture start failed", "source", e.src.Name(), "err", err)
		}
	}
	d.capturing = d.anyActiveLocked()
	capturing := d.capturing
	d.capMu.Unlock()
	d.server.PublishCaptureChanged(uds.CaptureChangedEvent{Capturing: capturing})

	resp := d.commandResponse(nil)
	resp.Errors = errs
	resp.OK = len(errs) == 0
	return d.withCapture(resp)
}

// StopCapture deregisters every active source.
func (d *Daemon) StopCapture(_ context.Context) uds.CommandResponse {
	d.capMu.Lock()
	var errs []string
	for _, e := range d.sources {
		if !e.active {
			continue
		}
		if err := e.src.Deregister(); err != nil {
			errs = append(errs, e.src.Name()+": "+err.Error())
			d.logger.Error("capture stop failed", "source", e.src.Name(), "err", err)
		}
		e.active = false
		d.logger.Info("capture stopped", "source", e.src.Name())
	}
	d.capturing = false
	d.capMu.Unlock()
	d.server.PublishCaptureChanged(uds.CaptureChangedEvent{Capturing: false})

	resp := d.commandResponse(nil)
	resp.Errors = errs
	resp.OK = len(errs) == 0
	return d.withCapture(resp)
}

// watchSource marks e inactive when its registration gen ends without a
// StopCapture, for example when a helper process exits for good.
func (d *Daemon) watchSource(e *sourceEntry, gen uint64, done <-chan struct{}) {
	<-done

	d.capMu.Lock()
	if !e.active || e.gen != gen {
		d.capMu.Unlock()
		return
	}
	const reason = "stopped on its own"
	e.active = false
	e.unavailable = reason
	d.capturing = d.anyActiveLocked()
	capturing := d.capturing
	d.capMu.Unlock()

	d.logger.Warn("capture source stopped", "source", e.src.Name(), "kind", e.kind, "capturing", capturing)
	d.server.PublishCaptureChanged(uds.CaptureChangedEvent{
		Capturing: capturing,
		Source:    e.src.Name(),
		Reason:    reason,
	})
}

// Capturing reports whether at least one source is delivering events.
func (d *Daemon) Capturing() bool {
	d.capMu.Lock()
	defer d.capMu.Unlock()
	return d.capturing
}

// Status summarizes the daemon state.
func (d *Daemon) Status() uds.StatusResponse {
	d.capMu.Lock()
	sources := make([]uds.SourceStatus, 0, len(d.sources))
	for _, e := range d.sources {
		sources = append(sources, uds.SourceStatus{
			Name:        e.src.Name(),
			Kind:        e.kind,
			Active:      e.active,
			Unavailable: e.unavailable,
		})
	}
	capturing := d.capturing
	d.capMu.Unlock()

	d.Rehydrate(context.Background())
	d.mu.Lock()
	defer d.mu.Unlock()
	return uds.StatusResponse{
		Version:      d.version,
		Capturing:    capturing,
		Size:         d.log.Size(),
		Capacity:     d.log.Capacity(),
		Seq:          d.log.Seq(),
		Sources:      sources,
		Store:        d.store.Describe(),
		PersistError: d.persistError,
	}
}

func (d *Daemon) anyActiveLocked() bool {
	for _, e := range d.sources {
		if e.active {
			return true
		}
	}
	return false
}

// saveLocked mirrors the log into the store. The in-memory log stays
// authoritative when it fails.
func (d *Daemon) saveLocked(ctx context.Context) error {
	err := core.NewPersistenceError(core.OpSave, d.store.Save(ctx, d.log.Snapshot()))
	d.recordPersistLocked(err)
	return err
}

func (d *Daemon) recordPersistLocked(err error) {
	if err != nil {
		d.persistError = err.Error()
	} else {
		d.persistError = ""
	}
}

func (d *Daemon) reportPersist(err error) {
	if err == nil {
		return
	}
	op := core.OpSave
	var pe *core.PersistenceError
	if errors.As(err, &pe) {
		op = pe.Op
	}
	d.logger.Warn("persist failed", "op", op, "store", d.store.Describe(), "err", err)
	d.server.PublishPersistError(uds.PersistErrorEvent{Op: op, Error: err.Error()})
}

func (d *Daemon) commandResponse(err error) uds.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commandResponseLocked(err)
}

func (d *Daemon) commandResponseLocked(err error) uds.CommandResponse {
	resp := uds.CommandResponse{
		OK:       true,
		Size:     d.log.Size(),
		Capacity: d.log.Capacity(),
	}
	if err != nil {
		resp.PersistError = err.Error()
	}
	return resp
}

func (d *Daemon) withCapture(resp uds.CommandResponse) uds.CommandResponse {
	resp.Capturing = d.Capturing()
	return resp
}

// onChange runs under mu, from inside the log operation that caused it.
func (d *Daemon) onChange(c eventlog.Change) {
	d.pending = &c
}

// takePending returns and resets the latest unbroadcast change.
func (d *Daemon) takePending() *eventlog.Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.pending
	d.pending = nil
	return c
}
