// Package tail captures requests reported as NDJSON lines appended to a file.
// A browser extension or any other producer writes one JSON object per
// observed request; only lines appended after Register are reported.
package tail

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/modoterra/reqlog/pkg/core"
)

// DefaultPollInterval is how often the file is checked for new data.
const DefaultPollInterval = 250 * time.Millisecond

// Source tails a single NDJSON file.
type Source struct {
	name   string
	path   string
	logger *slog.Logger

	// PollInterval overrides DefaultPollInterval when set before Register.
	PollInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a tail source for path.
func New(name, path string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{name: name, path: path, logger: logger}
}

func (s *Source) Name() string { return s.name }

// Path returns the tailed file.
func (s *Source) Path() string { return s.path }

// Register opens the file, seeks to its end and starts following it.
// A file that cannot be opened makes capture unavailable.
func (s *Source) Register(ctx context.Context, onEvent func(core.RawEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", core.ErrCaptureUnavailable, s.path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return fmt.Errorf("seek %s: %w", s.path, err)
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		defer f.Close()
		s.follow(tctx, f, interval, onEvent)
	}()

	s.logger.Info("tailing file", "source", s.name, "path", s.path)
	return nil
}

// Deregister stops following the file and waits for the reader to exit.
func (s *Source) Deregister() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Source) follow(ctx context.Context, f *os.File, interval time.Duration, onEvent func(core.RawEvent)) {
	reader := bufio.NewReader(f)
	var partial []byte

	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			partial = append(partial, chunk...)
		}
		if err == nil {
			s.deliver(partial, onEvent)
			partial = partial[:0]
			continue
		}

		// No complete line yet: wait, then check for truncation.
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		info, serr := f.Stat()
		if serr != nil {
			continue
		}
		pos, _ := f.Seek(0, io.SeekCurrent)
		if info.Size() < pos {
			s.logger.Debug("file truncated, rewinding", "source", s.name, "path", s.path)
			f.Seek(0, io.SeekStart)
			reader.Reset(f)
			partial = partial[:0]
		}
	}
}

func (s *Source) deliver(line []byte, onEvent func(core.RawEvent)) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	raw, err := core.DecodeRawEvent(line)
	if err != nil {
		s.logger.Warn("skipping malformed line", "source", s.name, "err", err)
		return
	}
	onEvent(raw)
}
