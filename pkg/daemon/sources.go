package daemon

import (
	"fmt"
	"log/slog"

	"github.com/modoterra/reqlog/pkg/capture/execsrc"
	"github.com/modoterra/reqlog/pkg/capture/proxy"
	"github.com/modoterra/reqlog/pkg/capture/tail"
	"github.com/modoterra/reqlog/pkg/config"
	"github.com/modoterra/reqlog/pkg/core"
)

// NewSource builds the capture source described by a config entry.
func NewSource(src config.Source, logger *slog.Logger) (core.CaptureSource, error) {
	switch src.Kind {
	case config.KindProxy:
		return proxy.New(src.Name, src.Listen, logger), nil
	case config.KindTail:
		return tail.New(src.Name, src.File, logger), nil
	case config.KindExec:
		return execsrc.New(src.Name, src.Command, src.Dir, src.Env, execsrc.RestartPolicy(src.Restart), logger), nil
	default:
		return nil, fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
	}
}

// AddSources builds and registers every configured source.
func (d *Daemon) AddSources(sources []config.Source) error {
	for _, s := range sources {
		src, err := NewSource(s, d.logger)
		if err != nil {
			return err
		}
		d.AddSource(s.Kind, src)
	}
	return nil
}
