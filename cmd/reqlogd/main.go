package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/modoterra/reqlog/internal/buildinfo"
	"github.com/modoterra/reqlog/pkg/config"
	"github.com/modoterra/reqlog/pkg/daemon"
	"github.com/modoterra/reqlog/pkg/store"
	"github.com/modoterra/reqlog/pkg/transport/httpapi"
)

var (
	configPath  string
	showVersion bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reqlogd",
	Short: "reqlog capture daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if showVersion {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("reqlogd"))
			return nil
		}
		return run()
	},

	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultFileName, "path to reqlog.yaml")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
}

func run() error {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.Logger(os.Stderr)

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			logger.Error("config validation", "path", configPath, "err", e)
		}
		return fmt.Errorf("%s: %d config error(s)", configPath, len(errs))
	}
	if cfg.FilePath == "" {
		logger.Info("no config file, using defaults", "path", configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
		cancel()
	}()

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	d := daemon.New(cfg.Socket, st, cfg.Capacity, logger)
	defer d.Shutdown()
	d.SetVersion(buildinfo.Version)
	d.SetNotifyInterval(cfg.NotifyInterval)
	if err := d.AddSources(cfg.Sources); err != nil {
		return err
	}
	d.Rehydrate(ctx)

	if cfg.HTTP.Listen != "" {
		api := httpapi.New(cfg.HTTP.Listen, d, logger)
		go func() {
			if err := api.Start(ctx); err != nil {
				logger.Error("http api stopped", "addr", cfg.HTTP.Listen, "err", err)
			}
		}()
	}

	go notifyReady(ctx, d, logger)

	logger.Info("starting reqlogd",
		"version", buildinfo.Version,
		"socket", cfg.Socket,
		"store", st.Describe(),
		"capacity", cfg.Capacity,
		"sources", len(cfg.Sources),
	)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		return err
	}
	return nil
}

// notifyReady tells systemd the socket is up, then pings the watchdog while
// the daemon runs. Both are no-ops outside a notify unit.
func notifyReady(ctx context.Context, d *daemon.Daemon, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-d.Server().Ready():
	}
	if sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", "err", err)
	} else if sent {
		logger.Debug("notified systemd", "state", sddaemon.SdNotifyReady)
	}

	interval, err := sddaemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sddaemon.SdNotify(false, sddaemon.SdNotifyWatchdog)
		}
	}
}
