package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/reqlog/internal/buildinfo"
	"github.com/modoterra/reqlog/pkg/config"
	"github.com/modoterra/reqlog/pkg/core"
	"github.com/modoterra/reqlog/pkg/csvexport"
	"github.com/modoterra/reqlog/pkg/transport/uds"
	tuimodel "github.com/modoterra/reqlog/pkg/tui/model"
)

var (
	socketPath string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reqlog",
	Short: "Captured HTTP request log",
	Long:  "reqlog shows the most recent HTTP requests captured by reqlogd and lets you start/stop capture, resize, clear and export the log.",
	RunE:  runTUI,

	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (default from config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFileName, "path to reqlog.yaml")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(capacityCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serviceCmd)
}

// resolved returns the effective config, falling back to defaults when it
// cannot be read. --socket wins over the config file.
func resolved() *config.Config {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		cfg = config.Default()
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	return cfg
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	cfg := resolved()
	ensureDaemon(cfg.Socket)
	app := tuimodel.New(cfg.Socket, cfg.ExportDir)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func ensureDaemon(socket string) {
	if _, err := os.Stat(socket); err == nil {
		return
	}
	cmd := exec.Command("reqlogd", "--config", configPath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start reqlogd:", err)
		return
	}
	for i := 0; i < 30; i++ {
		if _, err := os.Stat(socket); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: could not start daemon, continuing anyway")
}

func dialDaemon() (*uds.Client, error) {
	socket := resolved().Socket
	client, err := uds.Dial(socket)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socket, err)
	}
	return client, nil
}

// call dials the daemon, sends one request and decodes the reply into out.
func call(method string, data, out any, timeout time.Duration) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.Request(ctx, method, data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.UnmarshalData(out)
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var pong uds.PingResponse
		if err := call(uds.MethodPing, nil, &pong, 2*time.Second); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Fprintln(cmd.OutOrStdout(), "pong ✓")
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("reqlog"))
	},
}

// --- Daemon ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start daemon in foreground (for debugging)",
	Long:  "Normally the TUI auto-spawns the daemon. Use this to run it manually.",
	RunE: func(_ *cobra.Command, _ []string) error {
		cmd := exec.Command("reqlogd", "--config", configPath)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

// --- Status ---

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show capture state, log size and sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var st uds.StatusResponse
		if err := call(uds.MethodStatus, nil, &st, 2*time.Second); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		state := "stopped"
		if st.Capturing {
			state = "capturing"
		}
		fmt.Fprintf(out, "daemon:   %s\n", st.Version)
		fmt.Fprintf(out, "capture:  %s\n", state)
		fmt.Fprintf(out, "log:      %d/%d\n", st.Size, st.Capacity)
		fmt.Fprintf(out, "store:    %s\n", st.Store)
		if st.PersistError != "" {
			fmt.Fprintf(out, "persist:  %s\n", st.PersistError)
		}
		if len(st.Sources) == 0 {
			fmt.Fprintln(out, "sources:  none")
			return nil
		}
		fmt.Fprintf(out, "\n%-16s %-8s %-8s %s\n", "SOURCE", "KIND", "ACTIVE", "NOTE")
		for _, s := range st.Sources {
			fmt.Fprintf(out, "%-16s %-8s %-8t %s\n", s.Name, s.Kind, s.Active, s.Unavailable)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

// --- Start / Stop / Clear / Capacity ---

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start capturing requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return doCommand(cmd.OutOrStdout(), "start", uds.MethodStartCapture, nil)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop capturing requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return doCommand(cmd.OutOrStdout(), "stop", uds.MethodStopCapture, nil)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every captured request",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return doCommand(cmd.OutOrStdout(), "clear", uds.MethodClear, nil)
	},
}

var capacityCmd = &cobra.Command{
	Use:   "capacity <n>",
	Short: "Set how many requests the log keeps (clamped to 1-1000)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("capacity must be an integer: %q", args[0])
		}
		return doCommand(cmd.OutOrStdout(), "capacity", uds.MethodSetCapacity, uds.SetCapacityRequest{Capacity: n})
	},
}

func doCommand(out io.Writer, verb, method string, data any) error {
	var resp uds.CommandResponse
	if err := call(method, data, &resp, 10*time.Second); err != nil {
		return err
	}

	state := "stopped"
	if resp.Capturing {
		state = "capturing"
	}
	fmt.Fprintf(out, "%s ✓ (%s, %d/%d)\n", verb, state, resp.Size, resp.Capacity)
	if resp.PersistError != "" {
		fmt.Fprintf(out, "warning: not persisted: %s\n", resp.PersistError)
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("errors:\n  %s", strings.Join(resp.Errors, "\n  "))
	}
	return nil
}

// --- Export ---

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the log as pipe-delimited CSV",
	Long:  "Writes to stdout, to --out, or into --out/<timestamped name> when --out is a directory. Nothing is written for an empty log.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp uds.ExportResponse
		if err := call(uds.MethodExportCSV, nil, &resp, 10*time.Second); err != nil {
			return err
		}
		if resp.Empty {
			fmt.Fprintln(cmd.ErrOrStderr(), "log is empty, nothing exported")
			return nil
		}
		if exportOut == "" {
			_, err := io.WriteString(cmd.OutOrStdout(), resp.CSV)
			return err
		}

		path := exportOut
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, csvexport.FileName(time.Now()))
		}
		if err := os.WriteFile(path, []byte(resp.CSV), 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file or directory")
}

// --- Show ---

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the captured requests, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var snap uds.SnapshotResponse
		if err := call(uds.MethodSnapshot, nil, &snap, 2*time.Second); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if showJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap.Records)
		}
		if len(snap.Records) == 0 {
			fmt.Fprintln(out, tuimodel.EmptyPlaceholder)
			return nil
		}

		const row = "%-24s %-8s %-16s %-14s %s\n"
		var head [5]any
		for i, f := range core.Fields {
			head[i] = strings.ToUpper(f)
		}
		fmt.Fprintf(out, row, head[:]...)
		for _, rec := range snap.Records {
			v := rec.Values()
			fmt.Fprintf(out, row, v[0], v[1], v[2], v[3], v[4])
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage reqlog.yaml",
}

var (
	configInitOutput string
	configInitForce  bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a reqlog.yaml with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configInitOutput
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		c := config.Default()
		if err := config.Save(c, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s with %d source(s)\n", path, len(c.Sources))
		for _, s := range c.Sources {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s)\n", s.Name, s.Kind)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a reqlog.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		c, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(c)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d sources)\n", path, len(c.Sources))
			return nil
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
		}
		return errors.Join(errs...)
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitOutput, "output", config.DefaultFileName, "output file path")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}
