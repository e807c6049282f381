// Package service manages the reqlogd systemd user service unit.
package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"
)

const unitName = "reqlogd.service"

// UnitOptions returns the unit definition for the given binary and config path.
// An empty configPath lets reqlogd use its default.
func UnitOptions(binaryPath, configPath string) []*unit.UnitOption {
	execStart := binaryPath
	if configPath != "" {
		execStart += " --config " + configPath
	}
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "reqlog daemon (captured HTTP request log)"),
		unit.NewUnitOption("Unit", "Documentation", "https://github.com/modoterra/reqlog"),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "ExecStart", execStart),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Install", "WantedBy", "default.target"),
	}
}

// UnitContents returns the systemd unit file contents.
func UnitContents(binaryPath, configPath string) (string, error) {
	data, err := io.ReadAll(unit.Serialize(UnitOptions(binaryPath, configPath)))
	if err != nil {
		return "", fmt.Errorf("serialize unit: %w", err)
	}
	return string(data), nil
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes the unit file, reloads systemd, and enables+starts the service.
func Install(ctx context.Context, configPath string) error {
	binaryPath, err := exec.LookPath("reqlogd")
	if err != nil {
		return fmt.Errorf("reqlogd not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve reqlogd path: %w", err)
	}
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return fmt.Errorf("cannot resolve config path: %w", err)
		}
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	contents, err := UnitContents(binaryPath, configPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		// No user bus reachable: fall back to systemctl.
		if err := systemctl("daemon-reload"); err != nil {
			return err
		}
		return systemctl("enable", "--now", unitName)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("systemd reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", unitName, err)
	}
	return runJob(ctx, func(ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, unitName, "replace", ch)
	})
}

// Uninstall stops+disables the service, removes the unit file, and reloads systemd.
func Uninstall(ctx context.Context) error {
	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	conn, connErr := dbus.NewUserConnectionContext(ctx)
	if connErr == nil {
		defer conn.Close()
		// Best-effort stop and disable; ignore errors if not running.
		_ = runJob(ctx, func(ch chan<- string) (int, error) {
			return conn.StopUnitContext(ctx, unitName, "replace", ch)
		})
		_, _ = conn.DisableUnitFilesContext(ctx, []string{unitName}, false)
	} else {
		_ = systemctl("stop", unitName)
		_ = systemctl("disable", unitName)
	}

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}

	if connErr == nil {
		if err := conn.ReloadContext(ctx); err != nil {
			return fmt.Errorf("systemd reload: %w", err)
		}
		return nil
	}
	return systemctl("daemon-reload")
}

// Status returns a human-readable status string.
func Status(ctx context.Context, socketPath string) string {
	var lines []string

	if _, err := os.Stat(socketPath); err == nil {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			lines = append(lines, "systemd user service: "+activeState(ctx))
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}

	return strings.Join(lines, "\n")
}

// Logs writes the service's journal to w, following it when follow is set.
func Logs(ctx context.Context, w io.Writer, lines int, follow bool) error {
	args := []string{"--user", "-u", unitName, "-o", "cat", "-n", fmt.Sprint(lines)}
	if follow {
		args = append(args, "-f")
	}
	cmd := exec.CommandContext(ctx, "journalctl", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("journalctl pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("journalctl start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("journalctl: %w", err)
	}
	return nil
}

func activeState(ctx context.Context) string {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err == nil {
		defer conn.Close()
		units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName})
		if err == nil && len(units) == 1 {
			return units[0].ActiveState
		}
	}

	out, runErr := exec.Command("systemctl", "--user", "is-active", unitName).Output()
	state := strings.TrimSpace(string(out))
	if runErr != nil && state == "" {
		state = "unknown"
	}
	return state
}

// runJob starts a systemd job and waits for its result.
func runJob(ctx context.Context, start func(ch chan<- string) (int, error)) error {
	ch := make(chan string, 1)
	if _, err := start(ch); err != nil {
		return fmt.Errorf("systemd job %s: %w", unitName, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd job %s: result %q", unitName, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("systemd job %s: timed out", unitName)
	}
}

func systemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
