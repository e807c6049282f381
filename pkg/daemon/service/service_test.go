package service

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestUnitContents(t *testing.T) {
	got, err := UnitContents("/usr/local/bin/reqlogd", "/home/dev/.config/reqlog/reqlog.yaml")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(got, "ExecStart=/usr/local/bin/reqlogd --config /home/dev/.config/reqlog/reqlog.yaml") {
		t.Errorf("unit file missing ExecStart with binary and config path:\n%s", got)
	}
	if !strings.Contains(got, "Type=notify") {
		t.Error("unit file missing Type=notify")
	}
	if !strings.Contains(got, "Restart=on-failure") {
		t.Error("unit file missing Restart=on-failure")
	}
	if !strings.Contains(got, "[Install]") {
		t.Error("unit file missing [Install] section")
	}
	if strings.Index(got, "[Unit]") > strings.Index(got, "[Service]") {
		t.Error("[Unit] section should come first")
	}
}

func TestUnitContentsWithoutConfig(t *testing.T) {
	got, err := UnitContents("/usr/bin/reqlogd", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "ExecStart=/usr/bin/reqlogd\n") {
		t.Errorf("unexpected ExecStart:\n%s", got)
	}
}

func TestUnitPath(t *testing.T) {
	path, err := UnitPath()
	if err != nil {
		t.Fatalf("UnitPath() error: %v", err)
	}
	if !strings.HasSuffix(path, "systemd/user/reqlogd.service") {
		t.Errorf("UnitPath() = %q, want suffix systemd/user/reqlogd.service", path)
	}
}

func TestStatusNoSocket(t *testing.T) {
	got := Status(context.Background(), "/tmp/reqlog-test-nonexistent.sock")
	if !strings.Contains(got, "socket: inactive") {
		t.Errorf("Status() should report inactive socket, got: %s", got)
	}
}

func TestStatusWithSocket(t *testing.T) {
	// A regular file stands in for the socket.
	f, err := os.CreateTemp("", "reqlog-test-*.sock")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.Close()

	got := Status(context.Background(), f.Name())
	if !strings.Contains(got, "socket: active") {
		t.Errorf("Status() should report active socket, got: %s", got)
	}
}
