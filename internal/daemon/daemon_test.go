package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestIsRunning_NoPIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autopilot.pid")

	running, pid, err := IsRunning(pidFile)
	if err != nil {
		t.Errorf("IsRunning() error = %v, want nil", err)
	}
	if running || pid != 0 {
		t.Errorf("IsRunning() = %v, %d; want false, 0", running, pid)
	}
}

func TestIsRunning_CurrentProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autopilot.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	running, pid, err := IsRunning(pidFile)
	if err != nil {
		t.Fatalf("IsRunning() error = %v", err)
	}
	if !running || pid != os.Getpid() {
		t.Errorf("IsRunning() = %v, %d; want true, %d", running, pid, os.Getpid())
	}
}

func TestIsRunning_StalePIDFileRemoved(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autopilot.pid")
	if err := os.WriteFile(pidFile, []byte("999999\n"), 0644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	running, _, err := IsRunning(pidFile)
	if err != nil {
		t.Fatalf("IsRunning() error = %v", err)
	}
	if running {
		t.Error("IsRunning() = true for a dead process")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("stale PID file was not removed")
	}
}

func TestIsRunning_InvalidPID(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autopilot.pid")
	if err := os.WriteFile(pidFile, []byte("not-a-number\n"), 0644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	running, _, err := IsRunning(pidFile)
	if err != nil {
		t.Errorf("IsRunning() error = %v, want nil", err)
	}
	if running {
		t.Error("IsRunning() = true for garbage PID file")
	}
}

func TestStop_NotRunning(t *testing.T) {
	err := Stop(filepath.Join(t.TempDir(), "autopilot.pid"), time.Second)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestStop_InvalidPID(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autopilot.pid")
	if err := os.WriteFile(pidFile, []byte("invalid\n"), 0644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	if err := Stop(pidFile, time.Second); err == nil {
		t.Error("Stop() accepted an invalid PID file")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "autopilot.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	_, err := Start(pidFile, filepath.Join(dir, "autopilot.log"), "run")
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("Start() error = %v, want already running", err)
	}
}

func TestStart_InvalidLogFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Start(filepath.Join(dir, "autopilot.pid"), filepath.Join(dir, "missing", "autopilot.log"), "run")
	if err == nil {
		t.Error("Start() accepted an unwritable log path")
	}
}

func TestRun_WritesAndRemovesPIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autopilot.pid")
	ctx, cancel := context.WithCancel(context.Background())

	err := Run(ctx, pidFile, func(ctx context.Context) error {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			t.Fatalf("PID file missing while running: %v", err)
		}
		if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
			t.Errorf("PID file = %q", data)
		}
		cancel()
		<-ctx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("PID file still exists after Run()")
	}
}

func TestRun_PropagatesError(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autopilot.pid")
	want := errors.New("store unavailable")

	err := Run(context.Background(), pidFile, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
}
