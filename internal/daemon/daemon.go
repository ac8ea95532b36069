// Package daemon runs the autopilot loop as a detached background process
// tracked by a PID file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ChildFlag marks the re-executed process as the daemon child.
const ChildFlag = "--daemon-child"

// ErrNotRunning is returned by Stop when no daemon owns the PID file.
var ErrNotRunning = errors.New("daemon not running")

// Start re-executes the current binary with args plus ChildFlag in a new
// session, records its PID in pidFile and sends its output to logFile.
func Start(pidFile, logFile string, args ...string) (int, error) {
	running, _, err := IsRunning(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return 0, fmt.Errorf("daemon already running (PID file: %s)", pidFile)
	}

	logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logF.Close()

	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, append(args, ChildFlag)...)
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := writePID(pidFile, pid); err != nil {
		_ = cmd.Process.Kill()
		return 0, err
	}
	if err := cmd.Process.Release(); err != nil {
		return 0, fmt.Errorf("failed to release process: %w", err)
	}
	return pid, nil
}

// Run is the daemon child's body. It writes the PID file, runs fn with a
// context cancelled on SIGINT or SIGTERM, and removes the PID file on exit.
func Run(ctx context.Context, pidFile string, fn func(context.Context) error) error {
	if err := writePID(pidFile, os.Getpid()); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "failed to remove PID file: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fn(ctx)
}

// Stop sends SIGTERM to the daemon and waits up to timeout for it to exit.
func Stop(pidFile string, timeout time.Duration) error {
	pid, err := readPID(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w (PID file not found)", ErrNotRunning)
		}
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		_ = os.Remove(pidFile)
		return fmt.Errorf("%w: failed to signal process %d: %v", ErrNotRunning, pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			_ = os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (PID %d) did not exit within %s", pid, timeout)
}

// IsRunning reports whether the process named in pidFile is alive. A stale
// PID file is removed.
func IsRunning(pidFile string) (bool, int, error) {
	pid, err := readPID(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return false, 0, nil
		}
		return false, 0, err
	}

	if !alive(pid) {
		os.Remove(pidFile)
		return false, 0, nil
	}
	return true, pid, nil
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

func writePID(pidFile string, pid int) error {
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}
