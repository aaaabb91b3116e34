//go:build unix

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// Spec describes one detached deployment process
type Spec struct {
	Artifact     string // absolute path of the script
	Dir          string // working directory, defaults to the artifact's directory
	LogPath      string // append-only stdout/stderr log
	Env          []string
	Interpreters Interpreters
	Marker       string // written to the log before the child starts
}

// Handle is a spawned child owned by this supervisor
type Handle struct {
	Pid       int
	StartedAt time.Time

	exited  chan struct{}
	exitErr error
}

// Exited is closed once the child has been reaped
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitErr is the wait result; only valid after Exited is closed
func (h *Handle) ExitErr() error {
	return h.exitErr
}

// Spawn starts the artifact in its own session with output appended to LogPath
func Spawn(spec Spec) (*Handle, error) {
	name, args, err := spec.Interpreters.Command(spec.Artifact)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open deployment log: %w", err)
	}
	// the child keeps its own descriptor
	defer logFile.Close()

	if spec.Marker != "" {
		if _, err := logFile.WriteString(spec.Marker); err != nil {
			return nil, fmt.Errorf("failed to write log marker: %w", err)
		}
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(spec.Artifact)
	}
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", filepath.Base(spec.Artifact), err)
	}

	h := &Handle{
		Pid:       cmd.Process.Pid,
		StartedAt: time.Now(),
		exited:    make(chan struct{}),
	}
	go func() {
		h.exitErr = cmd.Wait()
		close(h.exited)
	}()
	return h, nil
}

// StartMarker is the line block written to a deployment log before each start
func StartMarker(at time.Time) string {
	return fmt.Sprintf("\n=====\nDeployment started at %s\n=====\n", at.Format(time.RFC3339))
}

// Alive probes pid with signal 0. A recycled pid owned by an unrelated
// process reads as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate sends SIGTERM to pid's process group and SIGKILL after grace
func Terminate(ctx context.Context, pid int, grace time.Duration) error {
	if !Alive(pid) {
		return nil
	}
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to terminate %d: %w", pid, err)
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if !Alive(pid) {
				return nil
			}
		case <-deadline.C:
			if err := signalGroup(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				return fmt.Errorf("failed to kill %d: %w", pid, err)
			}
			return nil
		case <-ctx.Done():
			_ = signalGroup(pid, unix.SIGKILL)
			return ctx.Err()
		}
	}
}

// signalGroup signals the group led by pid, falling back to pid itself
// for processes that are not group leaders
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

// Usage is one resource sample
type Usage struct {
	CPUPercent float64
	RAMPercent float64
	RSSBytes   uint64
}

// Sample reads CPU and memory usage of pid
func Sample(ctx context.Context, pid int) (Usage, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read cpu of %d: %w", pid, err)
	}
	mem, err := p.MemoryPercentWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read memory of %d: %w", pid, err)
	}
	u := Usage{CPUPercent: cpu, RAMPercent: float64(mem)}
	if info, err := p.MemoryInfoWithContext(ctx); err == nil && info != nil {
		u.RSSBytes = info.RSS
	}
	return u, nil
}

// ConfigureGroup runs cmd in its own process group and makes context
// cancellation kill the whole group: SIGTERM first, SIGKILL after grace
func ConfigureGroup(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if grace <= 0 {
			return unix.Kill(pgid, unix.SIGKILL)
		}
		if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
			return unix.Kill(pgid, unix.SIGKILL)
		}
		go func() {
			time.Sleep(grace)
			_ = unix.Kill(pgid, unix.SIGKILL)
		}()
		return nil
	}
	// children holding stdout open must not block Wait forever
	cmd.WaitDelay = grace + time.Second
}
