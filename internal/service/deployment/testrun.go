package deployment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"bothost/pkg/constants"
	"bothost/pkg/logger"
	"bothost/pkg/process"
)

// unroutable proxy so well-behaved HTTP clients fail fast
const blackholeProxy = "http://127.0.0.1:9"

// TestRunResult is the outcome of an isolated trial run
type TestRunResult struct {
	Success   bool          `json:"success"`
	TimedOut  bool          `json:"timed_out"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Truncated bool          `json:"truncated"`
}

// TestRun runs a copy of the artifact in a scratch directory with network
// disabling markers. The process group is killed at timeout and the scratch
// directory is removed on every path.
func (s *Service) TestRun(ctx context.Context, id int64, timeout time.Duration) (*TestRunResult, error) {
	ctx = logger.WithDeployment(ctx, id)
	if timeout <= 0 {
		timeout = s.opts.TestRunTimeout
	}

	d, err := s.store.Deployment.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	artifact := s.ArtifactPath(d)
	info, err := os.Stat(artifact)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, d.Filename)
	}

	if s.opts.ScratchDir != "" {
		if err := os.MkdirAll(s.opts.ScratchDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create scratch root: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(s.opts.ScratchDir, fmt.Sprintf("test_%d_", id))
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.WarnCtx(ctx, "failed to remove scratch dir %s: %v", scratch, err)
		}
	}()

	copyPath := filepath.Join(scratch, filepath.Base(artifact))
	if err := copyFile(artifact, copyPath, info.Mode().Perm()); err != nil {
		return nil, err
	}
	marker := fmt.Sprintf("TEST_MODE=true\nDISABLE_NETWORK=true\ndeployment=%d\nstarted=%s\n", id, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(scratch, "test_config.env"), []byte(marker), 0644); err != nil {
		return nil, fmt.Errorf("failed to write test marker: %w", err)
	}

	name, args, err := s.opts.Interpreters.Command(copyPath)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newCappedBuffer(s.opts.TestRunMaxOutput)
	stderr := newCappedBuffer(s.opts.TestRunMaxOutput)

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = scratch
	cmd.Env = append(os.Environ(),
		"TEST_MODE=true",
		"DISABLE_NETWORK=true",
		"HTTP_PROXY="+blackholeProxy,
		"HTTPS_PROXY="+blackholeProxy,
		"ALL_PROXY="+blackholeProxy,
		"http_proxy="+blackholeProxy,
		"https_proxy="+blackholeProxy,
		"all_proxy="+blackholeProxy,
		"NO_PROXY=",
		"no_proxy=",
	)
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	process.ConfigureGroup(cmd, 0)

	start := time.Now()
	runErr := cmd.Run()
	result := &TestRunResult{
		Duration:  time.Since(start),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
		ExitCode:  -1,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	result.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	result.Success = runErr == nil && !result.TimedOut

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) && !result.TimedOut {
		return nil, fmt.Errorf("failed to run test: %w", runErr)
	}

	s.events.EmitDeployment(id, constants.DeploymentLogTestRun,
		fmt.Sprintf("success=%t exit=%d timed_out=%t duration=%s", result.Success, result.ExitCode, result.TimedOut, result.Duration.Round(time.Millisecond)))
	return result, nil
}

// TestRunMessage adapts TestRun for the outer layers
func (s *Service) TestRunMessage(ctx context.Context, id int64, timeoutSeconds int) (bool, string) {
	res, err := s.TestRun(ctx, id, time.Duration(timeoutSeconds)*time.Second)
	if err != nil {
		return false, ErrorMessage(err)
	}

	var b strings.Builder
	switch {
	case res.TimedOut:
		fmt.Fprintf(&b, "Test timed out after %.2fs\n", res.Duration.Seconds())
	case res.Success:
		fmt.Fprintf(&b, "Test completed in %.2fs\n", res.Duration.Seconds())
	default:
		fmt.Fprintf(&b, "Test failed in %.2fs\n", res.Duration.Seconds())
	}
	fmt.Fprintf(&b, "Return code: %d\n\nOutput:\n%s\n", res.ExitCode, res.Stdout)
	if res.Stderr != "" {
		fmt.Fprintf(&b, "\nErrors:\n%s\n", res.Stderr)
	}
	return res.Success, b.String()
}

// cappedBuffer keeps the first limit bytes and discards the rest without
// failing the writer
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.truncated {
		return len(p), nil
	}
	room := c.limit - c.buf.Len()
	if len(p) <= room {
		c.buf.Write(p)
		return len(p), nil
	}
	c.buf.Write(p[:max(room, 0)])
	c.truncated = true
	c.trimPartialRune()
	return len(p), nil
}

// trimPartialRune drops a multi-byte rune the cap cut in half
func (c *cappedBuffer) trimPartialRune() {
	b := c.buf.Bytes()
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				c.buf.Truncate(i)
			}
			return
		}
	}
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n... [output truncated]"
	}
	return c.buf.String()
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	return out.Close()
}
