//go:build unix

package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shOnly = Interpreters{".sh": "sh"}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestInterpreters_Command(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "run", "#!/bin/sh\necho hi\n")
	require.NoError(t, os.Chmod(exe, 0755))
	plain := writeScript(t, dir, "data.txt", "x")

	in := Interpreters{".py": "python3 -u", ".sh": "sh"}

	tests := []struct {
		name     string
		artifact string
		wantName string
		wantArgs []string
		wantErr  error
	}{
		{"mapped with args", "/x/bot.py", "python3", []string{"-u", "/x/bot.py"}, nil},
		{"extension is case-insensitive", "/x/BOT.SH", "sh", []string{"/x/BOT.SH"}, nil},
		{"executable without mapping", exe, exe, nil, nil},
		{"not executable", plain, "", nil, ErrUnsupportedArtifact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, err := in.Command(tt.artifact)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCommentPrefix(t *testing.T) {
	assert.Equal(t, "#", CommentPrefix("a.py"))
	assert.Equal(t, "//", CommentPrefix("a.js"))
	assert.Equal(t, "#", CommentPrefix("a.sh"))
}

func TestAlive(t *testing.T) {
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
	assert.True(t, Alive(os.Getpid()))
}

func TestSpawn_WritesMarkerAndOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hello.sh", "echo hello-from-bot\n")
	logPath := filepath.Join(dir, "logs", "bot_1.log")

	h, err := Spawn(Spec{Artifact: script, LogPath: logPath, Interpreters: shOnly, Marker: StartMarker(time.Now())})
	require.NoError(t, err)
	assert.NotZero(t, h.Pid)

	select {
	case <-h.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
	assert.NoError(t, h.ExitErr())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "Deployment started at")
	assert.Contains(t, out, "hello-from-bot")
	assert.Less(t, strings.Index(out, "Deployment started at"), strings.Index(out, "hello-from-bot"))
}

func TestSpawn_AppendsAcrossStarts(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hello.sh", "echo run\n")
	logPath := filepath.Join(dir, "bot.log")

	for i := 0; i < 2; i++ {
		h, err := Spawn(Spec{Artifact: script, LogPath: logPath, Interpreters: shOnly, Marker: StartMarker(time.Now())})
		require.NoError(t, err)
		<-h.Exited()
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "Deployment started at"))
	assert.Equal(t, 2, strings.Count(string(data), "run\n"))
}

func TestSpawn_UnsupportedArtifact(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "bot.rb", "puts 1\n")

	_, err := Spawn(Spec{Artifact: script, LogPath: filepath.Join(dir, "x.log"), Interpreters: shOnly})
	assert.ErrorIs(t, err, ErrUnsupportedArtifact)
}

func TestTerminate_KillsGroup(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleepy.sh", "sleep 30 &\nwait\n")

	h, err := Spawn(Spec{Artifact: script, LogPath: filepath.Join(dir, "x.log"), Interpreters: shOnly})
	require.NoError(t, err)
	require.True(t, Alive(h.Pid))

	require.NoError(t, Terminate(context.Background(), h.Pid, 2*time.Second))

	select {
	case <-h.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("child survived terminate")
	}
	assert.False(t, Alive(h.Pid))
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "stubborn.sh", "trap '' TERM\nwhile true; do sleep 0.1; done\n")

	h, err := Spawn(Spec{Artifact: script, LogPath: filepath.Join(dir, "x.log"), Interpreters: shOnly})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond) // let the trap install

	start := time.Now()
	require.NoError(t, Terminate(context.Background(), h.Pid, 300*time.Millisecond))

	select {
	case <-h.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("child survived SIGKILL")
	}
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestTerminate_DeadPidIsNoop(t *testing.T) {
	assert.NoError(t, Terminate(context.Background(), 0, time.Second))
}

func TestSample_Self(t *testing.T) {
	u, err := Sample(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, u.CPUPercent, 0.0)
	assert.Greater(t, u.RAMPercent, 0.0)
	assert.NotZero(t, u.RSSBytes)
}

func TestConfigureGroup_CancelKillsChildren(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 30 & sleep 30")
	ConfigureGroup(cmd, 0)

	start := time.Now()
	err := cmd.Run()
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
