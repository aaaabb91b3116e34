package deployment

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"bothost/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupScript(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.deployment("My Bot!", h.script("mybot.sh", "#!/bin/sh\necho hi\n"), true)

	path, err := h.svc.BackupScript(context.Background(), d.ID)
	require.NoError(t, err)

	assert.Equal(t, h.svc.opts.ScriptBackupsDir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^bot_\d+_My_Bot__\d{8}_\d{6}\.sh$`), filepath.Base(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	lines := strings.Split(content, "\n")
	assert.Equal(t, "#!/bin/sh", lines[0], "shebang stays first")
	assert.Equal(t, "# Bot Backup", lines[1])
	assert.Contains(t, content, "# Bot Name: My Bot!")
	assert.Contains(t, content, "# Original File: mybot.sh")
	assert.Contains(t, content, "# Owner: 100")
	assert.Contains(t, content, "# Auto Recovery: true")
	assert.True(t, strings.HasSuffix(content, "\necho hi\n"))

	assert.Contains(t, h.events.serverKinds(), constants.EventScriptBackup)
}

func TestBackupScript_Errors(t *testing.T) {
	h := newHarness(t, nil, nil)
	missing := h.deployment("missing", "nowhere.sh", false)

	_, err := h.svc.BackupScript(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.BackupScript(context.Background(), missing.ID)
	assert.ErrorIs(t, err, ErrArtifactMissing)
}
