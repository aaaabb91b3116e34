package deployment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"bothost/pkg/constants"
	"bothost/pkg/process"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// BackupScript copies the artifact into the script backup directory with a
// metadata header and returns the backup path
func (s *Service) BackupScript(ctx context.Context, id int64) (string, error) {
	d, err := s.store.Deployment.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "", ErrNotFound
	}

	artifact := s.ArtifactPath(d)
	content, err := os.ReadFile(artifact)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrArtifactMissing, d.Filename)
	}

	if err := os.MkdirAll(s.opts.ScriptBackupsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := time.Now()
	name := unsafeNameChars.ReplaceAllString(d.BotName, "_")
	if name == "" {
		name = "bot"
	}
	ext := filepath.Ext(artifact)
	path := filepath.Join(s.opts.ScriptBackupsDir, fmt.Sprintf("bot_%d_%s_%s%s", id, name, now.Format("20060102_150405"), ext))

	c := process.CommentPrefix(artifact)
	var b strings.Builder
	// keep a shebang on the first line so the backup stays runnable
	body := string(content)
	if strings.HasPrefix(body, "#!") {
		line, rest, _ := strings.Cut(body, "\n")
		b.WriteString(line + "\n")
		body = rest
	}
	fmt.Fprintf(&b, "%s Bot Backup\n", c)
	fmt.Fprintf(&b, "%s Bot ID: %d\n", c, d.ID)
	fmt.Fprintf(&b, "%s Bot Name: %s\n", c, d.BotName)
	fmt.Fprintf(&b, "%s Backup Time: %s\n", c, now.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s Original File: %s\n", c, d.Filename)
	fmt.Fprintf(&b, "%s Owner: %d\n", c, d.UserID)
	fmt.Fprintf(&b, "%s Auto Recovery: %t\n", c, d.AutoRestart)
	b.WriteString("\n")
	b.WriteString(body)

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write script backup: %w", err)
	}

	s.events.Emit(constants.EventScriptBackup, fmt.Sprintf("deployment %d backed up to %s", id, filepath.Base(path)), &d.UserID)
	return path, nil
}
