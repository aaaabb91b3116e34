package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedArtifact is returned for files with no interpreter that are not executable
var ErrUnsupportedArtifact = errors.New("no interpreter for artifact")

// Interpreters maps a lower-case file extension (".py") to the command that runs it.
// The command may carry arguments, e.g. "python3 -u".
type Interpreters map[string]string

// Command resolves the argv that runs artifact
func (in Interpreters) Command(artifact string) (string, []string, error) {
	ext := strings.ToLower(filepath.Ext(artifact))
	if cmdline, ok := in[ext]; ok {
		fields := strings.Fields(cmdline)
		if len(fields) == 0 {
			return "", nil, fmt.Errorf("%w: empty interpreter for %s", ErrUnsupportedArtifact, ext)
		}
		args := append(append([]string{}, fields[1:]...), artifact)
		return fields[0], args, nil
	}

	info, err := os.Stat(artifact)
	if err != nil {
		return "", nil, err
	}
	if info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0 {
		return artifact, nil, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedArtifact, filepath.Base(artifact))
}

// CommentPrefix returns the line comment token of the artifact's language
func CommentPrefix(artifact string) string {
	switch strings.ToLower(filepath.Ext(artifact)) {
	case ".js", ".ts", ".go", ".java", ".c", ".cpp", ".rs":
		return "//"
	case ".lua", ".sql":
		return "--"
	default:
		return "#"
	}
}
