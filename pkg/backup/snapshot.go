// Package backup writes compressed, checksummed snapshots of the store.
package backup

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bothost/pkg/logger"
	"bothost/pkg/store/sqlstore"

	"github.com/klauspost/compress/gzip"
)

const (
	filePrefix   = "bothost_snapshot_"
	fileSuffix   = ".tar.gz"
	manifestName = "manifest.json"
	timeLayout   = "20060102_150405"
)

var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// Exporter produces the table dumps that go into a snapshot
type Exporter interface {
	Export(ctx context.Context) ([]sqlstore.TableDump, error)
}

// Mirror copies a finished archive somewhere off-host
type Mirror interface {
	Upload(ctx context.Context, path string) error
}

// Manifest is the first entry of every archive
type Manifest struct {
	CreatedAt time.Time       `json:"created_at"`
	Entries   []ManifestEntry `json:"entries"`
}

// ManifestEntry describes one table dump inside the archive
type ManifestEntry struct {
	Table  string `json:"table"`
	File   string `json:"file"`
	Rows   int    `json:"rows"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Info describes an archive on disk
type Info struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Snapshotter writes archives into dir and keeps the newest keep of them
type Snapshotter struct {
	exporter Exporter
	dir      string
	keep     int
	mirror   Mirror
	now      func() time.Time
}

// NewSnapshotter creates a snapshotter. keep <= 0 disables pruning and
// mirror may be nil.
func NewSnapshotter(exporter Exporter, dir string, keep int, mirror Mirror) *Snapshotter {
	return &Snapshotter{exporter: exporter, dir: dir, keep: keep, mirror: mirror, now: time.Now}
}

// Snapshot exports the store into a new archive and returns its path.
// A mirror upload failure is logged and does not fail the snapshot.
func (s *Snapshotter) Snapshot(ctx context.Context) (string, error) {
	dumps, err := s.exporter.Export(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to export store: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := s.now()
	path := s.freePath(now)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeArchive(tmp, now, dumps); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	logger.InfoCtx(ctx, "snapshot written: %s", filepath.Base(path))

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, path); err != nil {
			logger.WarnCtx(ctx, "snapshot mirror upload failed: %v", err)
		}
	}

	if removed, err := s.Prune(); err != nil {
		logger.WarnCtx(ctx, "snapshot prune failed: %v", err)
	} else if removed > 0 {
		logger.InfoCtx(ctx, "pruned %d old snapshot(s)", removed)
	}
	return path, nil
}

// freePath picks an archive name for now that does not exist yet
func (s *Snapshotter) freePath(now time.Time) string {
	base := filePrefix + now.Format(timeLayout)
	path := filepath.Join(s.dir, base+fileSuffix)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d%s", base, i, fileSuffix))
	}
}

func writeArchive(w io.Writer, now time.Time, dumps []sqlstore.TableDump) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	manifest := Manifest{CreatedAt: now.UTC(), Entries: make([]ManifestEntry, 0, len(dumps))}
	for _, d := range dumps {
		sum := sha256.Sum256(d.Bytes)
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Table:  d.Name,
			File:   d.Name + ".json",
			Rows:   d.Rows,
			Size:   int64(len(d.Bytes)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := writeEntry(tw, manifestName, manifestBytes, now); err != nil {
		return err
	}
	for i, d := range dumps {
		if err := writeEntry(tw, manifest.Entries[i].File, d.Bytes, now); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, at time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: at,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write %s header: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// List returns the archives in dir, newest first
func (s *Snapshotter) List() ([]Info, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(matches))
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: filepath.Base(m), Path: m, Size: st.Size(), ModTime: st.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ModTime.Equal(infos[j].ModTime) {
			return infos[i].ModTime.After(infos[j].ModTime)
		}
		return infos[i].Name > infos[j].Name
	})
	return infos, nil
}

// Prune deletes all but the newest keep archives by modification time
func (s *Snapshotter) Prune() (int, error) {
	if s.keep <= 0 {
		return 0, nil
	}
	infos, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(infos) <= s.keep {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, info := range infos[s.keep:] {
		if err := os.Remove(info.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Verify reads an archive back and checks every entry against the manifest
func Verify(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	var manifest *Manifest
	sums := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", hdr.Name, err)
		}
		if hdr.Name == manifestName {
			manifest = &Manifest{}
			if err := json.Unmarshal(data, manifest); err != nil {
				return nil, fmt.Errorf("failed to decode manifest: %w", err)
			}
			continue
		}
		sum := sha256.Sum256(data)
		sums[hdr.Name] = hex.EncodeToString(sum[:])
	}
	if manifest == nil {
		return nil, errors.New("snapshot has no manifest")
	}

	var bad []string
	for _, e := range manifest.Entries {
		if sums[e.File] != e.SHA256 {
			bad = append(bad, e.File)
		}
	}
	if len(bad) > 0 {
		return manifest, fmt.Errorf("%w: %s", ErrChecksumMismatch, strings.Join(bad, ", "))
	}
	return manifest, nil
}
