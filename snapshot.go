package rewind

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
)

const (
	SnapshotSuffix = ".sql.bak"

	// EmptySnapshot names the snapshot of a database with no migrations.
	EmptySnapshot = "0_empty"
)

// SnapshotStore reads backup artifacts. It never writes them.
type SnapshotStore struct {
	fs  fs.FS
	dir string
	// location is the folder name shown in errors.
	location string
}

func NewSnapshotStore(filesystem fs.FS, dir, location string) *SnapshotStore {
	if location == "" {
		location = dir
	}
	return &SnapshotStore{fs: filesystem, dir: dir, location: location}
}

func (s *SnapshotStore) Location() string {
	return s.location
}

// List returns the backups sorted by filename, which is also their age order.
func (s *SnapshotStore) List() ([]Backup, error) {
	entries, err := fs.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read backup folder %s: %v", ErrResolution, s.location, err)
	}

	var backups []Backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SnapshotSuffix) {
			continue
		}
		backups = append(backups, Backup{
			Filename: entry.Name(),
			Name:     strings.TrimSuffix(entry.Name(), SnapshotSuffix),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Filename < backups[j].Filename
	})
	return backups, nil
}

func (s *SnapshotStore) Resolve(target string) (Backup, error) {
	backups, err := s.List()
	if err != nil {
		return Backup{}, err
	}
	return resolveBackup(backups, target, s.location)
}

func (s *SnapshotStore) Open(backup Backup) (io.ReadCloser, error) {
	file, err := s.fs.Open(path.Join(s.dir, backup.Filename))
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", s.Path(backup), err)
	}
	return file, nil
}

// Path is the backup location as shown to the operator.
func (s *SnapshotStore) Path(backup Backup) string {
	return path.Join(s.location, backup.Filename)
}

// resolveBackup requires an exact name when target contains an underscore
// and a "{target}_" prefix otherwise. Exactly one backup may match.
func resolveBackup(backups []Backup, target, location string) (Backup, error) {
	var matches []Backup
	for _, b := range backups {
		if snapshotMatches(b, target) {
			matches = append(matches, b)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Backup{}, fmt.Errorf("%w: looked for snapshot %q in %s, but could not find it",
			ErrResolution, target, location)
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Filename
		}
		return Backup{}, fmt.Errorf("%w: snapshot %q is ambiguous in %s: %s",
			ErrResolution, target, location, strings.Join(names, ", "))
	}
}

func snapshotMatches(b Backup, target string) bool {
	if strings.Contains(target, "_") {
		return b.Name == target || b.Filename == target
	}
	return strings.HasPrefix(b.Name, target+"_")
}
