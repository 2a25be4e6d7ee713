package rewind

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"math"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
)

var simpleStemPattern = regexp.MustCompile(`^(\d+)_(.+)$`)

type catalog struct {
	fs  fs.FS
	dir string
	ext string
}

func newCatalog(filesystem fs.FS, dir, ext string) *catalog {
	return &catalog{fs: filesystem, dir: dir, ext: ext}
}

// load reads every script in the directory. Files without the script
// extension are ignored, files with it must parse.
func (c *catalog) load() ([]Migration, error) {
	entries, err := fs.ReadDir(c.fs, c.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read migrations directory %s: %v", ErrUsage, c.dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), c.ext) {
			continue
		}

		migration, err := parseFilename(entry.Name(), c.ext)
		if err != nil {
			return nil, err
		}

		migration.Path = path.Join(c.dir, entry.Name())
		migration.Checksum, err = c.checksum(migration.Path)
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, migration)
	}

	if len(migrations) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoMigrations, c.dir)
	}

	sort.Slice(migrations, func(i, j int) bool {
		if migrations[i].Version != migrations[j].Version {
			return migrations[i].Version < migrations[j].Version
		}
		return migrations[i].Type < migrations[j].Type
	})

	if err := validatePairs(migrations); err != nil {
		return nil, err
	}

	return migrations, nil
}

func (c *catalog) read(filePath string) (string, error) {
	content, err := fs.ReadFile(c.fs, filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return string(content), nil
}

func (c *catalog) checksum(filePath string) (string, error) {
	file, err := c.fs.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// parseFilename turns "{version}_{description}[.up|.down]{ext}" into a
// Migration without Path and Checksum.
func parseFilename(filename, ext string) (Migration, error) {
	upSuffix := "." + string(source.Up) + ext
	downSuffix := "." + string(source.Down) + ext

	if strings.HasSuffix(filename, upSuffix) || strings.HasSuffix(filename, downSuffix) {
		parsed, err := source.Parse(filename)
		if err != nil || parsed.Identifier == "" {
			return Migration{}, fmt.Errorf("%w: malformed migration filename %s", ErrCatalog, filename)
		}
		if uint64(parsed.Version) > math.MaxInt64 {
			return Migration{}, fmt.Errorf("%w: version out of range in %s", ErrCatalog, filename)
		}

		migrationType, suffix := Up, upSuffix
		if parsed.Direction == source.Down {
			migrationType, suffix = Down, downSuffix
		}

		return Migration{
			Version:     int64(parsed.Version),
			Name:        strings.TrimSuffix(filename, suffix),
			Description: parsed.Identifier,
			Type:        migrationType,
		}, nil
	}

	stem := strings.TrimSuffix(filename, ext)
	matches := simpleStemPattern.FindStringSubmatch(stem)
	if matches == nil {
		return Migration{}, fmt.Errorf("%w: malformed migration filename %s", ErrCatalog, filename)
	}

	version, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return Migration{}, fmt.Errorf("%w: invalid version in %s: %v", ErrCatalog, filename, err)
	}

	return Migration{
		Version:     version,
		Name:        stem,
		Description: matches[2],
		Type:        Simple,
	}, nil
}

// validatePairs expects migrations sorted by version.
func validatePairs(migrations []Migration) error {
	for i := 0; i < len(migrations); {
		j := i
		counts := map[MigrationType]int{}
		for ; j < len(migrations) && migrations[j].Version == migrations[i].Version; j++ {
			if migrations[j].Name != migrations[i].Name || counts[migrations[j].Type] > 0 {
				return fmt.Errorf("%w: version %d is used by both %s and %s",
					ErrCatalog, migrations[i].Version, migrations[i].Path, migrations[j].Path)
			}
			counts[migrations[j].Type]++
		}

		switch {
		case counts[Simple] > 0 && counts[Up]+counts[Down] > 0:
			return fmt.Errorf("%w: %s has both a simple and an up/down script", ErrCatalog, migrations[i].Name)
		case counts[Up] > 0 && counts[Down] == 0:
			return fmt.Errorf("%w: %s is missing its down script", ErrCatalog, migrations[i].Name)
		case counts[Down] > 0 && counts[Up] == 0:
			return fmt.Errorf("%w: %s is missing its up script", ErrCatalog, migrations[i].Name)
		}

		i = j
	}
	return nil
}

// FilterByType keeps the migrations whose type is one of types.
func FilterByType(migrations []Migration, types ...MigrationType) []Migration {
	var filtered []Migration
	for _, m := range migrations {
		for _, t := range types {
			if m.Type == t {
				filtered = append(filtered, m)
				break
			}
		}
	}
	return filtered
}
