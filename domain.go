package rewind

import (
	"strconv"
	"time"
)

type MigrationType int

const (
	Simple MigrationType = iota
	Up
	Down
)

func (t MigrationType) String() string {
	switch t {
	case Simple:
		return "simple"
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Migration is one script file found in the migrations folder.
type Migration struct {
	Version     int64
	Name        string
	Description string
	Type        MigrationType
	Path        string
	Checksum    string
}

// ExecutedMigration is a ledger row.
type ExecutedMigration struct {
	Version     int64     `db:"version"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	AppliedAt   time.Time `db:"applied_at"`
}

func (m ExecutedMigration) VersionString() string {
	return strconv.FormatInt(m.Version, 10)
}

// Backup is a schema snapshot file in the backup folder.
type Backup struct {
	Filename string
	Name     string
}

type MigrationStatus struct {
	Version   int64
	Name      string
	Type      MigrationType
	Applied   bool
	AppliedAt *time.Time
	Checksum  string
	// Orphaned is set for ledger rows without a script on disk.
	Orphaned bool
}
