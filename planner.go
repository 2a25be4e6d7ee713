package rewind

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Strategy int

const (
	// StrategySnapshot resets the schema and restores a backup.
	StrategySnapshot Strategy = iota
	// StrategyReversible runs down scripts newest first.
	StrategyReversible
)

func (s Strategy) String() string {
	if s == StrategySnapshot {
		return "snapshot"
	}
	return "reversible"
}

// Plan is either a *SnapshotPlan or a *ReversiblePlan.
type Plan interface {
	Strategy() Strategy
}

type SnapshotPlan struct {
	Target string
	Backup Backup
	File   string
}

func (*SnapshotPlan) Strategy() Strategy { return StrategySnapshot }

type RollbackStep struct {
	Migration ExecutedMigration
	Script    Migration
	File      string
}

type ReversiblePlan struct {
	Target string
	Steps  []RollbackStep
}

func (*ReversiblePlan) Strategy() Strategy { return StrategyReversible }

type planner struct {
	snapshots  *SnapshotStore
	canRestore bool
	// scriptPath renders a catalog path for the operator.
	scriptPath func(Migration) string
}

func (p *planner) plan(migrations []Migration, executed []ExecutedMigration, target string) (Plan, error) {
	if len(migrations) == 0 {
		return nil, ErrNoMigrations
	}

	executed = sortedByVersion(executed)

	if selectStrategy(migrations) == StrategySnapshot {
		return p.planSnapshot(executed, target)
	}
	return p.planReversible(migrations, executed, target)
}

// selectStrategy looks only at the newest non-up entry: one trailing simple
// migration decides for the whole rollback.
func selectStrategy(migrations []Migration) Strategy {
	candidates := FilterByType(migrations, Simple, Down)
	if len(candidates) == 0 {
		return StrategyReversible
	}

	last := candidates[0]
	for _, m := range candidates[1:] {
		if m.Version >= last.Version {
			last = m
		}
	}

	if last.Type == Simple {
		return StrategySnapshot
	}
	return StrategyReversible
}

func (p *planner) planSnapshot(executed []ExecutedMigration, target string) (*SnapshotPlan, error) {
	name, err := snapshotTarget(executed, target)
	if err != nil {
		return nil, err
	}

	if !p.canRestore {
		return nil, ErrSnapshotUnsupported
	}
	if p.snapshots == nil {
		return nil, fmt.Errorf("%w: no backup folder configured", ErrSnapshotUnsupported)
	}

	backup, err := p.snapshots.Resolve(name)
	if err != nil {
		return nil, err
	}

	return &SnapshotPlan{
		Target: name,
		Backup: backup,
		File:   p.snapshots.Path(backup),
	}, nil
}

// snapshotTarget picks the backup to restore. Without an explicit target it
// anchors on the second-oldest executed migration.
func snapshotTarget(executed []ExecutedMigration, target string) (string, error) {
	switch {
	case target != "":
		return target, nil
	case len(executed) > 1:
		return executed[1].Name, nil
	case len(executed) == 1:
		return EmptySnapshot, nil
	default:
		return "", fmt.Errorf("%w: no target was specified and no migration has been executed", ErrNothingToRollback)
	}
}

func (p *planner) planReversible(migrations []Migration, executed []ExecutedMigration, target string) (*ReversiblePlan, error) {
	if len(executed) == 0 {
		return nil, fmt.Errorf("%w: no migration has been executed", ErrNothingToRollback)
	}

	queue, err := reversibleQueue(executed, target)
	if err != nil {
		return nil, err
	}

	downs := make(map[int64]Migration)
	for _, m := range FilterByType(migrations, Down) {
		downs[m.Version] = m
	}

	steps := make([]RollbackStep, 0, len(queue))
	for _, m := range queue {
		script, ok := downs[m.Version]
		if !ok {
			return nil, fmt.Errorf("%w: no down script found for executed migration %s", ErrResolution, m.Name)
		}

		file := script.Path
		if p.scriptPath != nil {
			file = p.scriptPath(script)
		}

		steps = append(steps, RollbackStep{Migration: m, Script: script, File: file})
	}

	return &ReversiblePlan{Target: target, Steps: steps}, nil
}

// reversibleQueue returns the executed migrations to revert, newest first.
func reversibleQueue(executed []ExecutedMigration, target string) ([]ExecutedMigration, error) {
	reversed := make([]ExecutedMigration, len(executed))
	for i, m := range executed {
		reversed[len(executed)-1-i] = m
	}

	if target == "" {
		return reversed[:1], nil
	}

	for i, m := range reversed {
		if !targetMatches(m, target) {
			continue
		}
		if i == 0 {
			return nil, fmt.Errorf("%w: %s is already the most recent executed migration", ErrNothingToRollback, m.Name)
		}
		return reversed[:i], nil
	}

	return nil, fmt.Errorf("%w: no executed migration matches target %q", ErrResolution, target)
}

// targetMatches compares digits against the version, names with an
// underscore against the full name and anything else against the
// description.
func targetMatches(m ExecutedMigration, target string) bool {
	switch {
	case isDigits(target):
		version, err := strconv.ParseInt(target, 10, 64)
		return err == nil && version == m.Version
	case strings.Contains(target, "_"):
		return m.Name == target
	default:
		return m.Description == target
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sortedByVersion(executed []ExecutedMigration) []ExecutedMigration {
	sorted := make([]ExecutedMigration, len(executed))
	copy(sorted, executed)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted
}
