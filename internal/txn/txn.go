// Package txn owns the apply run: precondition checks, pre-mutation
// backups, the write phase and whole-run rollback. A run either commits or
// rolls back to completion; there is no mid-flight cancellation.
package txn

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"chapply/internal/apply"
	"chapply/internal/fs"
	"chapply/model"
)

// Phase is the transaction state machine.
type Phase int

const (
	PhaseCollecting Phase = iota
	PhaseApplying
	PhaseCommitted
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting"
	case PhaseApplying:
		return "applying"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// BackupRecord snapshots one file before any mutation. A nil Content means
// the file did not exist (undoing a create removes it again).
type BackupRecord struct {
	Path    string
	Content *string
}

// Options tune one run.
type Options struct {
	// DryRun simulates the applying phase without calling any write or
	// delete path.
	DryRun bool
	// Extensions restricts the apply set by file extension when non-empty.
	Extensions []string
}

// Stats lists the per-file outcomes of a run by project-relative path.
// The ApplyResult.Changes log is for humans; Stats is the structured
// companion so callers never reconstruct outcomes from log text.
type Stats struct {
	Created  []string
	Modified []string
	Deleted  []string
	Skipped  []string
	Failed   []string
}

// entry is one file admitted past the precondition checks.
type entry struct {
	change  model.FileChange
	absPath string
	current *string
}

// Manager executes one transaction per Run call.
type Manager struct {
	fsys     fs.Filesystem
	resolver *fs.PathResolver
	applier  *apply.Applier
	log      logrus.FieldLogger
}

// NewManager creates a transaction manager.
func NewManager(fsys fs.Filesystem, resolver *fs.PathResolver, applier *apply.Applier, log logrus.FieldLogger) *Manager {
	return &Manager{fsys: fsys, resolver: resolver, applier: applier, log: log}
}

// Run applies a change-set transactionally. Files failing preconditions are
// skipped with a warning; an I/O error during the applying phase rolls the
// whole run back. The returned Changes log mixes progress notes, warnings
// and errors in chronological order.
func (m *Manager) Run(cs *model.ChangeSet, opts Options) (model.ApplyResult, Stats) {
	runID := uuid.NewString()
	log := m.log.WithField("run", runID)
	phase := PhaseCollecting
	log.WithFields(logrus.Fields{"phase": phase.String(), "files": len(cs.Files)}).Debug("run started")

	var changes []string
	var stats Stats
	for _, w := range cs.Warnings {
		changes = append(changes, "warning: "+w)
	}

	var backups []BackupRecord
	backedUp := make(map[string]bool)
	var included []entry

	for _, fc := range cs.Files {
		if skipped, reason := m.filtered(fc, opts.Extensions); skipped {
			changes = append(changes, fmt.Sprintf("skipped %s: %s", fc.Path, reason))
			stats.Skipped = append(stats.Skipped, fc.Path)
			continue
		}

		absPath, err := m.resolver.Resolve(fc.Path)
		if err != nil {
			changes = append(changes, fmt.Sprintf("warning: %s excluded: %v", fc.Path, err))
			stats.Skipped = append(stats.Skipped, fc.Path)
			continue
		}

		if reason := m.precondition(fc, absPath); reason != "" {
			changes = append(changes, fmt.Sprintf("warning: %s excluded: %s", fc.Path, reason))
			stats.Skipped = append(stats.Skipped, fc.Path)
			continue
		}

		var current *string
		if m.fsys.Exists(absPath) {
			content, err := m.fsys.ReadFile(absPath)
			if err != nil {
				changes = append(changes, fmt.Sprintf("warning: %s excluded: could not read: %v", fc.Path, err))
				stats.Skipped = append(stats.Skipped, fc.Path)
				continue
			}
			current = &content
		}

		// Backups are taken at first touch, before any mutation.
		if !backedUp[absPath] {
			backedUp[absPath] = true
			backups = append(backups, BackupRecord{Path: absPath, Content: current})
			fields := logrus.Fields{"path": fc.Path, "exists": current != nil}
			if current != nil {
				fields["sha256"] = fs.Sha256(*current)
			}
			log.WithFields(fields).Debug("backup recorded")
		}

		included = append(included, entry{change: fc, absPath: absPath, current: current})
	}

	if len(included) == 0 {
		return model.ApplyResult{
			Success: true,
			Message: fmt.Sprintf("nothing to apply (run %s)", runID),
			Changes: changes,
		}, stats
	}

	var createTargets []string
	for _, ent := range included {
		if ent.change.Action == model.ActionCreate {
			createTargets = append(createTargets, ent.absPath)
		}
	}
	newDirs := fs.DirsToCreate(m.fsys, createTargets)
	if len(newDirs) > 0 {
		sorted := make([]string, 0, len(newDirs))
		for dir := range newDirs {
			sorted = append(sorted, dir)
		}
		sort.Strings(sorted)
		for _, dir := range sorted {
			changes = append(changes, fmt.Sprintf("new directory %s", dir))
		}
	}

	phase = PhaseApplying
	log.WithFields(logrus.Fields{"phase": phase.String(), "files": len(included), "dry_run": opts.DryRun}).Debug("applying")

	var madeDirs []string
	for _, ent := range included {
		res := m.applier.ApplyFile(ent.change, ent.current)
		changes = append(changes, res.Log...)
		if !res.Changed {
			continue
		}

		if !opts.DryRun {
			if err := m.write(ent, res, &madeDirs); err != nil {
				phase = PhaseRolledBack
				stats.Failed = append(stats.Failed, ent.change.Path)
				// Earlier applies are about to be undone.
				stats.Created, stats.Modified, stats.Deleted = nil, nil, nil
				changes = append(changes, fmt.Sprintf("error: %s: %v", ent.change.Path, err))
				changes = append(changes, m.rollback(backups, madeDirs, log)...)
				log.WithFields(logrus.Fields{"phase": phase.String(), "path": ent.change.Path}).Warn("run rolled back")
				return model.ApplyResult{
					Success: false,
					Message: fmt.Sprintf("apply failed on %s, all changes rolled back (run %s)", ent.change.Path, runID),
					Changes: changes,
				}, stats
			}
		}

		switch ent.change.Action {
		case model.ActionCreate:
			stats.Created = append(stats.Created, ent.change.Path)
		case model.ActionDelete:
			stats.Deleted = append(stats.Deleted, ent.change.Path)
		default:
			stats.Modified = append(stats.Modified, ent.change.Path)
		}
	}

	phase = PhaseCommitted
	log.WithField("phase", phase.String()).Debug("run finished")

	message := fmt.Sprintf("applied change-set: %d created, %d modified, %d deleted (run %s)",
		len(stats.Created), len(stats.Modified), len(stats.Deleted), runID)
	if opts.DryRun {
		message = "[dry-run] " + message
	}
	return model.ApplyResult{Success: true, Message: message, Changes: changes}, stats
}

// write performs the single mutation for one file. Directories created on
// the way are recorded in madeDirs so a rollback can remove them again.
func (m *Manager) write(ent entry, res apply.FileResult, madeDirs *[]string) error {
	if res.Content == nil {
		if err := m.fsys.Remove(ent.absPath); err != nil {
			return fmt.Errorf("failed to delete: %w", err)
		}
		return nil
	}

	if err := m.ensureDir(filepath.Dir(ent.absPath), madeDirs); err != nil {
		return err
	}
	if err := m.fsys.WriteFile(ent.absPath, *res.Content); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

// ensureDir creates the missing ancestors of dir inside the project root
// and appends each newly created directory to madeDirs.
func (m *Manager) ensureDir(dir string, madeDirs *[]string) error {
	root := m.resolver.Root()
	var missing []string
	for cur := dir; cur != root && !m.fsys.Exists(cur); cur = filepath.Dir(cur) {
		missing = append(missing, cur)
		if filepath.Dir(cur) == cur {
			break
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := m.fsys.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	*madeDirs = append(*madeDirs, missing...)
	return nil
}

// rollback restores every backed-up path in the order backups were taken,
// then removes directories the run created, deepest first. Per-path
// failures are logged and reported but never raised: a partial rollback is
// still strictly better than a silent partial apply.
func (m *Manager) rollback(backups []BackupRecord, madeDirs []string, log logrus.FieldLogger) []string {
	notes := []string{"rolling back all changes"}
	for _, b := range backups {
		var err error
		if b.Content == nil {
			if m.fsys.Exists(b.Path) {
				err = m.fsys.Remove(b.Path)
			}
		} else {
			err = m.fsys.WriteFile(b.Path, *b.Content)
		}
		if err != nil {
			log.WithFields(logrus.Fields{"path": b.Path, "error": err}).Warn("rollback failed for path")
			notes = append(notes, fmt.Sprintf("error: rollback of %s failed: %v", b.Path, err))
			continue
		}
		notes = append(notes, fmt.Sprintf("restored %s", b.Path))
	}

	// Deepest first so children go before their parents. Removal of a dir
	// that gained unrelated content in the meantime fails and is left alone.
	sort.Slice(madeDirs, func(i, j int) bool { return len(madeDirs[i]) > len(madeDirs[j]) })
	for _, dir := range madeDirs {
		if !m.fsys.Exists(dir) {
			continue
		}
		if err := m.fsys.Remove(dir); err != nil {
			log.WithFields(logrus.Fields{"dir": dir, "error": err}).Debug("created directory kept")
			continue
		}
		notes = append(notes, fmt.Sprintf("removed directory %s", dir))
	}
	return notes
}

// precondition validates the file's existence state against the requested
// action. An empty return means the file is admitted.
func (m *Manager) precondition(fc model.FileChange, absPath string) string {
	exists := m.fsys.Exists(absPath)
	switch fc.Action {
	case model.ActionCreate:
		if exists {
			return "create requested but the file already exists"
		}
	case model.ActionModify:
		if !exists {
			return "modify requested but the file does not exist"
		}
	case model.ActionDelete:
		if !exists {
			return "delete requested but the file does not exist"
		}
	}
	return ""
}

func (m *Manager) filtered(fc model.FileChange, extensions []string) (bool, string) {
	if len(extensions) == 0 {
		return false, ""
	}
	ext := filepath.Ext(fc.Path)
	for _, allowed := range extensions {
		if strings.EqualFold(ext, allowed) {
			return false, ""
		}
	}
	return true, fmt.Sprintf("extension %q not in filter", ext)
}
