// Package apply executes one FileChange against the file's current
// content. It never touches the disk; the transaction layer owns all I/O.
package apply

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"chapply/internal/match"
	"chapply/model"
)

// FileResult is the outcome of applying one FileChange.
type FileResult struct {
	// Content is the new file content, or nil for a delete.
	Content *string
	// Changed reports whether writing Content would alter the file.
	Changed bool
	// Log collects progress notes and warnings in order.
	Log []string
}

// Applier transforms file content according to a FileChange's action.
type Applier struct {
	engine *match.Engine
	log    logrus.FieldLogger
}

// New creates an Applier around a match engine.
func New(engine *match.Engine, log logrus.FieldLogger) *Applier {
	return &Applier{engine: engine, log: log}
}

// ApplyFile runs the change against the current content (nil when the file
// does not exist). Operations that find nothing are warnings, not errors:
// the file and the run continue.
func (a *Applier) ApplyFile(fc model.FileChange, current *string) FileResult {
	switch fc.Action {
	case model.ActionDelete:
		return FileResult{
			Content: nil,
			Changed: true,
			Log:     []string{fmt.Sprintf("delete %s", fc.Path)},
		}
	case model.ActionCreate:
		return a.applyCreate(fc)
	default:
		return a.applyModify(fc, current)
	}
}

func (a *Applier) applyCreate(fc model.FileChange) FileResult {
	res := FileResult{Changed: true}
	content := ""
	if len(fc.Operations) > 0 {
		content = fc.Operations[0].Replace
	}
	res.Content = &content
	res.Log = append(res.Log, fmt.Sprintf("create %s (%d bytes)", fc.Path, len(content)))

	for i := 1; i < len(fc.Operations); i++ {
		res.Log = append(res.Log, fmt.Sprintf("warning: create %s: operation #%d ignored, a create takes its content from the first operation", fc.Path, i+1))
	}
	return res
}

func (a *Applier) applyModify(fc model.FileChange, current *string) FileResult {
	var res FileResult
	if current == nil {
		res.Log = append(res.Log, fmt.Sprintf("warning: modify %s: no current content", fc.Path))
		return res
	}

	original := *current
	content := original

	for i, op := range fc.Operations {
		if op.Search == "" {
			res.Log = append(res.Log, fmt.Sprintf("warning: modify %s: operation #%d has an empty search pattern, skipped", fc.Path, i+1))
			continue
		}

		updated, m := a.engine.Replace(content, op.Search, op.Replace)
		if m.RegexErr != "" {
			res.Log = append(res.Log, fmt.Sprintf("warning: modify %s: operation #%d: %s", fc.Path, i+1, m.RegexErr))
		}
		if m.Count == 0 {
			note := fmt.Sprintf("warning: modify %s: operation #%d found no match, skipped", fc.Path, i+1)
			if m.Suggestion != "" {
				note += " (" + m.Suggestion + ")"
			}
			res.Log = append(res.Log, note)
			continue
		}

		content = updated
		res.Log = append(res.Log, fmt.Sprintf("modify %s: operation #%d replaced %d occurrence(s) via %s", fc.Path, i+1, m.Count, m.Method))
		a.log.WithFields(logrus.Fields{
			"path":   fc.Path,
			"op":     i + 1,
			"method": m.Method,
			"count":  m.Count,
		}).Debug("operation applied")
	}

	if content == original {
		res.Log = append(res.Log, fmt.Sprintf("warning: modify %s: no changes applied, file left untouched", fc.Path))
		return res
	}

	res.Content = &content
	res.Changed = true
	return res
}
