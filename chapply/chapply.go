// Package chapply applies AI-generated change-sets to a project tree. It
// parses the structured search/replace document an LLM produces, matches
// patterns with a cascade of increasingly forgiving strategies, and applies
// the result transactionally: a partially failed run leaves the tree
// exactly as it was found.
package chapply

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"chapply/cli"
	"chapply/internal/apply"
	"chapply/internal/config"
	"chapply/internal/fs"
	"chapply/internal/match"
	"chapply/internal/parser"
	"chapply/internal/source"
	"chapply/internal/txn"
	"chapply/model"
)

// App orchestrates the entire application logic. All state is explicit and
// owned by the App; nothing in this module is a package-level singleton.
type App struct {
	cfg      *cli.Config
	opts     config.Options
	log      *logrus.Logger
	fsys     fs.Filesystem
	resolver *fs.PathResolver
	parser   *parser.Parser
	engine   *match.Engine
	txn      *txn.Manager
	source   *source.Provider
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error { return e.Err }

// New creates a new App instance from CLI configuration.
func New(cfg *cli.Config) (*App, error) {
	return newApp(cfg, fs.OS{})
}

// newApp wires the engine around any Filesystem, for tests.
func newApp(cfg *cli.Config, fsys fs.Filesystem) (*App, error) {
	opts, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load engine options: %w", err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	resolver, err := fs.NewPathResolver(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	engine := match.New(opts, log)
	applier := apply.New(engine, log)

	return &App{
		cfg:      cfg,
		opts:     opts,
		log:      log,
		fsys:     fsys,
		resolver: resolver,
		parser:   parser.New(opts, log),
		engine:   engine,
		txn:      txn.NewManager(fsys, resolver, applier, log),
		source:   source.New(),
	}, nil
}

// Parse turns raw LLM output into a ChangeSet. Returns a
// *parser.ParseError when the document has no usable structure; schema
// deviations land on ChangeSet.Warnings instead.
func (a *App) Parse(raw string) (*model.ChangeSet, error) {
	return a.parser.Parse(raw)
}

// Apply runs the change-set against the project root in one transaction.
// The context is only consulted before the applying phase begins: once
// writes start, the run either commits or rolls back to completion.
func (a *App) Apply(ctx context.Context, cs *model.ChangeSet) model.ApplyResult {
	if err := ctx.Err(); err != nil {
		return model.ApplyResult{
			Success: false,
			Message: fmt.Sprintf("run not started: %v", err),
		}
	}
	result, _ := a.txn.Run(cs, txn.Options{
		DryRun:     a.cfg.DryRun,
		Extensions: a.cfg.Extensions,
	})
	return result
}

// Preview re-runs the match engine against the current tree without
// mutating anything: one entry per file/operation pair.
func (a *App) Preview(cs *model.ChangeSet) []model.PreviewResult {
	var out []model.PreviewResult

	for _, fc := range cs.Files {
		absPath, err := a.resolver.Resolve(fc.Path)
		if err != nil {
			out = append(out, model.PreviewResult{
				FilePath:    fc.Path,
				MatchMethod: model.MatchNone,
				Error:       err.Error(),
			})
			continue
		}
		exists := a.fsys.Exists(absPath)

		switch fc.Action {
		case model.ActionDelete:
			pr := model.PreviewResult{FilePath: fc.Path, Success: exists, MatchMethod: model.MatchNone}
			if !exists {
				pr.Error = "delete requested but the file does not exist"
			}
			out = append(out, pr)

		case model.ActionCreate:
			pr := model.PreviewResult{FilePath: fc.Path, Success: !exists, MatchMethod: model.MatchNone}
			if exists {
				pr.Error = "create requested but the file already exists"
			}
			out = append(out, pr)

		default:
			content := ""
			readErr := ""
			if exists {
				content, err = a.fsys.ReadFile(absPath)
				if err != nil {
					readErr = err.Error()
				}
			} else {
				readErr = "modify requested but the file does not exist"
			}

			for _, op := range fc.Operations {
				pr := model.PreviewResult{Pattern: op.Search, FilePath: fc.Path}
				if readErr != "" {
					pr.MatchMethod = model.MatchNone
					pr.Error = readErr
					out = append(out, pr)
					continue
				}
				res := a.engine.Find(content, op.Search)
				pr.Success = res.Count > 0
				pr.MatchCount = res.Count
				pr.Samples = res.Samples
				pr.MatchMethod = res.Method
				if res.Count == 0 && res.Suggestion != "" {
					pr.Error = "no match; " + res.Suggestion
				}
				out = append(out, pr)
			}
		}
	}
	return out
}

// Execute is the CLI entry point: read the source text, parse it, then
// preview or apply per flags.
func (a *App) Execute(ctx context.Context) (summary model.Summary, err error) {
	// Centralized panic recovery.
	defer func() {
		if r := recover(); r != nil {
			err = &DetailedError{
				Err:   fmt.Errorf("internal panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	content, err := a.source.GetContent()
	if err != nil {
		return model.Summary{}, err
	}
	if content == "" {
		return model.Summary{Message: "Source is empty. Nothing to process."}, nil
	}

	cs, err := a.Parse(content)
	if err != nil {
		return model.Summary{}, err
	}
	if len(cs.Files) == 0 {
		return model.Summary{
			Message: "No applicable file changes in the change-set.",
			Log:     cs.Warnings,
		}, nil
	}

	if a.cfg.Preview {
		return a.previewSummary(cs), nil
	}

	result, stats := a.txn.Run(cs, txn.Options{
		DryRun:     a.cfg.DryRun,
		Extensions: a.cfg.Extensions,
	})
	return model.Summary{
		Created:  stats.Created,
		Modified: stats.Modified,
		Deleted:  stats.Deleted,
		Skipped:  stats.Skipped,
		Failed:   stats.Failed,
		Log:      result.Changes,
		Message:  result.Message,
	}, nil
}

func (a *App) previewSummary(cs *model.ChangeSet) model.Summary {
	previews := a.Preview(cs)
	summary := model.Summary{Message: fmt.Sprintf("preview: %d operation(s) inspected", len(previews))}

	for _, pr := range previews {
		line := fmt.Sprintf("%s: ", pr.FilePath)
		switch {
		case pr.Error != "":
			line += pr.Error
			summary.Failed = append(summary.Failed, pr.FilePath)
		case pr.Pattern == "":
			line += "ready"
		default:
			line += fmt.Sprintf("%d match(es) via %s", pr.MatchCount, pr.MatchMethod)
		}
		summary.Log = append(summary.Log, line)
	}
	return summary
}
