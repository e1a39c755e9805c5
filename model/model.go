package model

// Action is the kind of change requested for one file.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
)

// Operation is one ordered search/replace pair within a file's edit list.
type Operation struct {
	Search  string
	Replace string
}

// FileChange represents a single planned change to a file. Path is
// project-relative with forward slashes.
type FileChange struct {
	Path       string
	Action     Action
	Operations []Operation
	Meta       string
}

// ChangeSet is one AI-proposed patch, immutable once parsed.
type ChangeSet struct {
	Version string
	Files   []FileChange
	Meta    string
	// Warnings collects non-fatal schema deviations found while parsing.
	Warnings []string
}

// MatchMethod identifies which matching strategy produced a result.
type MatchMethod string

const (
	MatchExact      MatchMethod = "exact-text"
	MatchLineNorm   MatchMethod = "line-normalized"
	MatchWhitespace MatchMethod = "whitespace-normalized"
	MatchRegex      MatchMethod = "regex"
	MatchPlain      MatchMethod = "plain-text"
	MatchNone       MatchMethod = "none"
)

// ApplyResult is the outcome of one apply run. Changes is the union of
// progress notes, warnings and errors in chronological order.
type ApplyResult struct {
	Success bool
	Message string
	Changes []string
}

// PreviewResult reports, without mutating anything, whether one operation
// would find its pattern in the target file.
type PreviewResult struct {
	Pattern     string
	FilePath    string
	Success     bool
	MatchCount  int
	Samples     []string
	MatchMethod MatchMethod
	Error       string
}

// Summary holds the results of a CLI invocation for display.
type Summary struct {
	Created  []string
	Modified []string
	Deleted  []string
	Skipped  []string
	Failed   []string
	Log      []string
	Message  string
}
