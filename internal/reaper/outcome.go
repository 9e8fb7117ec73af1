package reaper

import (
	"errors"
	"fmt"
	"strings"
)

// Reasons a planned deletion is refused.
var (
	ErrModified      = errors.New("file modified since scan")
	ErrKeeperMissing = errors.New("kept copy missing or changed")
	ErrInUse         = errors.New("file in use (locked by another process)")
	ErrNotRegular    = errors.New("no longer a regular file")
)

// ActionType describes what happened to a planned path.
type ActionType int

const (
	ActionDeleted     ActionType = iota
	ActionWouldDelete            // Dry run: all checks passed
	ActionFailed                 // Refused or failed, see Err
)

func (a ActionType) String() string {
	switch a {
	case ActionDeleted:
		return "deleted"
	case ActionWouldDelete:
		return "would-delete"
	case ActionFailed:
		return "failed"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// MarshalText encodes the action by name for JSON and YAML reports.
func (a ActionType) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Outcome describes the result of a single planned deletion.
type Outcome struct {
	Set    int        // Position of the decision in the plan
	Path   string     // Path planned for deletion
	Keeper string     // Path kept for this set
	Action ActionType // Deleted, WouldDelete or Failed
	Err    error      // Non-nil if failed
}

// String formats the outcome for display.
func (o Outcome) String() string {
	switch o.Action {
	case ActionDeleted:
		return fmt.Sprintf("Deleted %s (kept %s)", escapePath(o.Path), escapePath(o.Keeper))
	case ActionWouldDelete:
		return fmt.Sprintf("Would delete %s (keep %s)", escapePath(o.Path), escapePath(o.Keeper))
	case ActionFailed:
		return fmt.Sprintf("failed %s: %v", escapePath(o.Path), o.Err)
	default:
		return fmt.Sprintf("Unknown action for %s", escapePath(o.Path))
	}
}

// Result aggregates the outcomes of a run.
type Result struct {
	DryRun     bool
	Outcomes   []Outcome
	Deleted    int   // Paths removed (or that would be, in a dry run)
	Failed     int   // Paths refused or failed
	BytesFreed int64 // Counted per physical file once all of its paths are gone
}

// Failures returns the failed outcomes in plan order.
func (r Result) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Action == ActionFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// escapePath escapes special characters in paths for safe terminal output.
func escapePath(path string) string {
	r := strings.NewReplacer(
		"\t", "\\t",
		"\n", "\\n",
		"\r", "\\r",
	)
	return r.Replace(path)
}
