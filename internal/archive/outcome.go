// Package archive bundles discovered event logs into one verified .tar.xz
// container and deletes the originals only once every file is accounted for.
package archive

// State is a step of an archive run. The state an Outcome ends in tells the
// caller how the run finished.
type State string

// Run states, in order. A run that finds no event logs ends in
// StateDiscovering. StateDeleting is the end state of every run that
// reached the delete step, including runs with individual delete failures.
// StateInterrupted means the container was verified and put in place but
// the run was cancelled before any original was deleted.
const (
	StateInit         State = "init"
	StateDiscovering  State = "discovering"
	StateDryRunReport State = "dry_run_report"
	StateBuilding     State = "building"
	StateVerifying    State = "verifying"
	StateDeleting     State = "deleting"
	StateInterrupted  State = "interrupted"
	StateAborted      State = "aborted"
)

// Options selects what one run works on. OutputDir must be resolved by the
// caller.
type Options struct {
	InputDir  string
	OutputDir string
	DryRun    bool
}

// DeleteFailure is an original that could not be removed.
type DeleteFailure struct {
	Path string
	Err  error
}

// Outcome is the result of one archive run.
type Outcome struct {
	ArchivePath string
	OutputDir   string
	Candidates  []string
	// Missing holds the base names absent from the verified container.
	Missing        []string
	State          State
	Deleted        []string
	DeleteFailures []DeleteFailure
	// Resumed holds originals of earlier verified runs deleted by this run.
	Resumed []string
	DryRun  bool
	RunID   int64
}

// NothingFound reports whether discovery found no event logs to archive.
func (o *Outcome) NothingFound() bool {
	return o.State == StateDiscovering && len(o.Candidates) == 0
}

// Partial reports whether the run ended with originals on disk that a
// complete run would have deleted.
func (o *Outcome) Partial() bool {
	return o.State == StateAborted || o.State == StateInterrupted || len(o.DeleteFailures) > 0
}

// Archived reports whether the run left a verified container in place.
func (o *Outcome) Archived() bool {
	return o.State == StateDeleting || o.State == StateInterrupted
}
