package importer

import (
	"fmt"
	"io"
	"time"

	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/reconcile"
)

// State is a phase of one import run.
type State int

const (
	StateStart State = iota
	StateMapping
	StatePrePass
	StatePerRecord
	StatePostPass
	StateTeardown
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateMapping:
		return "mapping"
	case StatePrePass:
		return "pre-pass"
	case StatePerRecord:
		return "per-record"
	case StatePostPass:
		return "post-pass"
	case StateTeardown:
		return "teardown"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Report summarizes a run.
type Report struct {
	RunID         string           `json:"run_id"`
	Kind          string           `json:"kind"`
	State         string           `json:"state"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Outcomes      []models.Outcome `json:"outcomes"`
	TermFailures  []models.Failure `json:"term_failures,omitempty"`
	AssetFailures []models.Failure `json:"asset_failures,omitempty"`
	Created       int              `json:"created"`
	Existing      int              `json:"existing"`
	Skipped       int              `json:"skipped"`
	Failed        int              `json:"failed"`
	Redirects     int              `json:"redirects"`
	Deferred      int              `json:"deferred_resolved"`
}

func (r *Report) count(o models.Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case models.StatusCreated:
		r.Created++
	case models.StatusExisting:
		r.Existing++
	case models.StatusSkipped:
		r.Skipped++
	case models.StatusFailed:
		r.Failed++
	}
}

// Run returns the persisted run record.
func (r *Report) Run() models.Run {
	return models.Run{
		ID:         r.RunID,
		Kind:       r.Kind,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Created:    r.Created,
		Existing:   r.Existing,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
	}
}

// WriteSummary prints a human readable summary ending with "All done.".
func (r *Report) WriteSummary(w io.Writer) {
	for _, o := range r.Outcomes {
		if o.Status == models.StatusSkipped || o.Status == models.StatusFailed {
			fmt.Fprintf(w, "%s %s (%s): %s\n", o.Status, o.ExternalID, o.Title, o.Reason)
		}
	}
	for _, f := range r.TermFailures {
		fmt.Fprintf(w, "term %s on %s: %s\n", f.Subject, f.ExternalID, f.Reason)
	}
	for _, f := range r.AssetFailures {
		fmt.Fprintf(w, "asset %s on %s: %s\n", f.Subject, f.ExternalID, f.Reason)
	}
	fmt.Fprintf(w, "%s: %d created, %d existing, %d skipped, %d failed, %d redirects\n",
		r.Kind, r.Created, r.Existing, r.Skipped, r.Failed, r.Redirects)
	fmt.Fprintln(w, "All done.")
}

// runState is threaded through every phase of one run.
type runState struct {
	kind      string
	state     State
	total     int
	processed int
	rec       *reconcile.Reconciler
	deferred  []models.DeferredReference
	report    *Report
}
