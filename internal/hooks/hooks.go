// Package hooks defines the typed extension stages the importer fires while
// processing a batch. Each stage accepts and returns its own event type;
// handlers run in registration order and may replace the event or veto it
// with ErrSkip where the stage allows a veto.
package hooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/kenaz-import/internal/models"
)

// ErrSkip vetoes the data a stage carries. Stages that do not support a
// veto log it and carry on.
var ErrSkip = errors.New("skip")

// Func handles one stage event.
type Func[T any] func(ctx context.Context, ev T) (T, error)

// Stage is an ordered pipeline of handlers for one event type.
type Stage[T any] struct {
	name string
	fns  []Func[T]
}

// NewStage creates an empty stage.
func NewStage[T any](name string) *Stage[T] {
	return &Stage[T]{name: name}
}

// Name returns the stage name.
func (s *Stage[T]) Name() string { return s.name }

// Len returns the number of registered handlers.
func (s *Stage[T]) Len() int { return len(s.fns) }

// Use appends handlers.
func (s *Stage[T]) Use(fns ...Func[T]) {
	s.fns = append(s.fns, fns...)
}

// Observe appends a handler that only watches events.
func (s *Stage[T]) Observe(fn func(ctx context.Context, ev T)) {
	s.Use(func(ctx context.Context, ev T) (T, error) {
		fn(ctx, ev)
		return ev, nil
	})
}

// Run passes ev through every handler. The first error stops the pipeline
// and is returned together with the event as it was at that point.
func (s *Stage[T]) Run(ctx context.Context, ev T) (T, error) {
	for _, fn := range s.fns {
		next, err := fn(ctx, ev)
		if err != nil {
			return ev, fmt.Errorf("hooks: %s: %w", s.name, err)
		}
		ev = next
	}
	return ev, nil
}

// BatchEvent carries the mapper output before any record is processed.
type BatchEvent struct {
	Kind  string
	Batch models.NormalizedBatch
}

// RecordEvent carries one record before reconciliation. ErrSkip skips it.
type RecordEvent struct {
	Position int
	Total    int
	Record   models.ExternalRecord
}

// MatchEvent carries the default match decision for a record. Handlers may
// change LocalID and Found to override or bypass matching.
type MatchEvent struct {
	Record  models.ExternalRecord
	LocalID int64
	Found   bool
}

// FieldsEvent carries the field bag about to be submitted for creation.
type FieldsEvent struct {
	Record models.ExternalRecord
	Fields models.Fields
}

// ReconciledEvent reports a reconciliation result, success or failure.
type ReconciledEvent struct {
	Record models.ExternalRecord
	Result models.ReconcileResult
}

// TermsEvent carries the terms about to be attached. ErrSkip attaches none.
type TermsEvent struct {
	LocalID int64
	Record  models.ExternalRecord
	Terms   []models.TaxonomyTerms
}

// AttachedTerms lists the term ids attached in one taxonomy.
type AttachedTerms struct {
	Taxonomy string
	TermIDs  []int64
}

// TermsAttachedEvent reports the terms attached to an item.
type TermsAttachedEvent struct {
	LocalID  int64
	Record   models.ExternalRecord
	Attached []AttachedTerms
}

// MetaEvent carries one metadata pair. ErrSkip drops the pair.
type MetaEvent struct {
	LocalID int64
	Record  models.ExternalRecord
	Pair    models.MetaPair
}

// MetadataAttachedEvent reports the metadata written to an item.
type MetadataAttachedEvent struct {
	LocalID int64
	Record  models.ExternalRecord
	Meta    []models.MetaPair
}

// CompletedEvent reports the final outcome of one record.
type CompletedEvent struct {
	Record  models.ExternalRecord
	Outcome models.Outcome
}

// RunEvent reports a finished run.
type RunEvent struct {
	Run         models.Run
	Outcomes    []models.Outcome
	IdentityMap []models.IdentityEntry
}

// Registry holds one stage per extension point, in firing order.
type Registry struct {
	BatchReceived    *Stage[BatchEvent]
	RecordNormalized *Stage[RecordEvent]
	ExistingMatch    *Stage[MatchEvent]
	ItemFields       *Stage[FieldsEvent]
	RecordReconciled *Stage[ReconciledEvent]
	Terms            *Stage[TermsEvent]
	TermsAttached    *Stage[TermsAttachedEvent]
	Meta             *Stage[MetaEvent]
	MetadataAttached *Stage[MetadataAttachedEvent]
	RecordCompleted  *Stage[CompletedEvent]
	RunCompleted     *Stage[RunEvent]
}

// NewRegistry returns a registry with every stage empty.
func NewRegistry() *Registry {
	return &Registry{
		BatchReceived:    NewStage[BatchEvent]("batch-received"),
		RecordNormalized: NewStage[RecordEvent]("record-normalized"),
		ExistingMatch:    NewStage[MatchEvent]("existing-match"),
		ItemFields:       NewStage[FieldsEvent]("item-fields"),
		RecordReconciled: NewStage[ReconciledEvent]("record-reconciled"),
		Terms:            NewStage[TermsEvent]("terms"),
		TermsAttached:    NewStage[TermsAttachedEvent]("terms-attached"),
		Meta:             NewStage[MetaEvent]("meta"),
		MetadataAttached: NewStage[MetadataAttachedEvent]("metadata-attached"),
		RecordCompleted:  NewStage[CompletedEvent]("record-completed"),
		RunCompleted:     NewStage[RunEvent]("run-completed"),
	}
}
