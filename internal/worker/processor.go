package worker

import (
	"context"
	"fmt"
	"strings"

	"job-feed-importer/internal/models"
	"job-feed-importer/internal/store"
)

// Outcome classifications for one candidate record.
const (
	OutcomeNew     = "new"
	OutcomeUpdated = "updated"
	OutcomeInvalid = "invalid"
)

// Outcome is the terminal classification of one apply. Reason is set only for
// invalid records.
type Outcome struct {
	Status string
	Reason string
}

// JobStore is the persisted job store the processor upserts into.
type JobStore interface {
	UpsertJob(ctx context.Context, rec models.CandidateRecord) (store.UpsertResult, error)
}

// Processor applies candidate records to the job store with idempotent
// deduplication keyed by external id.
type Processor struct {
	jobs JobStore
}

func NewProcessor(jobs JobStore) *Processor {
	return &Processor{jobs: jobs}
}

// Apply validates and upserts one record. Records failing validation classify
// invalid without touching the store. The new-vs-updated branch comes from the
// store's atomic upsert, never from a separate existence check.
func (p *Processor) Apply(ctx context.Context, rec models.CandidateRecord) (Outcome, error) {
	if reason := validate(rec); reason != "" {
		return Outcome{Status: OutcomeInvalid, Reason: reason}, nil
	}
	result, err := p.jobs.UpsertJob(ctx, rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("apply record %s: %w", rec.ExternalID, err)
	}
	if result == store.Inserted {
		return Outcome{Status: OutcomeNew}, nil
	}
	return Outcome{Status: OutcomeUpdated}, nil
}

// validate reports the missing required fields, or "" when the record is valid.
func validate(rec models.CandidateRecord) string {
	var missing []string
	if rec.ExternalID == "" {
		missing = append(missing, "externalId")
	}
	if rec.Title == "" {
		missing = append(missing, "title")
	}
	if rec.Description == "" {
		missing = append(missing, "description")
	}
	if rec.SourceURL == "" {
		missing = append(missing, "sourceUrl")
	}
	if len(missing) == 0 {
		return ""
	}
	return "missing required fields: " + strings.Join(missing, ", ")
}
