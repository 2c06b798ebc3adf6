package models

import (
	"time"
)

// RunStatus values persisted for import runs. pending is set at creation and
// superseded within the same coordinator pass; completed and failed are terminal.
const (
	RunPending    = "pending"
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

// ImportRun is the audit record for one ingestion attempt against one source.
// Counters only ever grow; total_imported == new_count + updated_count holds at
// every observation point, and on a terminal status
// total_imported + len(failures) == total_fetched.
type ImportRun struct {
	ID            string          `json:"id"`
	Source        string          `json:"source"`
	StartedAt     time.Time       `json:"startedAt"`
	Status        string          `json:"status"`
	TotalFetched  int             `json:"totalFetched"`
	TotalImported int             `json:"totalImported"`
	NewCount      int             `json:"newCount"`
	UpdatedCount  int             `json:"updatedCount"`
	Failures      []ImportFailure `json:"failures"`
	ErrorMessage  *string         `json:"errorMessage,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ImportFailure captures one record that could not be imported, with the raw
// record snapshot for later inspection. Appended, never rewritten.
type ImportFailure struct {
	Record    CandidateRecord `json:"record"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

// CandidateRecord is a normalized job extracted from a feed, in flight between
// the feed client and the dedup processor. ExternalID, Title, Description and
// SourceURL are required for import; the rest are best effort.
type CandidateRecord struct {
	ExternalID    string     `json:"externalId"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Company       string     `json:"company,omitempty"`
	Location      string     `json:"location,omitempty"`
	Salary        string     `json:"salary,omitempty"`
	JobURL        string     `json:"jobUrl,omitempty"`
	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	SourceURL     string     `json:"sourceUrl"`
}

// QueueMessage is the envelope carried on the work queue, one per candidate.
type QueueMessage struct {
	RunID     string          `json:"runId"`
	SourceURL string          `json:"sourceUrl"`
	Record    CandidateRecord `json:"record"`
}

// PersistedJob is a deduplicated job row, keyed by ExternalID.
type PersistedJob struct {
	ID            string     `json:"id"`
	ExternalID    string     `json:"externalId"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Company       string     `json:"company,omitempty"`
	Location      string     `json:"location,omitempty"`
	Salary        string     `json:"salary,omitempty"`
	JobURL        string     `json:"jobUrl,omitempty"`
	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	SourceURL     string     `json:"sourceUrl"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
