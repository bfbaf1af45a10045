// Package model defines the canonical entities shared across the service:
// companies, locations, job postings and their sources, scrape runs, search
// queries and the LLM enrichment rows. The store owns persistence of all of
// them; everything here is plain data.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies the vendor platform a record came from.
type Source string

const (
	SourceLinkedIn Source = "linkedin"
	SourceIndeed   Source = "indeed"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceLinkedIn || s == SourceIndeed
}

// DateRange is the vendor-side discovery window for a scrape.
type DateRange string

const (
	RangePast24h   DateRange = "past_24h"
	RangePastWeek  DateRange = "past_week"
	RangePastMonth DateRange = "past_month"
)

// RunStatus is the lifecycle state of a scrape run. Transitions are one-way:
// running→completed, running→failed, failed→pending_retry, pending_retry→running.
type RunStatus string

const (
	RunRunning      RunStatus = "running"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
	RunPendingRetry RunStatus = "pending_retry"
)

// TriggerKind records what started a scrape run.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
	TriggerAPI       TriggerKind = "api"
)

// TitleClass is the job-title classification emitted by the title classifier.
// Only these two values are ever persisted; anything else from the model is
// recorded as an error.
type TitleClass string

const (
	TitleClassData TitleClass = "Data"
	TitleClassNIS  TitleClass = "NIS"
)

// Company is a canonical employer. The same canonical name may appear more
// than once only when rows are distinguishable by vendor id.
type Company struct {
	ID            uuid.UUID
	CanonicalName string
	LinkedInID    *string
	IndeedID      *string
	LogoBlob      []byte
	LogoURL       *string
	Industry      *string
	Website       *string
	CreatedAt     time.Time
}

// Location is a raw location string plus whatever parsing and AI enrichment
// has produced for it. RawString is unique.
type Location struct {
	ID          uuid.UUID
	RawString   string
	City        *string
	Region      *string
	CountryCode *string
	Enriched    map[string]any
	AIEnriched  bool
	AIError     *string
	AIAt        *time.Time
}

// Salary is a parsed compensation range.
type Salary struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency"`
	Period   string  `json:"period"`
}

// JobPosting is the canonical posting, one row per dedup key across all
// sources that observed it.
type JobPosting struct {
	ID                 uuid.UUID
	Source             Source
	VendorJobID        string
	CompanyID          uuid.UUID
	LocationID         uuid.UUID
	Title              string
	EmploymentType     *string
	Seniority          *string
	ApplicantCount     *int
	ApplyAvailable     bool
	PostedAt           *time.Time
	Salary             *Salary
	JobURL             string
	ApplyURL           *string
	DedupKey           string
	TitleClass         *TitleClass
	TitleClassError    *string
	TitleClassAt       *time.Time
	NeedsRanking       bool
	IsActive           bool
	LastSeenAt         time.Time
	DetectedInactiveAt *time.Time
	CreatedAt          time.Time
}

// JobSource records that a specific vendor saw a posting. (JobPostingID,
// Source) is unique; many source rows can fan in on one canonical posting.
type JobSource struct {
	JobPostingID uuid.UUID
	Source       Source
	VendorJobID  string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// JobDescription is the one-to-one description text for a posting.
type JobDescription struct {
	JobPostingID uuid.UUID
	Text         string
	HTML         *string
}

// RunMetadata is the free-form metadata blob attached to a scrape run.
type RunMetadata struct {
	DateRange    DateRange         `json:"date_range,omitempty"`
	LookbackDays int               `json:"lookback_days,omitempty"`
	SnapshotID   string            `json:"snapshot_id,omitempty"`
	DurationS    float64           `json:"duration_s,omitempty"`
	JobsReturned int               `json:"brightdata_jobs_returned,omitempty"`
	JobsError    int               `json:"jobs_error,omitempty"`
	ErrorDetails []string          `json:"error_details,omitempty"`
	ErrorType    string            `json:"error_type,omitempty"`
	BatchSummary string            `json:"batch_summary,omitempty"`
	QueryParams  map[string]string `json:"query_params,omitempty"`
}

// ScrapeRun is one orchestrated scrape attempt. Retries are separate rows
// chained back to the first failed run via OriginalRunID.
type ScrapeRun struct {
	ID            uuid.UUID
	QueryID       *uuid.UUID
	JobTypeID     *uuid.UUID
	SearchText    string
	LocationText  string
	Source        Source
	Status        RunStatus
	Trigger       TriggerKind
	StartedAt     time.Time
	CompletedAt   *time.Time
	JobsFound     int
	JobsNew       int
	JobsUpdated   int
	Error         *string
	RetryCount    int
	MaxRetries    int
	OriginalRunID *uuid.UUID
	NextRetryAt   *time.Time
	Archived      bool
	Metadata      RunMetadata
}

// DefaultMaxRetries bounds a retry chain; the chain length is at most
// DefaultMaxRetries+1 runs.
const DefaultMaxRetries = 4

// JobScrapeHistory ties a posting to every run that observed it. Append-only.
type JobScrapeHistory struct {
	JobPostingID uuid.UUID
	ScrapeRunID  uuid.UUID
	DetectedAt   time.Time
}

// JobEnrichment holds the LLM-extracted structured fields for a posting.
// Created as a stub at ingestion time; CompletedAt and Error are mutually
// exclusive.
type JobEnrichment struct {
	JobPostingID  uuid.UUID
	RoleType      *string
	SeniorityTags []string
	ContractTags  []string
	SummaryNL     *string
	SummaryFR     *string
	SummaryEN     *string
	LongNL        *string
	LongFR        *string
	LongEN        *string
	MustLanguages []string
	NiceLanguages []string
	MustEcosystem []string
	NiceEcosystem []string
	MustSpoken    []string
	NiceSpoken    []string
	Perks         []string
	CompletedAt   *time.Time
	Error         *string
	AttemptedAt   *time.Time
}

// CompanyProfile is the one-to-one AI-derived master data for a company.
type CompanyProfile struct {
	CompanyID   uuid.UUID
	ProfileNL   *string
	ProfileFR   *string
	ProfileEN   *string
	SizeClass   *string
	Factlets    []string
	BelgianHint *string
	HiringModel *string
	AIEnriched  bool
	AIAt        *time.Time
	AIError     *string
}

// ScheduleKind selects how a search query recurs.
type ScheduleKind string

const (
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleWeekly   ScheduleKind = "weekly"
)

// Schedule configures recurring triggers for a search query.
type Schedule struct {
	Enabled       bool           `json:"enabled"`
	Kind          ScheduleKind   `json:"kind,omitempty"`
	TimeOfDay     string         `json:"time_of_day,omitempty"` // "HH:MM", UTC
	IntervalHours int            `json:"interval_hours,omitempty"`
	DaysOfWeek    []time.Weekday `json:"days_of_week,omitempty"`
}

// SearchQuery is a stored (search text, location, source) tuple the scheduler
// fires scrape runs for.
type SearchQuery struct {
	ID           uuid.UUID
	Source       Source
	SearchText   string
	LocationText string
	JobTypeID    *uuid.UUID
	LookbackDays *int
	IsActive     bool
	Schedule     Schedule
	LastRunAt    *time.Time
	NextRunAt    *time.Time
}

// JobType is an operator-defined tag applied to postings.
type JobType struct {
	ID   uuid.UUID
	Name string
}

// JobTypeAssignment links a posting to a job type. (posting, type) is unique.
type JobTypeAssignment struct {
	JobPostingID uuid.UUID
	JobTypeID    uuid.UUID
	AssignedVia  string
}

// ProcessingStatus is the outcome of ingesting a single vendor record.
type ProcessingStatus string

const (
	ProcessedNew     ProcessingStatus = "new"
	ProcessedUpdated ProcessingStatus = "updated"
	ProcessedSkipped ProcessingStatus = "skipped"
	ProcessedError   ProcessingStatus = "error"
)

// ProcessingResult carries the per-record outcome of the ingestion pipeline.
type ProcessingResult struct {
	Status       ProcessingStatus
	JobPostingID uuid.UUID
	ErrorMessage string
}
