// Package snapshot wraps the vendor's snapshot-based scraping API: trigger a
// discovery job, poll its progress, download the result. Both platform
// datasets (LinkedIn, Indeed) go through the same interface; a fixture-backed
// mock is pin-compatible for local runs.
package snapshot

import (
	"context"
	"errors"
	"time"

	"jobradar/internal/model"
)

// Error kinds surfaced to the orchestrator. Matched with errors.Is.
var (
	ErrQuotaExceeded = errors.New("vendor quota exceeded")
	ErrBadRequest    = errors.New("vendor rejected request")
	ErrAuth          = errors.New("vendor authentication failed")
	ErrNotReady      = errors.New("snapshot not ready")
	ErrBuildFailed   = errors.New("snapshot build failed")
	ErrTimeout       = errors.New("snapshot deadline elapsed")
)

// SnapshotState is the vendor-side build state.
type SnapshotState string

const (
	StateRunning SnapshotState = "running"
	StateReady   SnapshotState = "ready"
	StateFailed  SnapshotState = "failed"
)

// Status is a progress report for a building snapshot.
type Status struct {
	State       SnapshotState
	ProgressPct int
	Error       string
}

// JobRecord is a raw vendor posting in the common shape both platform
// decoders map onto. Field cleanup happens later in the normalizer.
type JobRecord struct {
	Source          model.Source
	VendorJobID     string
	Title           string
	CompanyName     string
	CompanyVendorID string
	CompanyURL      string
	CompanyLogoURL  string
	Location        string
	DescriptionHTML string
	EmploymentType  string
	Seniority       string
	SalaryText      string
	ApplicantCount  *int
	ApplyAvailable  bool
	PostedAt        *time.Time
	JobURL          string
	ApplyURL        string
	Industry        string
}

// Client is the capability set of one platform scraper.
type Client interface {
	// Trigger starts a vendor-side discovery snapshot and returns its id.
	Trigger(ctx context.Context, keyword, location string, dateRange model.DateRange, limit int) (string, error)
	// SnapshotStatus reports the build state of a snapshot.
	SnapshotStatus(ctx context.Context, snapshotID string) (Status, error)
	// Download fetches the records of a ready snapshot. Fails with
	// ErrNotReady while the snapshot is still building.
	Download(ctx context.Context, snapshotID string) ([]JobRecord, error)
	// AwaitReady polls SnapshotStatus until the snapshot is ready, then
	// downloads it. Fails with ErrTimeout at the deadline and ErrBuildFailed
	// on a terminal vendor failure.
	AwaitReady(ctx context.Context, snapshotID string, pollEvery, deadline time.Duration) ([]JobRecord, error)
	// Source identifies the platform this client scrapes.
	Source() model.Source
}

// Factory returns the Client for a platform; the orchestrator resolves one
// per run so mock selection stays a boot-time decision.
type Factory func(source model.Source) (Client, error)
