// Package dedup computes cross-source job identity and detects changes on
// re-observation.
//
// Two identity layers exist: (source, vendor job id) recognizes the same
// vendor record across runs, while the dedup key unifies records across
// sources onto one canonical posting.
package dedup

import (
	"strings"

	"jobradar/internal/model"
)

// Key derives the canonical identity of a posting from its title and the
// company's canonical name. Deterministic: whitespace and case do not matter.
func Key(title, companyName string) string {
	return normalize(title) + "|" + normalize(companyName)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Candidate is the normalized field set compared against an existing posting.
type Candidate struct {
	Title          string
	ApplicantCount *int
	Salary         *model.Salary
	EmploymentType *string
	Seniority      *string
	ApplyAvailable bool
}

// Changed reports whether any tracked field of the candidate differs from the
// stored posting. A re-observed posting still counts as updated even when
// nothing changed; Changed only decides whether a patch is needed.
func Changed(existing model.JobPosting, c Candidate) bool {
	if existing.Title != c.Title {
		return true
	}
	if !intPtrEqual(existing.ApplicantCount, c.ApplicantCount) {
		return true
	}
	if !salaryEqual(existing.Salary, c.Salary) {
		return true
	}
	if !strPtrEqual(existing.EmploymentType, c.EmploymentType) {
		return true
	}
	if !strPtrEqual(existing.Seniority, c.Seniority) {
		return true
	}
	if existing.ApplyAvailable != c.ApplyAvailable {
		return true
	}
	return false
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func salaryEqual(a, b *model.Salary) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
