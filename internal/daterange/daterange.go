// Package daterange picks the incremental discovery window for a scrape
// based on the previous successful run.
package daterange

import (
	"time"

	"go.uber.org/zap"

	"jobradar/internal/model"
)

// Choice is the selected window plus the number of days it is expected to
// cover.
type Choice struct {
	Range        model.DateRange
	ExpectedDays int
}

// Choose selects the discovery window. A manual override in days wins;
// otherwise the gap since the last completed run decides. With no previous
// success the widest window is used.
func Choose(lastCompleted *time.Time, overrideDays *int, now time.Time, logger *zap.Logger) Choice {
	if overrideDays != nil {
		return fromDays(*overrideDays)
	}
	if lastCompleted == nil {
		return Choice{Range: model.RangePastMonth, ExpectedDays: 30}
	}

	days := int(now.Sub(*lastCompleted).Hours() / 24)
	if days > 30 && logger != nil {
		logger.Warn("gap since last completed run exceeds widest window",
			zap.Int("gap_days", days),
			zap.Time("last_completed", *lastCompleted),
		)
	}
	return fromDays(days)
}

func fromDays(days int) Choice {
	switch {
	case days <= 1:
		return Choice{Range: model.RangePast24h, ExpectedDays: 1}
	case days <= 7:
		return Choice{Range: model.RangePastWeek, ExpectedDays: 7}
	default:
		return Choice{Range: model.RangePastMonth, ExpectedDays: 30}
	}
}

// ShouldTrigger reports whether enough time has passed since the last
// completed run for the scheduler to start a new one.
func ShouldTrigger(lastCompleted *time.Time, minInterval time.Duration, now time.Time) bool {
	if lastCompleted == nil {
		return true
	}
	return now.Sub(*lastCompleted) >= minInterval
}
