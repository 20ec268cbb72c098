// Package cronutil computes schedule occurrences for the broker's
// cron-driven scheduled messages.
package cronutil

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Next parses expr as a standard five-field cron expression and returns the
// first occurrence strictly after from. Returns a wrapped parse error if
// expr is malformed.
func Next(expr string, from time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// Validate reports whether expr is a parseable standard cron expression,
// without computing an occurrence.
func Validate(expr string) error {
	_, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return nil
}
