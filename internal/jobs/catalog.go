package jobs

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Recurrence is the repeat label stored with a record. The empty value
// means one-shot.
type Recurrence string

const (
	RecurrenceNone   Recurrence = ""
	RecurrenceHourly Recurrence = "hourly"
	RecurrenceDaily  Recurrence = "daily"
	RecurrenceWeekly Recurrence = "weekly"
)

// IsRecurring reports whether r is anything other than one-shot. Unknown
// labels count as recurring so they are never silently treated as one-shot.
func (r Recurrence) IsRecurring() bool {
	return r != RecurrenceNone
}

func (r Recurrence) String() string {
	if r == RecurrenceNone {
		return "once"
	}
	return string(r)
}

// Catalog maps recurrence labels to fixed periods. Periods are plain
// durations, not calendar arithmetic.
type Catalog struct {
	periods map[Recurrence]time.Duration
}

// DefaultCatalog returns the hourly, daily and weekly catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		periods: map[Recurrence]time.Duration{
			RecurrenceHourly: time.Hour,
			RecurrenceDaily:  24 * time.Hour,
			RecurrenceWeekly: 7 * 24 * time.Hour,
		},
	}
}

// DurationOf returns the period for r, or ErrRecurrenceUnknown for
// one-shot and unknown labels.
func (c *Catalog) DurationOf(r Recurrence) (time.Duration, error) {
	d, ok := c.periods[r]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrRecurrenceUnknown, string(r))
	}
	return d, nil
}

// Parse validates a user supplied label, case-insensitively.
func (c *Catalog) Parse(label string) (Recurrence, error) {
	r := Recurrence(strings.ToLower(strings.TrimSpace(label)))
	if _, err := c.DurationOf(r); err != nil {
		return RecurrenceNone, err
	}
	return r, nil
}

// Labels returns the known labels ordered by period.
func (c *Catalog) Labels() []Recurrence {
	labels := make([]Recurrence, 0, len(c.periods))
	for r := range c.periods {
		labels = append(labels, r)
	}
	sort.Slice(labels, func(i, j int) bool {
		return c.periods[labels[i]] < c.periods[labels[j]]
	})
	return labels
}

// NextAfter returns the smallest prev + k*period, k >= 1, that is strictly
// after now. It uses integer duration division only. period must be positive.
func NextAfter(prev time.Time, period time.Duration, now time.Time) time.Time {
	next := prev.Add(period)
	if next.After(now) {
		return next
	}
	k := now.Sub(prev)/period + 1
	return prev.Add(k * period)
}
