package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_DurationOf(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		name    string
		r       Recurrence
		want    time.Duration
		wantErr bool
	}{
		{name: "hourly", r: RecurrenceHourly, want: time.Hour},
		{name: "daily", r: RecurrenceDaily, want: 24 * time.Hour},
		{name: "weekly", r: RecurrenceWeekly, want: 168 * time.Hour},
		{name: "none", r: RecurrenceNone, wantErr: true},
		{name: "unknown", r: Recurrence("monthly"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.DurationOf(tt.r)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrRecurrenceUnknown))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalog_Parse(t *testing.T) {
	c := DefaultCatalog()

	r, err := c.Parse(" Daily ")
	require.NoError(t, err)
	assert.Equal(t, RecurrenceDaily, r)

	_, err = c.Parse("fortnightly")
	assert.ErrorIs(t, err, ErrRecurrenceUnknown)

	_, err = c.Parse("")
	assert.ErrorIs(t, err, ErrRecurrenceUnknown)
}

func TestCatalog_Labels(t *testing.T) {
	assert.Equal(t,
		[]Recurrence{RecurrenceHourly, RecurrenceDaily, RecurrenceWeekly},
		DefaultCatalog().Labels())
}

func TestRecurrence_IsRecurring(t *testing.T) {
	assert.False(t, RecurrenceNone.IsRecurring())
	assert.True(t, RecurrenceHourly.IsRecurring())
	assert.True(t, Recurrence("garbage").IsRecurring())
	assert.Equal(t, "once", RecurrenceNone.String())
	assert.True(t, Record{Recurrence: RecurrenceWeekly}.IsRecurring())
}

func TestNextAfter(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		prev   time.Time
		period time.Duration
		now    time.Time
		want   time.Time
	}{
		{
			name:   "punctual fire advances one period",
			prev:   t0,
			period: time.Hour,
			now:    t0,
			want:   t0.Add(time.Hour),
		},
		{
			name:   "future prev still advances one period",
			prev:   t0,
			period: time.Hour,
			now:    t0.Add(-time.Minute),
			want:   t0.Add(time.Hour),
		},
		{
			name:   "three and a half hours missed",
			prev:   t0,
			period: time.Hour,
			now:    t0.Add(3*time.Hour + 30*time.Minute),
			want:   t0.Add(4 * time.Hour),
		},
		{
			name:   "exact multiple lands strictly after now",
			prev:   t0,
			period: 24 * time.Hour,
			now:    t0.Add(48 * time.Hour),
			want:   t0.Add(72 * time.Hour),
		},
		{
			name:   "weekly with nanosecond remainder",
			prev:   t0,
			period: 7 * 24 * time.Hour,
			now:    t0.Add(7*24*time.Hour + time.Nanosecond),
			want:   t0.Add(14 * 24 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextAfter(tt.prev, tt.period, tt.now)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestNextAfter_CatchUpProperty(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periods := []time.Duration{time.Hour, 24 * time.Hour, 7 * 24 * time.Hour}
	remainders := []time.Duration{0, time.Nanosecond, 17 * time.Minute}

	for _, p := range periods {
		for n := 1; n <= 5; n++ {
			for _, r := range remainders {
				if r >= p {
					continue
				}
				now := t0.Add(time.Duration(n)*p + r)
				got := NextAfter(t0, p, now)
				assert.Equal(t, t0.Add(time.Duration(n+1)*p), got, "p=%s n=%d r=%s", p, n, r)
			}
		}
	}
}
