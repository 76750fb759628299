package telegram

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidDelay is returned for a delay whose number cannot be parsed.
	ErrInvalidDelay = errors.New("invalid delay")
	// ErrUnknownUnit is returned for a delay without a known unit suffix.
	ErrUnknownUnit = errors.New("unknown time unit")
	// ErrNegativeDelay is returned for a delay below zero.
	ErrNegativeDelay = errors.New("negative delay")
)

var delayUnits = map[string]time.Duration{
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"hr": time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
}

// ParseDelay parses "<number><unit>" such as 10m, 1.5h or 2hr.
func ParseDelay(arg string) (time.Duration, error) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	if arg == "" {
		return 0, ErrInvalidDelay
	}

	unitKey := arg[len(arg)-1:]
	if _, ok := delayUnits[unitKey]; !ok && len(arg) >= 2 {
		unitKey = arg[len(arg)-2:]
	}
	unit, ok := delayUnits[unitKey]
	if !ok {
		return 0, fmt.Errorf("%q: %w", arg, ErrUnknownUnit)
	}

	value, err := strconv.ParseFloat(strings.TrimSuffix(arg, unitKey), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%q: %w", arg, ErrInvalidDelay)
	}
	if value < 0 {
		return 0, fmt.Errorf("%q: %w", arg, ErrNegativeDelay)
	}

	d := value * float64(unit)
	if d >= math.MaxInt64 {
		return 0, fmt.Errorf("%q: %w", arg, ErrInvalidDelay)
	}
	return time.Duration(d), nil
}

// FormatTimeLeft renders d as "H hours M minutes S seconds", leading zero
// parts omitted. Negative durations render as zero.
func FormatTimeLeft(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var b strings.Builder
	if hours > 0 {
		fmt.Fprintf(&b, "%d hours ", hours)
	}
	if minutes > 0 || hours > 0 {
		fmt.Fprintf(&b, "%d minutes ", minutes)
	}
	fmt.Fprintf(&b, "%d seconds", seconds)
	return b.String()
}

// splitCommand returns the command name without slash or @botname, and the
// whitespace separated arguments.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}

// normalizePayload trims and NFC-normalizes reminder text.
func normalizePayload(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
