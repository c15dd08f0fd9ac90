package query

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Interval is a sampling granularity. It keeps both the parsed duration
// (for chunk math) and the canonical ISO-8601 rendering the service
// expects on the wire.
type Interval struct {
	d   time.Duration
	iso string
}

// durationPattern accepts the subset of ISO-8601 durations the service
// understands: days, hours, minutes and whole seconds, e.g. "PT5M",
// "PT1H30M", "P1D".
var durationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseInterval parses an ISO-8601 duration such as "PT5M". The result
// must be strictly positive; anything else reports ErrInvalidInterval.
func ParseInterval(s string) (Interval, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return Interval{}, fmt.Errorf("%w: %q is not an ISO-8601 duration", ErrInvalidInterval, s)
	}
	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
		}
		d += time.Duration(n) * unit
	}
	if d <= 0 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return Interval{d: d, iso: s}, nil
}

// IntervalOf wraps a duration, rendering its canonical ISO form.
// Sub-second components are truncated.
func IntervalOf(d time.Duration) Interval {
	return Interval{d: d, iso: formatISO(d)}
}

// Duration returns the parsed length of the interval.
func (iv Interval) Duration() time.Duration { return iv.d }

// String returns the ISO-8601 rendering sent on the wire.
func (iv Interval) String() string { return iv.iso }

func formatISO(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	out := "P"
	if days > 0 {
		out += strconv.FormatInt(days, 10) + "D"
	}
	if hours > 0 || minutes > 0 || seconds > 0 || days == 0 {
		out += "T"
		if hours > 0 {
			out += strconv.FormatInt(hours, 10) + "H"
		}
		if minutes > 0 {
			out += strconv.FormatInt(minutes, 10) + "M"
		}
		if seconds > 0 || (days == 0 && hours == 0 && minutes == 0) {
			out += strconv.FormatInt(seconds, 10) + "S"
		}
	}
	return out
}
