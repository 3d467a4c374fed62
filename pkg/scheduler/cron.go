package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// maxCronSearchMinutes bounds the search for the next matching minute.
const maxCronSearchMinutes = 5 * 366 * 24 * 60

var scheduleAliases = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
}

// cronSet has bit n set when value n matches.
type cronSet uint64

func (s cronSet) has(value int) bool {
	return s&(1<<uint(value)) != 0
}

type cronSchedule struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronSet
	anyDayOfMonth, anyDayOfWeek                bool
}

// nextRun returns the first run of schedule strictly after now, in UTC.
// schedule is "@every <duration>", an alias such as "@daily", or a
// five-field cron expression evaluated in loc.
func nextRun(schedule string, now time.Time, loc *time.Location) (time.Time, error) {
	schedule = strings.TrimSpace(schedule)
	if raw, ok := strings.CutPrefix(schedule, "@every "); ok {
		interval, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return time.Time{}, schedulerError(ErrValidation, fmt.Sprintf("invalid @every duration %q", raw))
		}
		if interval <= 0 {
			return time.Time{}, schedulerError(ErrValidation, "@every duration must be > 0")
		}
		return now.Add(interval).UTC(), nil
	}
	if expanded, ok := scheduleAliases[schedule]; ok {
		schedule = expanded
	}

	cron, err := parseCron(schedule)
	if err != nil {
		return time.Time{}, err
	}
	candidate := now.In(loc).Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < maxCronSearchMinutes; i++ {
		if cron.matches(candidate) {
			return candidate.UTC(), nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, schedulerError(ErrValidation, fmt.Sprintf("no run found for schedule %q", schedule))
}

func parseCron(expr string) (*cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, schedulerError(ErrValidation, fmt.Sprintf("unsupported schedule format %q", expr))
	}
	bounds := []struct {
		name   string
		lo, hi int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day-of-month", 1, 31},
		{"month", 1, 12},
		{"day-of-week", 0, 7},
	}
	sets := make([]cronSet, len(fields))
	for i, bound := range bounds {
		set, err := parseCronField(fields[i], bound.lo, bound.hi)
		if err != nil {
			return nil, schedulerError(ErrValidation, fmt.Sprintf("invalid %s field %q: %v", bound.name, fields[i], err))
		}
		sets[i] = set
	}
	// Sunday is both 0 and 7.
	if sets[4].has(7) {
		sets[4] |= 1
		sets[4] &^= 1 << 7
	}
	return &cronSchedule{
		minute:        sets[0],
		hour:          sets[1],
		dayOfMonth:    sets[2],
		month:         sets[3],
		dayOfWeek:     sets[4],
		anyDayOfMonth: fields[2] == "*",
		anyDayOfWeek:  fields[4] == "*",
	}, nil
}

// parseCronField accepts "*", values, ranges "a-b" and steps "x/n" joined by
// commas.
func parseCronField(raw string, lo, hi int) (cronSet, error) {
	var set cronSet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return 0, fmt.Errorf("empty segment")
		}
		base, step := part, 1
		if before, after, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(after)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", after)
			}
			base, step = before, n
		}

		start, end := lo, hi
		switch {
		case base == "*" || base == "":
		case strings.Contains(base, "-"):
			from, to, _ := strings.Cut(base, "-")
			var err error
			if start, err = strconv.Atoi(from); err != nil {
				return 0, fmt.Errorf("invalid range start %q", from)
			}
			if end, err = strconv.Atoi(to); err != nil {
				return 0, fmt.Errorf("invalid range end %q", to)
			}
		default:
			value, err := strconv.Atoi(base)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", base)
			}
			start, end = value, value
			if step > 1 {
				end = hi
			}
		}
		if start < lo || end > hi || start > end {
			return 0, fmt.Errorf("range %d-%d outside [%d,%d]", start, end, lo, hi)
		}
		for v := start; v <= end; v += step {
			set |= 1 << uint(v)
		}
	}
	if bits.OnesCount64(uint64(set)) == 0 {
		return 0, fmt.Errorf("no values")
	}
	return set, nil
}

// matches follows cron semantics: when both day fields are restricted a day
// matching either one fires.
func (c *cronSchedule) matches(t time.Time) bool {
	if !c.minute.has(t.Minute()) || !c.hour.has(t.Hour()) || !c.month.has(int(t.Month())) {
		return false
	}
	dom := c.dayOfMonth.has(t.Day())
	dow := c.dayOfWeek.has(int(t.Weekday()))
	switch {
	case c.anyDayOfMonth && c.anyDayOfWeek:
		return true
	case c.anyDayOfMonth:
		return dow
	case c.anyDayOfWeek:
		return dom
	default:
		return dom || dow
	}
}
