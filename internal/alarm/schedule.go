package alarm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type TriggerKind int

const (
	TriggerCron TriggerKind = iota
	TriggerInterval
)

// Trigger is a parsed schedule string.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 9 * * *" (seconds optional), "@hourly", "@every 55m"
//   - Go duration interval: "55m", "2h30m"
//   - HH:MM interval: "00:50" (50 minutes), "02:30"
//
// "cron:" forces cron parsing; "interval:" and "every:" force an interval.
type Trigger struct {
	Kind   TriggerKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

// Spec is the cron spec registered for the trigger.
func (t Trigger) Spec() string {
	if t.Kind == TriggerInterval {
		return "@every " + t.Every.String()
	}
	return t.Cron
}

// interval reports the fixed period of interval triggers and of cron
// "@every" descriptors.
func (t Trigger) interval() (time.Duration, bool) {
	if t.Kind == TriggerInterval {
		return t.Every, t.Every > 0
	}
	rest, ok := strings.CutPrefix(t.Cron, "@every")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	return d, err == nil && d > 0
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func ParseSchedule(raw string) (Trigger, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if rest, ok := cutPrefixFold(s, low, "cron:"); ok {
		if rest == "" {
			return Trigger{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Trigger{Kind: TriggerCron, Cron: rest, Source: "cron"}, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if rest, ok := cutPrefixFold(s, low, p); ok {
			return parseInterval(rest)
		}
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Trigger{Kind: TriggerCron, Cron: s, Source: "cron"}, nil
	}
	if reHHMM.MatchString(s) {
		return parseInterval(s)
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Trigger{}, fmt.Errorf("interval must be > 0")
		}
		return Trigger{Kind: TriggerInterval, Every: d, Source: "duration"}, nil
	}
	return Trigger{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func cutPrefixFold(s, low, prefix string) (string, bool) {
	if !strings.HasPrefix(low, prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func parseInterval(v string) (Trigger, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Trigger{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Trigger{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Trigger{}, fmt.Errorf("interval must be > 0")
		}
		return Trigger{Kind: TriggerInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return Trigger{}, fmt.Errorf("interval must be > 0")
	}
	return Trigger{Kind: TriggerInterval, Every: d, Source: "duration"}, nil
}
