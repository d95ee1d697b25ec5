package config

import (
	"reflect"
	"sort"
	"strings"

	logx "turnip/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, structured
// attrs for the reload log line and the names of alarms that were added,
// removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Clock, newCfg.Clock) {
		changed = append(changed, "clock")
		if c, err := newCfg.Clock.Resolve(); err == nil {
			attrs = append(attrs,
				logx.Int("clock.fps", c.FPS),
				logx.Duration("clock.max_delta", c.MaxDelta),
				logx.Float64("clock.time_scale", c.TimeScale),
			)
		}
	}

	alarms := diffAlarms(oldCfg.Alarms.Items, newCfg.Alarms.Items)
	if oldCfg.Alarms.Enabled != newCfg.Alarms.Enabled ||
		strings.TrimSpace(oldCfg.Alarms.Timezone) != strings.TrimSpace(newCfg.Alarms.Timezone) ||
		len(alarms) > 0 {
		changed = append(changed, "alarms")
		attrs = append(attrs,
			logx.Bool("alarms.enabled", newCfg.Alarms.Enabled),
			logx.String("alarms.timezone", strings.TrimSpace(newCfg.Alarms.Timezone)),
			logx.Int("alarms.count", len(newCfg.Alarms.Items)),
			logx.Int("alarms.changed", len(alarms)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		st, _ := newCfg.Storage.Resolve()
		attrs = append(attrs,
			logx.String("storage.driver", st.Driver),
			logx.Bool("storage.path_set", st.Path != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.Addr),
			logx.Bool("admin.pprof", newCfg.Admin.PProf),
			logx.Bool("admin.token_set", newCfg.Admin.Token != ""),
		)
	}

	return changed, attrs, alarms
}

func diffAlarms(oldItems, newItems []AlarmItem) []string {
	index := func(items []AlarmItem) map[string]AlarmItem {
		m := make(map[string]AlarmItem, len(items))
		for _, it := range items {
			m[strings.TrimSpace(it.Name)] = it
		}
		return m
	}
	om, nm := index(oldItems), index(newItems)

	out := make([]string, 0)
	for name, n := range nm {
		if o, ok := om[name]; !ok || o != n {
			out = append(out, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
