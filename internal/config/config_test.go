package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
clock:
  fps: 30
  max_delta: 100ms
  time_scale: 0
alarms:
  enabled: true
  timezone: UTC
  items:
    - name: five
      schedule: "@every 10m"
      duration: 5s
      then: one
    - name: one
      duration: 1s
storage:
  driver: sqlite
  path: ./x.db
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("turnip.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if len(cfg.Alarms.Items) != 2 || cfg.Alarms.Items[0].Then != "one" {
		t.Fatalf("alarms = %+v", cfg.Alarms.Items)
	}
	clk, err := cfg.Clock.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if clk.FPS != 30 || clk.MaxDelta != 100*time.Millisecond || clk.TimeScale != 0 || clk.PostQueue != DefaultPostQueue {
		t.Fatalf("clock = %+v", clk)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, path, body string
	}{
		{"unknown json", "c.json", `{"clock":{"fps":10},"nope":1}`},
		{"unknown yaml", "c.yml", "clock:\n  fps: 10\n  tick: 3\n"},
		{"trailing", "c.json", `{"clock":{}} {"clock":{}}`},
		{"bad yaml", "c.yaml", "clock: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.path, []byte(tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestClockDefaults(t *testing.T) {
	t.Parallel()
	clk, err := ClockConfig{}.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := Clock{FPS: DefaultFPS, MaxDelta: DefaultMaxDelta, TimeScale: 1, PostQueue: DefaultPostQueue}
	if clk != want {
		t.Fatalf("got %+v want %+v", clk, want)
	}

	neg := -1.0
	if _, err := (ClockConfig{TimeScale: &neg}).Resolve(); err == nil {
		t.Fatalf("negative time scale accepted")
	}
	if _, err := (ClockConfig{FPS: -5}).Resolve(); err == nil {
		t.Fatalf("negative fps accepted")
	}
	if _, err := (ClockConfig{MaxDelta: "soon"}).Resolve(); err == nil {
		t.Fatalf("bad max_delta accepted")
	}
}

func TestStorageResolve(t *testing.T) {
	t.Parallel()
	var nilCfg *StorageConfig
	st, err := nilCfg.Resolve()
	if err != nil || st.Driver != "none" {
		t.Fatalf("nil storage = %+v, %v", st, err)
	}
	st, err = (&StorageConfig{Driver: "File"}).Resolve()
	if err != nil || st.Driver != "file" || st.Path == "" || st.BusyTimeout != DefaultBusyTimeout {
		t.Fatalf("file storage = %+v, %v", st, err)
	}
	if _, err := (&StorageConfig{Driver: "postgres"}).Resolve(); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"level", Config{Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
		{"missing name", Config{Alarms: AlarmsConfig{Items: []AlarmItem{{Duration: "1s"}}}}, ".name: required"},
		{"duplicate", Config{Alarms: AlarmsConfig{Items: []AlarmItem{{Name: "a", Duration: "1s"}, {Name: "a", Duration: "2s"}}}}, "duplicate"},
		{"duration", Config{Alarms: AlarmsConfig{Items: []AlarmItem{{Name: "a", Duration: "-1s"}}}}, ">= 0"},
		{"then", Config{Alarms: AlarmsConfig{Items: []AlarmItem{{Name: "a", Duration: "1s", Then: "b"}}}}, `unknown alarm "b"`},
		{"timezone", Config{Alarms: AlarmsConfig{Timezone: "Mars/Olympus"}}, "alarms.timezone"},
		{"watchdog", Config{Systemd: SystemdConfig{Watchdog: true}}, "requires systemd.notify"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Alarms: AlarmsConfig{Items: []AlarmItem{
			{Name: "a", Duration: "1s"},
			{Name: "b", Duration: "2s"},
		}},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Alarms: AlarmsConfig{Items: []AlarmItem{
			{Name: "a", Duration: "1s"},
			{Name: "b", Duration: "3s"},
			{Name: "c", Duration: "1m"},
		}},
	}
	changed, attrs, alarms := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "logging,alarms" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
	if strings.Join(alarms, ",") != "b,c" {
		t.Fatalf("alarms = %v", alarms)
	}

	changed, _, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "turnip.json")
	if err := os.WriteFile(path, []byte(`{"clock":{"fps":20}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || cfg.Clock.FPS != 20 {
		t.Fatalf("Get() mismatch")
	}

	ch := m.Subscribe(1)
	if m.reload(context.Background()) {
		t.Fatalf("unchanged file must not publish")
	}

	if err := os.WriteFile(path, []byte(`{"clock":{"fps":40}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, c *Config) error { return Validate(c) })
	if !m.reload(context.Background()) {
		t.Fatalf("changed file must publish")
	}
	select {
	case got := <-ch:
		if got.Clock.FPS != 40 {
			t.Fatalf("published fps = %d", got.Clock.FPS)
		}
	default:
		t.Fatalf("nothing published")
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"loud"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if m.reload(context.Background()) {
		t.Fatalf("invalid config must be rejected")
	}
	if m.Get().Clock.FPS != 40 {
		t.Fatalf("rejected config was committed")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("subscriber got stale config")
	}
}

func TestFormatAndEmptyYAML(t *testing.T) {
	t.Parallel()
	for path, want := range map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatJSON,
		"a":      FormatJSON,
	} {
		if got := FormatOf(path); got != want {
			t.Fatalf("FormatOf(%q) = %q, want %q", path, got, want)
		}
	}
	cfg, err := Decode("empty.yaml", nil)
	if err != nil {
		t.Fatalf("Decode empty yaml: %v", err)
	}
	if len(cfg.Alarms.Items) != 0 || cfg.Storage != nil {
		t.Fatalf("empty config = %+v", cfg)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{"", time.Second, time.Second, false},
		{"0s", time.Second, time.Second, false},
		{" 5m ", time.Second, 5 * time.Minute, false},
		{"-1s", time.Second, 0, true},
		{"soon", time.Second, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, tt.def)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("%q: got %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestAdminResolve(t *testing.T) {
	t.Parallel()
	ad, err := AdminConfig{Enabled: true, Addr: " 127.0.0.1:9 ", ReadTimeout: "2s"}.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ad.Addr != "127.0.0.1:9" || ad.ReadTimeout != 2*time.Second || ad.WriteTimeout != 0 {
		t.Fatalf("admin = %+v", ad)
	}
	if _, err := (AdminConfig{IdleTimeout: "x"}).Resolve(); err == nil {
		t.Fatal("expected error for bad idle_timeout")
	}
}

func TestWatchPicksUpEditsMadeBeforeItStarted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "turnip.json")
	if err := os.WriteFile(path, []byte(`{"clock":{"fps":20}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	if err := os.WriteFile(path, []byte(`{"clock":{"fps":30}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	select {
	case got := <-ch:
		if got.Clock.FPS != 30 {
			t.Fatalf("published fps = %d", got.Clock.FPS)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("edit made before Watch was never published")
	}
}
