package app

import (
	"context"

	"turnip/internal/alarm"
	"turnip/internal/config"
	"turnip/internal/frameloop"
	"turnip/internal/observability/admin"
	"turnip/internal/storage"
)

func mapClock(cfg *config.Config) (frameloop.Config, float64, error) {
	clk, err := cfg.Clock.Resolve()
	if err != nil {
		return frameloop.Config{}, 0, err
	}
	return frameloop.Config{
		FPS:       clk.FPS,
		MaxDelta:  clk.MaxDelta,
		QueueSize: clk.PostQueue,
	}, clk.TimeScale, nil
}

func mapAlarms(cfg *config.Config) (alarm.Config, error) {
	out := alarm.Config{
		Enabled:  cfg.Alarms.Enabled,
		Timezone: cfg.Alarms.Timezone,
		Alarms:   make([]alarm.Def, 0, len(cfg.Alarms.Items)),
	}
	for _, it := range cfg.Alarms.Items {
		d, err := config.ParseDurationField("alarms."+it.Name+".duration", it.Duration)
		if err != nil {
			return alarm.Config{}, err
		}
		out.Alarms = append(out.Alarms, alarm.Def{
			Name:     it.Name,
			Schedule: it.Schedule,
			Duration: d,
			Unscaled: it.Unscaled,
			OnStart:  it.OnStart,
			Then:     it.Then,
		})
	}
	return out, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	st, err := cfg.Storage.Resolve()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: st.Driver, Path: st.Path, BusyTimeout: st.BusyTimeout}, nil
}

func mapAdmin(cfg *config.Config) (admin.Config, error) {
	ad, err := cfg.Admin.Resolve()
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:       ad.Enabled,
		Addr:          ad.Addr,
		Token:         ad.Token,
		AllowInsecure: ad.AllowInsecure,
		PProf:         ad.PProf,
		ReadTimeout:   ad.ReadTimeout,
		WriteTimeout:  ad.WriteTimeout,
		IdleTimeout:   ad.IdleTimeout,
	}, nil
}

// validate is the transactional check run before a config is committed,
// both at startup and on hot reload.
func validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	ac, err := mapAlarms(cfg)
	if err != nil {
		return err
	}
	if err := alarm.Validate(ac); err != nil {
		return err
	}
	if _, _, err := mapClock(cfg); err != nil {
		return err
	}
	_, err = mapStorage(cfg)
	return err
}
