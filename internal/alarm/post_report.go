package alarm

import (
	"errors"
	"time"

	"turnip/internal/frameloop"
	logx "turnip/pkg/logx"
)

const postWarnThrottle = 5 * time.Second

// reportPostError logs a failed arm post at most once per alarm every
// postWarnThrottle. Posts after shutdown are expected and logged at debug.
func (s *Service) reportPostError(name string, err error) {
	if errors.Is(err, frameloop.ErrStopped) {
		s.log.Debug("alarm trigger after loop stop", logx.String("alarm", name))
		return
	}

	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < postWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()

	s.log.Warn("alarm trigger dropped", logx.String("alarm", name), logx.Err(err))
}
