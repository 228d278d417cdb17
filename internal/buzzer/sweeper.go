// internal/buzzer/sweeper.go
package buzzer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically applies the reaper to every stored lobby, so abandoned
// lobbies are removed even when nobody polls them.
type Sweeper struct {
	engine   *Engine
	clock    clockwork.Clock
	interval time.Duration
	log      logrus.FieldLogger
}

// NewSweeper returns a sweeper that runs every interval on the engine's clock.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   engine,
		clock:    engine.clock,
		interval: interval,
		log:      engine.log.WithField("component", "sweeper"),
	}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("lobby sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("lobby sweeper stopped")
			return
		case <-ticker.Chan():
			n, err := s.engine.SweepAll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.WithError(err).Warn("sweep pass failed")
				}
				continue
			}
			s.log.WithField("lobbies", n).Debug("sweep pass done")
		}
	}
}
