package serv

import (
	"context"
	"time"
)

// startPoller drives periodic metadata reloads. Each tick rebuilds every
// running listener's snapshot and spawns listeners for metadata rows whose
// host:port is not yet served. Removed rows are not torn down; that requires
// an operator restart.
func (s *Service) startPoller(ctx context.Context) {
	ticker := time.NewTicker(s.conf.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	s.mu.Lock()
	running := make([]*ListenerService, 0, len(s.listeners))
	for _, ls := range s.listeners {
		running = append(running, ls)
	}
	s.mu.Unlock()

	for _, ls := range running {
		s.reloadListener(ctx, ls)
	}

	rows, err := loadListeners(ctx, s.metaDB)
	if err != nil {
		s.log.Errorf("poll listeners: %s", err)
		return
	}
	for _, row := range rows {
		if err := s.spawnListener(ctx, row.Config); err != nil {
			s.log.Errorf("spawn listener %s: %s", row.Config.Name, err)
		}
	}
}
