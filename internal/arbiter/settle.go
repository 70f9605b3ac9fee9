package arbiter

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/duet/internal/storage"
)

// schedule arms a server-side consumption of pairID after the settle delay,
// replacing any already pending one.
func (s *Service) schedule(pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if p, ok := s.pending[pairID]; ok {
		p.timer.Stop()
	}

	p := &settle{}
	p.timer = time.AfterFunc(s.cfg.SettleDelay, func() { s.fire(pairID, p) })
	s.pending[pairID] = p

	s.logger.Debug().Str("pair_id", pairID).Dur("delay", s.cfg.SettleDelay).Msg("Consumption scheduled")
}

// cancel drops the pending consumption of pairID, if any.
func (s *Service) cancel(pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[pairID]; ok {
		p.timer.Stop()
		delete(s.pending, pairID)
		s.logger.Debug().Str("pair_id", pairID).Msg("Scheduled consumption cancelled")
	}
}

func (s *Service) fire(pairID string, p *settle) {
	s.mu.Lock()
	if s.closed || s.pending[pairID] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, pairID)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), settleConsumeTimeout)
	defer cancel()

	if _, err := s.consume(ctx, pairID, "settle"); err != nil {
		if errors.Is(err, storage.ErrNotReady) {
			// A member consumed or reset first
			s.logger.Debug().Str("pair_id", pairID).Msg("Scheduled consumption found nothing to consume")
			return
		}
		s.logger.Warn().Err(err).Str("pair_id", pairID).Msg("Scheduled consumption failed")
	}
}
