package delivery

import (
	"context"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

func (s *Synchronizer) startFollow(ctx context.Context, source string, filter models.ChangeFilter) {
	s.gen++
	fctx, cancel := context.WithCancel(ctx)
	s.follows[source] = &follower{gen: s.gen, cancel: cancel}
	s.updateConnection()

	s.wg.Add(1)
	go s.follow(fctx, source, s.gen, filter)
}

// follow keeps one subscription open, resubscribing with exponential
// backoff whenever it drops, until ctx is cancelled.
func (s *Synchronizer) follow(ctx context.Context, source string, gen int, filter models.ChangeFilter) {
	defer s.wg.Done()
	logger := s.logger.With("subscription", source)

	failures := 0
	for {
		sub, err := s.backend.Feed.Subscribe(ctx, filter)
		if err == nil {
			if s.pump(ctx, source, gen, sub.Events(), sub.Ready()) {
				failures = 0
			}
			err = sub.Err()
			sub.Close()
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		logger.Warn("subscription lost", "error", err, "attempt", failures)
		if !s.send(ctx, subState{source: source, gen: gen, err: err}) {
			return
		}
		if !sleep(ctx, retryDelay(s.cfg.RetryInitial, s.cfg.RetryMax, failures)) {
			return
		}
	}
}

// pump forwards events until the subscription or ctx ends. It reports
// whether the subscription was confirmed by the backend.
func (s *Synchronizer) pump(ctx context.Context, source string, gen int, events <-chan models.ChangeEvent, ready <-chan struct{}) bool {
	select {
	case <-ready:
	case <-ctx.Done():
		return false
	}
	if !s.send(ctx, subState{source: source, gen: gen, ready: true}) {
		return true
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return true
			}
			if !s.send(ctx, change{source: source, gen: gen, ev: ev}) {
				return true
			}
		case <-ctx.Done():
			return true
		}
	}
}

func (s *Synchronizer) handleSubState(ctx context.Context, m subState) {
	f := s.follows[m.source]
	if f == nil || f.gen != m.gen {
		return
	}
	if m.ready {
		f.ready = true
		if f.lost {
			f.lost = false
			s.logger.Info("subscription restored", "subscription", m.source)
			s.reload(ctx, "resubscribe")
		}
	} else {
		f.ready = false
		f.lost = true
	}
	s.updateConnection()
}

func (s *Synchronizer) updateConnection() {
	status := models.ConnectionConnected
	for _, f := range s.follows {
		if !f.ready {
			status = models.ConnectionConnecting
			break
		}
	}
	if status != s.connection {
		s.logger.Info("connection status changed", "from", s.connection, "to", status)
		s.connection = status
		s.dirty = true
	}
}

func retryDelay(initial, ceiling time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
