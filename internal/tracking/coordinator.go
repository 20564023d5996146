package tracking

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// Coordinator owns the tracking sessions of a process, one per subject.
type Coordinator struct {
	cfg      Config
	samplers SamplerFactory
	tx       Transmitter

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewCoordinator(cfg Config, samplers SamplerFactory, tx Transmitter) *Coordinator {
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		samplers: samplers,
		tx:       tx,
		sessions: make(map[string]*Session),
	}
}

// Start begins tracking subjectID in role. A running session for the same
// subject is stopped first.
func (c *Coordinator) Start(ctx context.Context, subjectID string, role models.Role) (*Session, error) {
	profile, err := ProfileFor(role, c.cfg.Overrides)
	if err != nil {
		return nil, err
	}
	sampler, err := c.samplers(subjectID, role)
	if err != nil {
		return nil, fmt.Errorf("create sampler for %s: %w", subjectID, err)
	}

	session := NewSession(subjectID, profile, sampler, c.tx, c.cfg)

	c.mu.Lock()
	previous := c.sessions[subjectID]
	c.sessions[subjectID] = session
	c.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	if err := session.Start(ctx); err != nil {
		c.mu.Lock()
		if c.sessions[subjectID] == session {
			delete(c.sessions, subjectID)
		}
		c.mu.Unlock()
		session.Stop()
		return nil, err
	}
	return session, nil
}

// Stop ends the session of subjectID and reports whether one was running.
func (c *Coordinator) Stop(subjectID string) bool {
	c.mu.Lock()
	session, ok := c.sessions[subjectID]
	delete(c.sessions, subjectID)
	c.mu.Unlock()

	if ok {
		session.Stop()
	}
	return ok
}

func (c *Coordinator) Session(subjectID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[subjectID]
	return s, ok
}

func (c *Coordinator) StopAll() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for id, s := range c.sessions {
		sessions = append(sessions, s)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// Stats returns the statistics of every running session ordered by subject.
func (c *Coordinator) Stats() []Stats {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	stats := make([]Stats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].SubjectID < stats[j].SubjectID })
	return stats
}

// Health summarises every session for the ops endpoint.
func (c *Coordinator) Health() map[string]any {
	sessions := make(map[string]any)
	for _, st := range c.Stats() {
		sessions[st.SubjectID] = map[string]any{
			"role":           st.Role,
			"health":         st.Health,
			"updates":        st.Updates,
			"suppressed":     st.Suppressed,
			"heartbeats":     st.Heartbeats,
			"network_errors": st.NetworkErrors,
			"buffered":       st.Buffered,
			"interval":       st.Interval.String(),
		}
	}
	return map[string]any{"sessions": sessions}
}
