package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/metrics"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateRunning
	stateStopped
)

// Stats is a point-in-time view of a session.
type Stats struct {
	SubjectID       string
	Role            models.Role
	Updates         int
	Suppressed      int
	Heartbeats      int
	NetworkErrors   int
	Dropped         int
	Buffered        int
	Health          models.Health
	Interval        time.Duration
	LastSuccess     time.Time
	Current         *models.Sample
	LastTransmitted *models.Sample
}

// Config carries what every session of a coordinator shares.
type Config struct {
	Settings  Settings
	Overrides map[string]models.ProfileConfig
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Settings == (Settings{}) {
		c.Settings = DefaultSettings()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Session tracks one subject. Sampling and transmission run on separate
// goroutines so a slow or failing backend never delays the next sample.
type Session struct {
	subjectID string
	profile   Profile
	settings  Settings
	sampler   Sampler
	tx        Transmitter
	logger    *slog.Logger
	now       func() time.Time

	mu              sync.Mutex
	state           sessionState
	current         *models.Sample
	lastTransmitted *models.Sample
	lastContact     time.Time
	lastSuccess     time.Time
	heartbeatDue    bool
	interval        time.Duration
	outbox          *outbox
	attempts        attemptWindow
	updates         int
	suppressed      int
	heartbeats      int
	networkErrors   int
	dropped         int

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSession(subjectID string, profile Profile, sampler Sampler, tx Transmitter, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		subjectID: subjectID,
		profile:   profile,
		settings:  cfg.Settings,
		sampler:   sampler,
		tx:        tx,
		logger:    cfg.Logger.With("component", "tracking", "subject_id", subjectID, "role", profile.Role),
		now:       cfg.Now,
		interval:  profile.Interval,
		outbox:    newOutbox(profile.BufferSize),
		wake:      make(chan struct{}, 1),
	}
}

func (s *Session) SubjectID() string { return s.subjectID }
func (s *Session) Profile() Profile  { return s.profile }

// Start acquires the sampler and begins sampling. A refused location
// permission is returned as is and leaves the session stopped.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateStopped:
		s.mu.Unlock()
		return ErrStopped(s.subjectID)
	case stateRunning:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.sampler.Open(ctx); err != nil {
		s.mu.Lock()
		if errors.Is(err, models.ErrPermissionDenied) {
			s.state = stateStopped
		}
		s.mu.Unlock()
		return fmt.Errorf("start tracking %s: %w", s.subjectID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		cancel()
		s.sampler.Close()
		return ErrStopped(s.subjectID)
	}
	s.state = stateRunning
	s.cancel = cancel
	s.lastContact = s.now()
	s.lastSuccess = s.lastContact
	s.mu.Unlock()

	s.wg.Add(2)
	go s.sampleLoop(runCtx)
	go s.sendLoop(runCtx)

	s.logger.Info("tracking started", "interval", s.profile.Interval, "accuracy", s.profile.Accuracy)
	return nil
}

// Stop ends the session for good: timers are cancelled, unsent samples are
// discarded and the sampler is released. Calling it again is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.state == stateRunning
	s.state = stateStopped
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	discarded := s.outbox.clear()
	s.mu.Unlock()

	if wasRunning {
		if err := s.sampler.Close(); err != nil {
			s.logger.Warn("failed to release sampler", "error", err)
		}
	}
	metrics.TrackingBufferedSamples.DeleteLabelValues(s.subjectID)
	s.logger.Info("tracking stopped", "discarded", discarded)
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		SubjectID:     s.subjectID,
		Role:          s.profile.Role,
		Updates:       s.updates,
		Suppressed:    s.suppressed,
		Heartbeats:    s.heartbeats,
		NetworkErrors: s.networkErrors,
		Dropped:       s.dropped,
		Buffered:      s.outbox.len(),
		Interval:      s.interval,
		LastSuccess:   s.lastSuccess,
		Health:        s.healthLocked(),
	}
	if s.current != nil {
		c := *s.current
		st.Current = &c
	}
	if s.lastTransmitted != nil {
		lt := *s.lastTransmitted
		st.LastTransmitted = &lt
	}
	return st
}

func (s *Session) healthLocked() models.Health {
	since := time.Duration(0)
	if !s.lastSuccess.IsZero() {
		since = s.now().Sub(s.lastSuccess)
	}
	return assessHealth(s.attempts.errorRate(), since, s.outbox.occupancy(), s.profile.MaxStale)
}

func (s *Session) sampleLoop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := s.currentInterval()
		sample, err := s.sampler.Read(ctx, s.profile.Accuracy)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			s.logger.Warn("failed to read position", "error", err)
		default:
			next = s.observe(sample)
		}
		timer.Reset(next)
	}
}

func (s *Session) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// observe feeds one sample through delta suppression and returns the delay
// until the next read.
func (s *Session) observe(sample models.Sample) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return s.interval
	}

	current := sample
	s.current = &current
	s.interval = s.settings.NextInterval(s.profile, sample)

	if s.shouldSuppressLocked(sample) {
		s.suppressed++
		metrics.TrackingSamplesTotal.WithLabelValues(string(s.profile.Role), "suppressed").Inc()

		if s.outbox.len() == 0 && s.now().Sub(s.lastContact) >= s.settings.HeartbeatInterval {
			s.heartbeatDue = true
			s.signal()
		}
		return s.interval
	}

	transmitted := sample
	s.lastTransmitted = &transmitted
	if dropped := s.outbox.push(sample); dropped > 0 {
		s.dropped += dropped
		metrics.TrackingSamplesTotal.WithLabelValues(string(s.profile.Role), "dropped").Add(float64(dropped))
		s.logger.Warn("offline buffer full, dropped oldest samples", "dropped", dropped)
	}
	metrics.TrackingBufferedSamples.WithLabelValues(s.subjectID).Set(float64(s.outbox.len()))
	s.signal()
	return s.interval
}

// shouldSuppressLocked compares against the last transmitted sample, never
// against the last observed one, so slow drift still gets reported.
func (s *Session) shouldSuppressLocked(sample models.Sample) bool {
	last := s.lastTransmitted
	if last == nil {
		return false
	}
	moved := geo.DistanceMeters(last.Location, sample.Location)
	elapsed := sample.At.Sub(last.At)
	return moved < s.profile.MinMovement && elapsed < s.profile.MaxStale
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type delivery struct {
	heartbeat bool
	item      queued
}

func (s *Session) nextDelivery() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.outbox.front(); ok {
		return delivery{item: item}, true
	}
	if s.heartbeatDue {
		s.heartbeatDue = false
		return delivery{heartbeat: true}, true
	}
	return delivery{}, false
}

func (s *Session) sendLoop(ctx context.Context) {
	defer s.wg.Done()

	retry := newBackoff(s.settings.InitialBackoff, s.settings.MaxBackoff)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		for {
			d, ok := s.nextDelivery()
			if !ok {
				break
			}

			err := s.deliver(ctx, d)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.recordFailure(err)
				wait := time.NewTimer(retry.next())
				select {
				case <-ctx.Done():
					wait.Stop()
					return
				case <-wait.C:
				}
				continue
			}
			retry.reset()
			s.recordSuccess(d)
		}
	}
}

func (s *Session) deliver(ctx context.Context, d delivery) error {
	ctx, cancel := context.WithTimeout(ctx, s.settings.TransmitTimeout)
	defer cancel()

	if d.heartbeat {
		return s.tx.Heartbeat(ctx, s.subjectID, s.now())
	}
	start := time.Now()
	err := s.tx.Transmit(ctx, s.subjectID, d.item.sample)
	metrics.TrackingTransmitDuration.Observe(time.Since(start).Seconds())
	return err
}

func (s *Session) recordSuccess(d delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts.record(true)
	s.lastContact = s.now()
	s.lastSuccess = s.lastContact
	if d.heartbeat {
		s.heartbeats++
		metrics.TrackingHeartbeatsTotal.WithLabelValues(string(s.profile.Role)).Inc()
		return
	}
	s.outbox.ack(d.item.seq)
	s.updates++
	metrics.TrackingSamplesTotal.WithLabelValues(string(s.profile.Role), "transmitted").Inc()
	metrics.TrackingBufferedSamples.WithLabelValues(s.subjectID).Set(float64(s.outbox.len()))
}

func (s *Session) recordFailure(err error) {
	s.mu.Lock()
	s.attempts.record(false)
	s.networkErrors++
	buffered := s.outbox.len()
	s.mu.Unlock()

	metrics.TrackingNetworkErrorsTotal.WithLabelValues(string(s.profile.Role)).Inc()
	s.logger.Warn("transmission failed", "buffered", buffered, "error", err)
}

// ErrStopped wraps models.ErrSessionStopped with the subject.
func ErrStopped(subjectID string) error {
	return fmt.Errorf("tracking %s: %w", subjectID, models.ErrSessionStopped)
}
