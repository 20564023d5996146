package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/logging"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

var (
	origin = models.Location{Lat: -4.3087, Lon: 15.3032}
	t0     = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type scriptedSampler struct {
	mu      sync.Mutex
	samples []models.Sample
	openErr error
	opened  bool
	closed  bool
}

func (s *scriptedSampler) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true
	return nil
}

// Read hands out the script, then blocks until the session stops.
func (s *scriptedSampler) Read(ctx context.Context, accuracy models.Accuracy) (models.Sample, error) {
	s.mu.Lock()
	if len(s.samples) > 0 {
		next := s.samples[0]
		s.samples = s.samples[1:]
		s.mu.Unlock()
		return next, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return models.Sample{}, ctx.Err()
}

func (s *scriptedSampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSampler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recordingTransmitter struct {
	mu         sync.Mutex
	failures   int
	sent       []models.Sample
	heartbeats []time.Time
}

func (r *recordingTransmitter) Transmit(ctx context.Context, subjectID string, sample models.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return models.ErrNetworkUnavailable
	}
	r.sent = append(r.sent, sample)
	return nil
}

func (r *recordingTransmitter) Heartbeat(ctx context.Context, subjectID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return models.ErrNetworkUnavailable
	}
	r.heartbeats = append(r.heartbeats, at)
	return nil
}

func (r *recordingTransmitter) sentSamples() []models.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Sample(nil), r.sent...)
}

// sampleAt builds a fix northM metres north of origin, offset seconds after t0.
func sampleAt(northM float64, offset time.Duration) models.Sample {
	return models.Sample{
		Location: geo.Offset(origin, northM, 0),
		Battery:  0.8,
		At:       t0.Add(offset),
	}
}

func fastSettings() Settings {
	s := DefaultSettings()
	s.MinInterval = time.Millisecond
	s.InitialBackoff = time.Millisecond
	s.MaxBackoff = 4 * time.Millisecond
	s.TransmitTimeout = time.Second
	return s
}

func fastProfile(role models.Role) Profile {
	p := Profiles[role]
	p.Interval = time.Millisecond
	return p
}

func testConfig() Config {
	return Config{Settings: fastSettings(), Logger: logging.Discard()}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// runningSession returns a session that accepts samples through observe
// without sampling or sending goroutines.
func runningSession(profile Profile, cfg Config) *Session {
	s := NewSession("subject-1", profile, &scriptedSampler{}, &recordingTransmitter{}, cfg)
	s.state = stateRunning
	return s
}

var errBoom = errors.New("boom")
