package tracking

import (
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

func TestOutboxDropsOldest(t *testing.T) {
	o := newOutbox(3)
	dropped := 0
	for i := 0; i < 5; i++ {
		dropped += o.push(sampleAt(float64(i*100), time.Duration(i)*time.Second))
	}
	if dropped != 2 || o.len() != 3 {
		t.Fatalf("dropped = %d, len = %d", dropped, o.len())
	}
	head, _ := o.front()
	if !head.sample.At.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("head is sample at %v, want the third", head.sample.At)
	}

	o.ack(head.seq + 1)
	if o.len() != 3 {
		t.Error("ack of a non-head sequence removed a sample")
	}
	o.ack(head.seq)
	if o.len() != 2 {
		t.Error("ack of the head did not remove it")
	}
	if o.clear() != 2 || o.len() != 0 {
		t.Error("clear did not empty the outbox")
	}
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	b := newBackoff(500*time.Millisecond, 30*time.Second)
	want := []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := b.next(); got != w {
			t.Fatalf("step %d: got %v, want %v", i, got, w)
		}
	}
	b.reset()
	if got := b.next(); got != 500*time.Millisecond {
		t.Errorf("after reset got %v", got)
	}
}

func TestAssessHealth(t *testing.T) {
	maxStale := 30 * time.Second
	tests := []struct {
		name      string
		errRate   float64
		since     time.Duration
		occupancy float64
		want      models.Health
	}{
		{"all good", 0, 5 * time.Second, 0, models.HealthExcellent},
		{"occasional error", 0.05, 5 * time.Second, 0, models.HealthGood},
		{"quiet for a while", 0, 45 * time.Second, 0, models.HealthGood},
		{"buffer half full", 0, 5 * time.Second, 0.6, models.HealthDegraded},
		{"frequent errors", 0.3, 5 * time.Second, 0, models.HealthDegraded},
		{"mostly failing", 0.7, 5 * time.Second, 0, models.HealthCritical},
		{"buffer nearly full", 0, 5 * time.Second, 0.95, models.HealthCritical},
		{"silent for minutes", 0, 3 * time.Minute, 0, models.HealthCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := assessHealth(tt.errRate, tt.since, tt.occupancy, maxStale); got != tt.want {
				t.Errorf("assessHealth = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAttemptWindowKeepsRecentOutcomes(t *testing.T) {
	var w attemptWindow
	for i := 0; i < attemptWindowSize; i++ {
		w.record(false)
	}
	if w.errorRate() != 1 {
		t.Fatalf("error rate = %v", w.errorRate())
	}
	for i := 0; i < attemptWindowSize; i++ {
		w.record(true)
	}
	if w.errorRate() != 0 {
		t.Errorf("old failures still counted: %v", w.errorRate())
	}
}
