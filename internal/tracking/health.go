package tracking

import (
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

const attemptWindowSize = 20

// attemptWindow remembers the outcome of the most recent transmissions.
type attemptWindow struct {
	outcomes [attemptWindowSize]bool
	n        int
	pos      int
}

func (w *attemptWindow) record(ok bool) {
	w.outcomes[w.pos] = ok
	w.pos = (w.pos + 1) % attemptWindowSize
	if w.n < attemptWindowSize {
		w.n++
	}
}

func (w *attemptWindow) errorRate() float64 {
	if w.n == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < w.n; i++ {
		if !w.outcomes[i] {
			failed++
		}
	}
	return float64(failed) / float64(w.n)
}

// assessHealth buckets a session from its recent error rate, the time since
// its last successful contact and how full its buffer is. maxStale is the
// profile's staleness bound and scales the time thresholds.
func assessHealth(errorRate float64, sinceSuccess time.Duration, occupancy float64, maxStale time.Duration) models.Health {
	switch {
	case occupancy >= 0.9 || errorRate >= 0.5 || sinceSuccess > 4*maxStale:
		return models.HealthCritical
	case occupancy >= 0.5 || errorRate >= 0.2 || sinceSuccess > 2*maxStale:
		return models.HealthDegraded
	case occupancy > 0.1 || errorRate > 0 || sinceSuccess > maxStale:
		return models.HealthGood
	default:
		return models.HealthExcellent
	}
}
