package tracking

import (
	"fmt"
	"math"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// Profile is the sampling preset of a role.
type Profile struct {
	Role        models.Role
	Interval    time.Duration
	Accuracy    models.Accuracy
	MinMovement float64 // metres
	MaxStale    time.Duration
	BufferSize  int
}

// Profiles holds the built-in presets. Supporting a new role is a new entry.
var Profiles = map[models.Role]Profile{
	models.RoleRecipient: {
		Role:        models.RoleRecipient,
		Interval:    30 * time.Second,
		Accuracy:    models.AccuracyLow,
		MinMovement: 25,
		MaxStale:    2 * time.Minute,
		BufferSize:  100,
	},
	models.RoleCourier: {
		Role:        models.RoleCourier,
		Interval:    5 * time.Second,
		Accuracy:    models.AccuracyHigh,
		MinMovement: 10,
		MaxStale:    time.Minute,
		BufferSize:  500,
	},
	models.RoleDelivery: {
		Role:        models.RoleDelivery,
		Interval:    3 * time.Second,
		Accuracy:    models.AccuracyHigh,
		MinMovement: 10,
		MaxStale:    30 * time.Second,
		BufferSize:  500,
	},
}

// ProfileFor returns the preset of role with any configured overrides applied.
func ProfileFor(role models.Role, overrides map[string]models.ProfileConfig) (Profile, error) {
	p, ok := Profiles[role]
	if !ok {
		return Profile{}, fmt.Errorf("unknown tracking role %q", role)
	}
	o, ok := overrides[string(role)]
	if !ok {
		return p, nil
	}
	if o.Interval > 0 {
		p.Interval = o.Interval
	}
	if o.Accuracy != "" {
		p.Accuracy = models.Accuracy(o.Accuracy)
	}
	if o.MinMovement > 0 {
		p.MinMovement = o.MinMovement
	}
	if o.MaxStale > 0 {
		p.MaxStale = o.MaxStale
	}
	if o.BufferSize > 0 {
		p.BufferSize = o.BufferSize
	}
	return p, nil
}

// Settings are the policy knobs shared by every session.
type Settings struct {
	BatteryThreshold  float64
	BatteryFactor     float64
	SpeedReference    float64 // m/s at which the interval halves
	MinInterval       time.Duration
	MaxInterval       time.Duration
	HeartbeatInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	TransmitTimeout   time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		BatteryThreshold:  0.2,
		BatteryFactor:     2,
		SpeedReference:    5,
		MinInterval:       time.Second,
		MaxInterval:       5 * time.Minute,
		HeartbeatInterval: 20 * time.Second,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		TransmitTimeout:   10 * time.Second,
	}
}

func SettingsFromConfig(cfg models.TrackingConfig) Settings {
	s := DefaultSettings()
	s.BatteryThreshold = cfg.BatteryThreshold
	if cfg.BatteryFactor >= 1 {
		s.BatteryFactor = cfg.BatteryFactor
	}
	if cfg.SpeedReference > 0 {
		s.SpeedReference = cfg.SpeedReference
	}
	if cfg.MinInterval > 0 {
		s.MinInterval = cfg.MinInterval
	}
	if cfg.MaxInterval > 0 {
		s.MaxInterval = cfg.MaxInterval
	}
	if cfg.HeartbeatInterval > 0 {
		s.HeartbeatInterval = cfg.HeartbeatInterval
	}
	if cfg.MaxBackoff > 0 {
		s.MaxBackoff = cfg.MaxBackoff
	}
	return s
}

// NextInterval computes the delay before the next sample. Faster movement
// shortens it, a low battery stretches it.
func (s Settings) NextInterval(p Profile, sample models.Sample) time.Duration {
	interval := float64(p.Interval)

	speed := math.Max(sample.Movement.Speed, 0)
	if s.SpeedReference > 0 {
		interval /= 1 + speed/s.SpeedReference
	}
	if sample.Battery >= 0 && sample.Battery < s.BatteryThreshold {
		interval *= s.BatteryFactor
	}

	d := time.Duration(interval)
	if d < s.MinInterval {
		d = s.MinInterval
	}
	if s.MaxInterval > 0 && d > s.MaxInterval {
		d = s.MaxInterval
	}
	return d
}
