package tracking

import (
	"context"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// Sampler is a position source on the device.
type Sampler interface {
	// Open acquires the device. It returns an error wrapping
	// models.ErrPermissionDenied when location access is refused.
	Open(ctx context.Context) error
	Read(ctx context.Context, accuracy models.Accuracy) (models.Sample, error)
	Close() error
}

// SamplerFactory builds the sampler for a subject.
type SamplerFactory func(subjectID string, role models.Role) (Sampler, error)
