package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
)

// Transmitter sends accepted samples and liveness heartbeats to the backend.
type Transmitter interface {
	Transmit(ctx context.Context, subjectID string, sample models.Sample) error
	Heartbeat(ctx context.Context, subjectID string, at time.Time) error
}

// BackendTransmitter writes samples as the subject's location row.
type BackendTransmitter struct {
	locations repositories.LocationRepository
}

func NewBackendTransmitter(locations repositories.LocationRepository) *BackendTransmitter {
	return &BackendTransmitter{locations: locations}
}

func (t *BackendTransmitter) Transmit(ctx context.Context, subjectID string, sample models.Sample) error {
	return t.locations.Upsert(ctx, &models.SubjectLocation{
		SubjectID: subjectID,
		Location:  sample.Location,
		Movement:  sample.Movement,
		Online:    true,
		Available: true,
		LastPing:  sample.At,
	})
}

func (t *BackendTransmitter) Heartbeat(ctx context.Context, subjectID string, at time.Time) error {
	return t.locations.Touch(ctx, subjectID, at)
}

// TeeTransmitter sends to a primary transmitter and mirrors successful sends
// to a secondary one. Mirror failures are logged and never fail the send.
type TeeTransmitter struct {
	Primary Transmitter
	Mirror  Transmitter
	Logger  *slog.Logger
}

func (t *TeeTransmitter) Transmit(ctx context.Context, subjectID string, sample models.Sample) error {
	if err := t.Primary.Transmit(ctx, subjectID, sample); err != nil {
		return err
	}
	if err := t.Mirror.Transmit(ctx, subjectID, sample); err != nil {
		t.logger().Warn("mirror transmit failed", "subject_id", subjectID, "error", err)
	}
	return nil
}

func (t *TeeTransmitter) Heartbeat(ctx context.Context, subjectID string, at time.Time) error {
	if err := t.Primary.Heartbeat(ctx, subjectID, at); err != nil {
		return err
	}
	if err := t.Mirror.Heartbeat(ctx, subjectID, at); err != nil {
		t.logger().Warn("mirror heartbeat failed", "subject_id", subjectID, "error", err)
	}
	return nil
}

func (t *TeeTransmitter) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
