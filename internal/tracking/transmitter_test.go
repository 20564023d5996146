package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/Kwendataxi/kwenda-sub020/internal/logging"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories/memory"
)

func TestBackendTransmitterWritesLocation(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore().Backend()
	tx := NewBackendTransmitter(b.Locations)

	sample := sampleAt(10, 0)
	sample.Movement = models.Movement{Speed: 7, Heading: 90, Accuracy: 5}
	if err := tx.Transmit(ctx, "s1", sample); err != nil {
		t.Fatal(err)
	}
	if err := tx.Heartbeat(ctx, "s1", t0.Add(20*time.Second)); err != nil {
		t.Fatal(err)
	}

	loc, err := b.Locations.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Location != sample.Location || loc.Movement.Speed != 7 {
		t.Errorf("location = %+v", loc)
	}
	if !loc.LastPing.Equal(t0.Add(20 * time.Second)) {
		t.Errorf("heartbeat did not refresh last ping: %v", loc.LastPing)
	}
}

func TestKafkaTransmitterKeysBySubject(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "s1" {
			return fmt.Errorf("key = %q", key)
		}
		value, _ := msg.Value.Encode()
		var lm LocationMessage
		if err := json.Unmarshal(value, &lm); err != nil {
			return err
		}
		if lm.Kind != "position" || lm.Location == nil {
			return fmt.Errorf("message = %+v", lm)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	tx := NewKafkaTransmitterWithProducer(producer, "subject_locations")
	if err := tx.Transmit(context.Background(), "s1", sampleAt(0, 0)); err != nil {
		t.Fatal(err)
	}
	err := tx.Heartbeat(context.Background(), "s1", t0)
	if !errors.Is(err, models.ErrNetworkUnavailable) {
		t.Errorf("heartbeat err = %v", err)
	}
	if err := tx.Close(); err != nil {
		t.Fatal(err)
	}
}

type failingTransmitter struct{}

func (failingTransmitter) Transmit(context.Context, string, models.Sample) error { return errBoom }
func (failingTransmitter) Heartbeat(context.Context, string, time.Time) error    { return errBoom }

func TestTeeTransmitterIgnoresMirrorFailures(t *testing.T) {
	primary := &recordingTransmitter{}
	tee := &TeeTransmitter{Primary: primary, Mirror: failingTransmitter{}, Logger: logging.Discard()}

	if err := tee.Transmit(context.Background(), "s1", sampleAt(0, 0)); err != nil {
		t.Fatal(err)
	}
	if len(primary.sentSamples()) != 1 {
		t.Error("primary did not receive the sample")
	}

	tee = &TeeTransmitter{Primary: failingTransmitter{}, Mirror: primary, Logger: logging.Discard()}
	if err := tee.Transmit(context.Background(), "s1", sampleAt(0, 0)); !errors.Is(err, errBoom) {
		t.Errorf("primary failure not returned: %v", err)
	}
	if len(primary.sentSamples()) != 1 {
		t.Error("mirror received a sample the primary rejected")
	}
}
