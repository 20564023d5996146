package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// LocationMessage is the record published for every transmitted sample or
// heartbeat.
type LocationMessage struct {
	SubjectID string           `json:"subject_id"`
	Kind      string           `json:"kind"` // "position" or "heartbeat"
	Location  *models.Location `json:"location,omitempty"`
	Movement  *models.Movement `json:"movement,omitempty"`
	Battery   float64          `json:"battery,omitempty"`
	At        time.Time        `json:"at"`
}

// KafkaTransmitter publishes location updates keyed by subject so a subject's
// updates stay on one partition.
type KafkaTransmitter struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaTransmitter(cfg models.KafkaConfig) (*KafkaTransmitter, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = true // Must be true for SyncProducer
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second

	brokerList := cfg.Brokers()
	producer, err := sarama.NewSyncProducer(brokerList, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama producer: %w", err)
	}

	slog.Info("kafka producer created", "brokers", brokerList, "topic", cfg.LocationTopic)
	return NewKafkaTransmitterWithProducer(producer, cfg.LocationTopic), nil
}

func NewKafkaTransmitterWithProducer(producer sarama.SyncProducer, topic string) *KafkaTransmitter {
	return &KafkaTransmitter{producer: producer, topic: topic}
}

func (k *KafkaTransmitter) Transmit(ctx context.Context, subjectID string, sample models.Sample) error {
	return k.send(subjectID, LocationMessage{
		SubjectID: subjectID,
		Kind:      "position",
		Location:  &sample.Location,
		Movement:  &sample.Movement,
		Battery:   sample.Battery,
		At:        sample.At,
	})
}

func (k *KafkaTransmitter) Heartbeat(ctx context.Context, subjectID string, at time.Time) error {
	return k.send(subjectID, LocationMessage{SubjectID: subjectID, Kind: "heartbeat", At: at})
}

func (k *KafkaTransmitter) send(subjectID string, msg LocationMessage) error {
	if k.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(subjectID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("send to topic %s: %w: %v", k.topic, models.ErrNetworkUnavailable, err)
	}
	return nil
}

func (k *KafkaTransmitter) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
