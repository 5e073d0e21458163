package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const defaultTopic = "landpay.notifications"

// NewSyncProducer builds a producer that waits for every in-sync replica.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	config := sarama.NewConfig()
	config.ClientID = "landpay"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return sarama.NewSyncProducer(brokers, config)
}

// KafkaNotifier hands messages to the delivery service through a topic.
// Messages are keyed by recipient so one buyer's messages stay ordered.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	now      func() time.Time
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaNotifier {
	if topic == "" {
		topic = defaultTopic
	}
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka_notifier"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (n *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("notification: recipient is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = n.now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	record := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(msg.To),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("template"), Value: []byte(msg.Template)},
		},
	}
	if msg.IdempotencyKey != "" {
		record.Headers = append(record.Headers, sarama.RecordHeader{Key: []byte("idempotency_key"), Value: []byte(msg.IdempotencyKey)})
	}

	partition, offset, err := n.producer.SendMessage(record)
	if err != nil {
		n.logger.Error("failed to publish notification",
			"template", msg.Template,
			"channel", msg.Channel,
			"error", err)
		return fmt.Errorf("publish notification: %w", err)
	}

	n.logger.Info("notification published",
		"template", msg.Template,
		"channel", msg.Channel,
		"message_id", msg.ID,
		"partition", partition,
		"offset", offset)
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
