package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"readiness-quiz-service/internal/domain"
)

// TopicTestResultRecorded carries one message per scored attempt.
const TopicTestResultRecorded = "test_result.recorded"

const (
	eventSource  = "readiness-quiz-service"
	eventVersion = "1"
)

// TestResultEvent is the envelope published for every recorded result.
type TestResultEvent struct {
	ID        string                  `json:"id"`
	Type      string                  `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Source    string                  `json:"source"`
	Version   string                  `json:"version"`
	Data      domain.TestResultRecord `json:"data"`
}

// ResultPublisher is a result sink that publishes to a watermill topic.
type ResultPublisher struct {
	publisher message.Publisher
	topic     string
	logger    *zap.Logger
	now       func() time.Time
}

func NewResultPublisher(publisher message.Publisher, topic string, logger *zap.Logger) *ResultPublisher {
	if topic == "" {
		topic = TopicTestResultRecorded
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultPublisher{publisher: publisher, topic: topic, logger: logger, now: time.Now}
}

func (p *ResultPublisher) SubmitTestResult(ctx context.Context, record domain.TestResultRecord) error {
	event := TestResultEvent{
		ID:        uuid.NewString(),
		Type:      TopicTestResultRecorded,
		Timestamp: p.now().UTC(),
		Source:    eventSource,
		Version:   eventVersion,
		Data:      record,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal result event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", event.Type)
	msg.Metadata.Set("source", event.Source)
	msg.Metadata.Set("version", event.Version)
	msg.Metadata.Set("attempt_id", record.AttemptID)
	// kafka partitions by this key, keeping one user's results ordered
	msg.Metadata.Set("partition_key", record.UserID)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		p.logger.Error("publish result event failed",
			zap.String("event_id", event.ID),
			zap.String("attempt_id", record.AttemptID),
			zap.Error(err))
		return fmt.Errorf("publish result event: %w", err)
	}
	p.logger.Debug("published result event",
		zap.String("event_id", event.ID),
		zap.String("attempt_id", record.AttemptID),
		zap.String("topic", p.topic))
	return nil
}

func (p *ResultPublisher) Close() error {
	return p.publisher.Close()
}

// Config selects the publisher backend.
type Config struct {
	Enabled      bool
	Publisher    string // kafka or gochannel
	KafkaBrokers []string
	Topic        string
}

// NewPublisher builds the watermill publisher named by cfg. Unknown or disabled backends
// fall back to an in-process gochannel so results are still observable locally.
func NewPublisher(cfg Config, logger *zap.Logger) (message.Publisher, error) {
	wmLogger := NewZapLogger(logger)
	if !cfg.Enabled || cfg.Publisher != "kafka" {
		return NewGoChannel(wmLogger), nil
	}
	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		Marshaler: kafka.NewWithPartitioningMarshaler(partitionKey),
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return pub, nil
}

// NewGoChannel returns an in-process pub/sub.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64, Persistent: true}, logger)
}

func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get("partition_key"), nil
}

// Decode parses a published payload back into its event.
func Decode(msg *message.Message) (TestResultEvent, error) {
	var event TestResultEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return TestResultEvent{}, fmt.Errorf("decode result event: %w", err)
	}
	return event, nil
}
