// Package events publishes pipeline state transitions to Kafka.
package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

// KafkaConfig represents the configuration for the Kafka notifier.
type KafkaConfig struct {
	Address  string `mapstructure:"address"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Validate checks that the required connection settings are present.
func (c *KafkaConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("kafka address is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}
	return nil
}

// messageWriter is the slice of kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusEvent is the message published on every pipeline state transition.
type StatusEvent struct {
	PipelineID     string `json:"pipeline_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	BuildURL       string `json:"build_url,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// Notifier publishes StatusEvent messages. It implements pipeline.Notifier.
type Notifier struct {
	writer messageWriter
	logger pipeline.Logger
	now    func() time.Time
}

var _ pipeline.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier with a SASL/SCRAM authenticated writer.
// Plaintext brokers are used when no username is configured.
func NewNotifier(config KafkaConfig, logger pipeline.Logger) (*Notifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	writerConfig := kafka.WriterConfig{
		Brokers:     []string{config.Address},
		Topic:       config.Topic,
		Balancer:    &kafka.LeastBytes{},
		MaxAttempts: 5,
	}
	if config.Username != "" {
		mechanism, err := scram.Mechanism(scram.SHA512, config.Username, config.Password)
		if err != nil {
			return nil, fmt.Errorf("error creating SASL mechanism: %v", err)
		}
		writerConfig.Dialer = &kafka.Dialer{
			SASLMechanism: mechanism,
			TLS: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}

	return NewNotifierWithWriter(kafka.NewWriter(writerConfig), logger), nil
}

// NewNotifierWithWriter creates a Notifier around an existing writer. This
// is primarily useful for testing.
func NewNotifierWithWriter(writer messageWriter, logger pipeline.Logger) *Notifier {
	if logger == nil {
		logger = pipeline.NopLogger()
	}
	return &Notifier{
		writer: writer,
		logger: logger,
		now:    time.Now,
	}
}

// StatusChanged publishes the transition keyed by pipeline identifier.
// Publish failures are logged, not propagated: a broker outage must not
// fail the status read that detected the transition.
func (n *Notifier) StatusChanged(ctx context.Context, id string, from, to pipeline.BuildStatus, buildURL string) {
	event := StatusEvent{
		PipelineID:     id,
		PreviousStatus: string(from),
		Status:         string(to),
		BuildURL:       buildURL,
		Timestamp:      n.now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error(ctx, "Failed to encode status event", err, map[string]interface{}{
			"pipeline_id": id,
		})
		return
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(id),
		Value: payload,
	})
	if err != nil {
		n.logger.Error(ctx, "Failed to publish status event", err, map[string]interface{}{
			"pipeline_id": id,
			"status":      string(to),
		})
		return
	}
	n.logger.Debug(ctx, "Published status event", map[string]interface{}{
		"pipeline_id": id,
		"status":      string(to),
	})
}

// Close flushes and closes the underlying writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}
