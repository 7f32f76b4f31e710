package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

type fakeWriter struct {
	messages []kafka.Message
	writeErr error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestValidateConfig(t *testing.T) {
	config := &KafkaConfig{Topic: "qa-events"}
	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "kafka address is required")

	config = &KafkaConfig{Address: "localhost:9092"}
	err = config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "kafka topic is required")

	config = &KafkaConfig{Address: "localhost:9092", Topic: "qa-events"}
	assert.NoError(t, config.Validate())
}

func TestStatusChanged(t *testing.T) {
	writer := &fakeWriter{}
	notifier := NewNotifierWithWriter(writer, nil)
	notifier.now = func() time.Time {
		return time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	}

	notifier.StatusChanged(context.Background(), "pipe-1",
		pipeline.StatusRunning, pipeline.StatusSuccess, "https://ci.example/job/1")

	assert.Len(t, writer.messages, 1)
	assert.Equal(t, "pipe-1", string(writer.messages[0].Key))

	var event StatusEvent
	assert.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	assert.Equal(t, "pipe-1", event.PipelineID)
	assert.Equal(t, "running", event.PreviousStatus)
	assert.Equal(t, "success", event.Status)
	assert.Equal(t, "https://ci.example/job/1", event.BuildURL)
	assert.Equal(t, "2024-04-01T10:00:00Z", event.Timestamp)
}

type recordingLogger struct {
	pipeline.Logger
	errs []error
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{Logger: pipeline.NopLogger()}
}

func (r *recordingLogger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	r.errs = append(r.errs, err)
}

func TestStatusChangedSwallowsWriteErrors(t *testing.T) {
	writer := &fakeWriter{writeErr: fmt.Errorf("broker unavailable")}
	log := newRecordingLogger()
	notifier := NewNotifierWithWriter(writer, log)

	// Must not panic or propagate the error.
	notifier.StatusChanged(context.Background(), "pipe-1",
		pipeline.StatusQueued, pipeline.StatusRunning, "")
	assert.Empty(t, writer.messages)

	assert.Len(t, log.errs, 1)
	assert.EqualError(t, log.errs[0], "broker unavailable")
}

func TestClose(t *testing.T) {
	writer := &fakeWriter{}
	notifier := NewNotifierWithWriter(writer, nil)
	assert.NoError(t, notifier.Close())
	assert.True(t, writer.closed)
}
