package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andrej220/authclear/pkg/config"
	"github.com/andrej220/authclear/pkg/remediation"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Sink receives every outcome of a run in delivery order.
type Sink interface {
	Publish(ctx context.Context, o remediation.Outcome) error
	Close() error
}

// JSONLinesSink writes one JSON object per outcome to a file. The file is
// truncated when the sink is opened and only describes the current run.
type JSONLinesSink struct {
	mu    sync.Mutex
	file  *os.File
	runID uuid.UUID
}

func NewJSONLinesSink(filename string, runID uuid.UUID) (*JSONLinesSink, error) {
	if filename == "" {
		return nil, fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create report dir: %w", err)
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open report file: %w", err)
	}
	return &JSONLinesSink{file: f, runID: runID}, nil
}

func (s *JSONLinesSink) Publish(_ context.Context, o remediation.Outcome) error {
	line, err := json.Marshal(NewEvent(s.runID, o))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (s *JSONLinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one event per outcome, keyed by run id so all events of
// a run land in the same partition.
type KafkaSink struct {
	writer  messageWriter
	topic   string
	runID   uuid.UUID
	timeout time.Duration
}

const kafkaWriteTimeout = 10 * time.Second

func NewKafkaSink(cfg config.KafkaSettings, runID uuid.UUID) *KafkaSink {
	return newKafkaSink(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		Async:                  false,
		AllowAutoTopicCreation: true,
	}, cfg.Topic, runID)
}

func newKafkaSink(w messageWriter, topic string, runID uuid.UUID) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, runID: runID, timeout: kafkaWriteTimeout}
}

func (s *KafkaSink) Publish(ctx context.Context, o remediation.Outcome) error {
	ev := NewEvent(s.runID, o)
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   s.runID[:],
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(ev.EventID.String())},
			{Key: "status", Value: []byte(ev.Status)},
		},
	})
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return fmt.Errorf("kafka topic %q does not exist: %w", s.topic, err)
	}
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
