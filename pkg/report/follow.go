package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/authclear/pkg/config"
	"github.com/andrej220/authclear/pkg/lg"
	"github.com/andrej220/authclear/pkg/remediation"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

var ErrMalformedEvent = errors.New("malformed event")

const readRetryDelay = time.Second

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventReader consumes the events published by KafkaSink.
type EventReader struct {
	reader messageReader
}

func NewEventReader(cfg config.KafkaSettings, groupID string) *EventReader {
	return &EventReader{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: groupID,
		Topic:   cfg.Topic,
	})}
}

// Read returns the next event. Malformed messages are committed so they are
// not delivered again, and reported as ErrMalformedEvent.
func (r *EventReader) Read(ctx context.Context) (Event, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return Event{}, err
	}

	var ev Event
	decodeErr := json.Unmarshal(msg.Value, &ev)
	if err := r.reader.CommitMessages(ctx, msg); err != nil {
		return Event{}, err
	}
	if decodeErr != nil {
		return Event{}, fmt.Errorf("%w at offset %d: %v", ErrMalformedEvent, msg.Offset, decodeErr)
	}
	return ev, nil
}

// Follow streams the outcomes of runID, or of every run when runID is
// uuid.Nil. The channel closes when ctx is done or after limit outcomes when
// limit is positive.
func (r *EventReader) Follow(ctx context.Context, runID uuid.UUID, limit int) <-chan remediation.Outcome {
	out := make(chan remediation.Outcome)
	logger := lg.FromContext(ctx)

	go func() {
		defer close(out)
		seen := 0
		for {
			ev, err := r.Read(ctx)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrMalformedEvent) {
				logger.Warn("Skipping event", lg.Err(err))
				continue
			}
			if err != nil {
				logger.Error("Failed to read event", lg.Err(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(readRetryDelay):
				}
				continue
			}
			if runID != uuid.Nil && ev.RunID != runID {
				continue
			}
			select {
			case out <- ev.Outcome():
			case <-ctx.Done():
				return
			}
			seen++
			if limit > 0 && seen >= limit {
				return
			}
		}
	}()
	return out
}

func (r *EventReader) Close() error {
	return r.reader.Close()
}

// Outcome rebuilds the outcome an event was created from. Timing and output
// survive; the wrapped error chain does not.
func (e Event) Outcome() remediation.Outcome {
	o := remediation.Outcome{
		Task:     remediation.NewTask(e.Index, e.MACAddress, e.Switch, e.Port),
		Status:   e.Status,
		Output:   e.Output,
		Started:  e.Started,
		Finished: e.Finished,
	}
	if e.Status != remediation.StatusSuccess {
		o.Err = &remediation.TaskError{Kind: e.Kind, Detail: e.Detail, Err: errors.New(e.Detail)}
	}
	if e.DisconnectError != "" {
		o.DisconnectErr = errors.New(e.DisconnectError)
	}
	return o
}
