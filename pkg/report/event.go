package report

import (
	"time"

	"github.com/andrej220/authclear/pkg/remediation"
	"github.com/google/uuid"
)

// Event is the serialized form of one outcome, shared by every sink.
type Event struct {
	EventID         uuid.UUID             `json:"eventId"`
	RunID           uuid.UUID             `json:"runId"`
	Index           int                   `json:"index"`
	MACAddress      string                `json:"macAddress"`
	Switch          string                `json:"switch"`
	Port            string                `json:"port"`
	Command         string                `json:"command"`
	Status          remediation.Status    `json:"status"`
	Kind            remediation.ErrorKind `json:"kind,omitempty"`
	Detail          string                `json:"detail,omitempty"`
	Output          string                `json:"output,omitempty"`
	DisconnectError string                `json:"disconnectError,omitempty"`
	Started         time.Time             `json:"started"`
	Finished        time.Time             `json:"finished"`
	DurationMs      int64                 `json:"durationMs"`
}

func NewEvent(runID uuid.UUID, o remediation.Outcome) Event {
	ev := Event{
		EventID:    uuid.New(),
		RunID:      runID,
		Index:      o.Task.Index(),
		MACAddress: o.Task.CorrelationID(),
		Switch:     o.Task.SwitchAddress(),
		Port:       o.Task.SwitchPort(),
		Command:    o.Task.Command(),
		Status:     o.Status,
		Output:     o.Output,
		Started:    o.Started,
		Finished:   o.Finished,
		DurationMs: o.Duration().Milliseconds(),
	}
	if o.Err != nil {
		ev.Kind = o.Err.Kind
		ev.Detail = o.Err.Detail
	}
	if o.DisconnectErr != nil {
		ev.DisconnectError = o.DisconnectErr.Error()
	}
	return ev
}
