package remediation

import (
	"fmt"
	"time"
)

// ErrorKind classifies the step of the session lifecycle that failed.
type ErrorKind string

const (
	ConnectionError ErrorKind = "ConnectionError"
	PrivilegeError  ErrorKind = "PrivilegeError"
	CommandError    ErrorKind = "CommandError"
	// DisconnectError is only ever logged and recorded next to the outcome;
	// it never turns a result into a failure.
	DisconnectError ErrorKind = "DisconnectError"
)

// Status is the explicit result tag of an outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// TaskError is the failure carried by an outcome.
type TaskError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func NewTaskError(kind ErrorKind, err error) *TaskError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &TaskError{Kind: kind, Detail: detail, Err: err}
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Outcome is produced exactly once per task.
type Outcome struct {
	Task   Task
	Status Status
	// Output is the text returned by the device. It may be empty on success.
	Output string
	Err    *TaskError
	// DisconnectErr records a failed best-effort disconnect. It does not
	// affect Status.
	DisconnectErr error
	Started       time.Time
	Finished      time.Time
}

func Succeeded(task Task, output string) Outcome {
	return Outcome{Task: task, Status: StatusSuccess, Output: output}
}

func Failed(task Task, kind ErrorKind, err error) Outcome {
	return Outcome{Task: task, Status: StatusFailure, Err: NewTaskError(kind, err)}
}

func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Kind returns the failure kind, or "" for a successful outcome.
func (o Outcome) Kind() ErrorKind {
	if o.Err == nil {
		return ""
	}
	return o.Err.Kind
}

func (o Outcome) Duration() time.Duration {
	if o.Started.IsZero() || o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}
