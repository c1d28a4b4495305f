// Package remediation holds the values that flow through a sweep: the task
// describing one switch port to clear, and the outcome produced for it.
package remediation

import "fmt"

const clearCommandFormat = "clear auth sessions int %s"

// Task is one unit of work: clear the authenticated sessions on a single
// switch port. It is immutable once constructed.
type Task struct {
	index         int
	correlationID string
	switchAddress string
	switchPort    string
	command       string
}

// NewTask builds a task for the given input row. index is the 1-based
// position of the record in the input.
func NewTask(index int, correlationID, switchAddress, switchPort string) Task {
	return Task{
		index:         index,
		correlationID: correlationID,
		switchAddress: switchAddress,
		switchPort:    switchPort,
		command:       ClearCommand(switchPort),
	}
}

// ClearCommand returns the IOS command that clears access sessions on port.
func ClearCommand(port string) string {
	return fmt.Sprintf(clearCommandFormat, port)
}

func (t Task) Index() int            { return t.index }
func (t Task) CorrelationID() string { return t.correlationID }
func (t Task) SwitchAddress() string { return t.switchAddress }
func (t Task) SwitchPort() string    { return t.switchPort }
func (t Task) Command() string       { return t.command }

func (t Task) String() string {
	return fmt.Sprintf("%s@%s[%s]", t.correlationID, t.switchAddress, t.switchPort)
}
