// Package dispatcher runs remediation tasks against switches with a hard cap
// on concurrently open sessions and streams one outcome per task in
// completion order.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/andrej220/authclear/pkg/config"
	"github.com/andrej220/authclear/pkg/device"
	"github.com/andrej220/authclear/pkg/lg"
	"github.com/andrej220/authclear/pkg/remediation"
	"github.com/andrej220/authclear/pkg/workerpool"
	"github.com/google/uuid"
)

type Dispatcher struct {
	connector device.Connector
	settings  config.SwitchSettings
	logger    lg.Logger
	runID     uuid.UUID
}

type Option func(*Dispatcher)

func WithLogger(logger lg.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithRunID tags every log line of the run. A random id is used otherwise.
func WithRunID(id uuid.UUID) Option {
	return func(d *Dispatcher) { d.runID = id }
}

// New returns a dispatcher that opens sessions through connector using the
// credentials and timeouts in settings.
func New(connector device.Connector, settings config.SwitchSettings, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		connector: connector,
		settings:  settings,
		logger:    lg.Discard,
		runID:     uuid.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(lg.String("run_id", d.runID.String()))
	return d
}

func (d *Dispatcher) RunID() uuid.UUID { return d.runID }

// Dispatch starts every task and returns a channel that yields exactly one
// outcome per task, in the order tasks finish. At most maxConcurrency tasks
// are between connect and disconnect at any time. The channel is closed after
// the last outcome. A failing task never cancels the others.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []remediation.Task, maxConcurrency int) <-chan remediation.Outcome {
	if maxConcurrency < 1 {
		d.logger.Warn("Concurrency cap below 1, using 1", lg.Int("requested", maxConcurrency))
		maxConcurrency = 1
	}
	for _, task := range tasks {
		d.logger.Debug("Adding task to queue", lg.String("mac", task.CorrelationID()))
	}
	d.logger.Info("Dispatching",
		lg.Int("tasks", len(tasks)),
		lg.Int("max_concurrency", maxConcurrency))

	var pool *workerpool.Pool[remediation.Task, remediation.Outcome]
	pool = workerpool.NewPool(maxConcurrency, func(ctx context.Context, task remediation.Task) remediation.Outcome {
		d.logger.Debug("Worker slot taken",
			lg.String("mac", task.CorrelationID()),
			lg.Int32("active_workers", pool.ActiveWorkers()),
			lg.Int("max_workers", pool.MaxWorkers()))
		return d.execute(ctx, task)
	})
	return pool.Run(lg.Attach(ctx, d.logger), tasks)
}

func (d *Dispatcher) target(task remediation.Task) device.Target {
	return device.Target{
		Address:        task.SwitchAddress(),
		Port:           d.settings.Port,
		Username:       d.settings.Username,
		Password:       d.settings.Password,
		EnablePassword: d.settings.EnablePassword,
		ConnectTimeout: d.settings.ConnectTimeout,
		CommandTimeout: d.settings.CommandTimeout,
	}
}

// execute runs the full lifecycle of one task. It always returns an outcome
// and always attempts to disconnect a session it opened.
func (d *Dispatcher) execute(ctx context.Context, task remediation.Task) remediation.Outcome {
	logger := d.logger.With(
		lg.String("mac", task.CorrelationID()),
		lg.String("switch", task.SwitchAddress()),
		lg.String("port", task.SwitchPort()))
	ctx = lg.Attach(ctx, logger)

	started := time.Now()
	logger.Info("Clearing session")

	out, sess := d.pipeline(ctx, task, logger)
	if sess != nil {
		if err := disconnect(sess); err != nil {
			out.DisconnectErr = remediation.NewTaskError(remediation.DisconnectError, err)
			logger.Warn("Disconnect failed",
				lg.String("kind", string(remediation.DisconnectError)),
				lg.Err(err))
		}
	}
	out.Started = started
	out.Finished = time.Now()

	if out.OK() {
		logger.Info("Task finished", lg.Duration("elapsed", out.Duration()))
	} else {
		logger.Error("Task failed",
			lg.String("kind", string(out.Kind())),
			lg.String("detail", out.Err.Detail),
			lg.Duration("elapsed", out.Duration()))
	}
	return out
}

// pipeline runs connect, escalate and command, stopping at the first error.
// The returned session is non-nil whenever connect succeeded.
func (d *Dispatcher) pipeline(ctx context.Context, task remediation.Task, logger lg.Logger) (out remediation.Outcome, sess device.Session) {
	stage := remediation.ConnectionError
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic", lg.String("kind", string(stage)), lg.Any("panic", r))
			out = remediation.Failed(task, stage, fmt.Errorf("panic: %v", r))
		}
	}()

	s, err := d.connector.Connect(ctx, d.target(task))
	if err != nil {
		return remediation.Failed(task, stage, err), nil
	}
	sess = s
	logger.Debug("Successfully connected")

	stage = remediation.PrivilegeError
	if err := sess.EscalatePrivilege(ctx); err != nil {
		return remediation.Failed(task, stage, err), sess
	}

	stage = remediation.CommandError
	output, err := sess.RunCommand(ctx, task.Command())
	if err != nil {
		return remediation.Failed(task, stage, err), sess
	}
	return remediation.Succeeded(task, output), sess
}

func disconnect(sess device.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sess.Disconnect()
}
