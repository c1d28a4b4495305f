// Package report renders outcomes as they arrive and forwards them to the
// configured sinks.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/andrej220/authclear/pkg/lg"
	"github.com/andrej220/authclear/pkg/remediation"
)

const (
	separator    = "**************************************************"
	clearedText  = "Successfully cleared!"
	finishedText = "All switches processed!"
)

// Summary holds counters only. Outcomes themselves are not retained.
type Summary struct {
	Total              int
	Succeeded          int
	Failed             int
	ByKind             map[remediation.ErrorKind]int
	DisconnectFailures int
}

func (s *Summary) add(o remediation.Outcome) {
	s.Total++
	if o.OK() {
		s.Succeeded++
	} else {
		s.Failed++
		s.ByKind[o.Kind()]++
	}
	if o.DisconnectErr != nil {
		s.DisconnectFailures++
	}
}

const (
	// sinkQueueSize bounds the outcomes waiting for one sink. Outcomes
	// offered to a full queue are dropped for that sink only.
	sinkQueueSize = 1024
	// sinkMaxFailures consecutive publish errors disable a sink for the
	// rest of the run.
	sinkMaxFailures = 3
)

type Aggregator struct {
	w      io.Writer
	logger lg.Logger
	sinks  []Sink
}

func NewAggregator(w io.Writer, logger lg.Logger, sinks ...Sink) *Aggregator {
	if logger == nil {
		logger = lg.Discard
	}
	return &Aggregator{w: w, logger: logger, sinks: sinks}
}

// Consume drains outcomes until the channel is closed, rendering each one as
// soon as it is received. Sinks publish from their own goroutines, so a slow
// or failing sink never delays rendering. ctx only bounds sink publishing;
// the stream is always drained. Consume returns once every sink has caught
// up or given up.
func (a *Aggregator) Consume(ctx context.Context, outcomes <-chan remediation.Outcome) Summary {
	pumps := make([]*sinkPump, 0, len(a.sinks))
	for _, sink := range a.sinks {
		p := newSinkPump(sink, a.logger)
		go p.run(ctx)
		pumps = append(pumps, p)
	}

	sum := Summary{ByKind: map[remediation.ErrorKind]int{}}
	for o := range outcomes {
		sum.add(o)
		if err := a.render(o); err != nil {
			a.logger.Error("Failed to write result", lg.String("mac", o.Task.CorrelationID()), lg.Err(err))
		}
		for _, p := range pumps {
			p.offer(o)
		}
	}
	if err := a.finish(sum); err != nil {
		a.logger.Error("Failed to write summary", lg.Err(err))
	}

	for _, p := range pumps {
		p.drain()
	}
	a.logger.Info("Run complete",
		lg.Int("total", sum.Total),
		lg.Int("succeeded", sum.Succeeded),
		lg.Int("failed", sum.Failed))
	return sum
}

// sinkPump feeds one sink from a buffered queue.
type sinkPump struct {
	sink    Sink
	logger  lg.Logger
	queue   chan remediation.Outcome
	done    chan struct{}
	dropped int
}

func newSinkPump(sink Sink, logger lg.Logger) *sinkPump {
	return &sinkPump{
		sink:   sink,
		logger: logger.With(lg.String("sink", fmt.Sprintf("%T", sink))),
		queue:  make(chan remediation.Outcome, sinkQueueSize),
		done:   make(chan struct{}),
	}
}

func (p *sinkPump) offer(o remediation.Outcome) {
	select {
	case p.queue <- o:
	default:
		p.dropped++
		p.logger.Warn("Sink queue full, outcome dropped", lg.String("mac", o.Task.CorrelationID()))
	}
}

func (p *sinkPump) run(ctx context.Context) {
	defer close(p.done)
	failures := 0
	for o := range p.queue {
		if failures >= sinkMaxFailures {
			continue
		}
		if err := p.sink.Publish(ctx, o); err != nil {
			failures++
			p.logger.Error("Sink failed", lg.String("mac", o.Task.CorrelationID()), lg.Err(err))
			if failures == sinkMaxFailures {
				p.logger.Error("Sink disabled for the rest of the run", lg.Int("failures", failures))
			}
			continue
		}
		failures = 0
	}
}

// drain closes the queue and waits until the pump has handled or discarded
// everything in it.
func (p *sinkPump) drain() {
	close(p.queue)
	<-p.done
	if p.dropped > 0 {
		p.logger.Warn("Outcomes dropped for sink", lg.Int("dropped", p.dropped))
	}
}

func (a *Aggregator) render(o remediation.Outcome) error {
	var b strings.Builder
	b.WriteString(separator + "\n\n")
	fmt.Fprintf(&b, "%s has finished processing!\n", o.Task.CorrelationID())
	fmt.Fprintf(&b, "Switch: %s, Port: %s\n", o.Task.SwitchAddress(), o.Task.SwitchPort())
	b.WriteString("Result: \n\n")
	switch {
	case !o.OK():
		b.WriteString(o.Err.Error())
	case strings.TrimSpace(o.Output) == "":
		b.WriteString(clearedText)
	default:
		b.WriteString(strings.TrimRight(o.Output, "\n"))
	}
	b.WriteString("\n")
	_, err := io.WriteString(a.w, b.String())
	return err
}

func (a *Aggregator) finish(sum Summary) error {
	var b strings.Builder
	b.WriteString(separator + "\n\n")
	fmt.Fprintf(&b, "%d processed, %d succeeded, %d failed\n", sum.Total, sum.Succeeded, sum.Failed)

	kinds := make([]string, 0, len(sum.ByKind))
	for k := range sum.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  %s: %d\n", k, sum.ByKind[remediation.ErrorKind(k)])
	}
	if sum.DisconnectFailures > 0 {
		fmt.Fprintf(&b, "  %s: %d\n", remediation.DisconnectError, sum.DisconnectFailures)
	}
	b.WriteString(finishedText + "\n")
	_, err := io.WriteString(a.w, b.String())
	return err
}
