package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/authclear/pkg/config"
	"github.com/andrej220/authclear/pkg/lg"
	"github.com/andrej220/authclear/pkg/remediation"
	"github.com/andrej220/authclear/pkg/report"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type followOptions struct {
	kafka   config.KafkaSettings
	groupID string
	runID   string
	count   int
}

// eventSource is satisfied by report.EventReader.
type eventSource interface {
	Follow(ctx context.Context, runID uuid.UUID, limit int) <-chan remediation.Outcome
	Close() error
}

func newFollowCmd(a *app, root *options) *cobra.Command {
	opts := &followOptions{}
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Print outcomes of a run as they are published to Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.follow(cmd.Context(), root, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.kafka.Brokers, "brokers", nil, "Kafka brokers, host:port")
	flags.StringVar(&opts.kafka.Topic, "topic", "nac-remediation", "Kafka topic the run publishes to")
	flags.StringVar(&opts.groupID, "group", SERVICENAME+"-follow", "Kafka consumer group")
	flags.StringVar(&opts.runID, "run-id", "", "only show outcomes of this run")
	flags.IntVar(&opts.count, "count", 0, "stop after this many outcomes (0 follows until interrupted)")
	return cmd
}

func (a *app) follow(ctx context.Context, root *options, opts *followOptions) error {
	logger := a.newLogger(&lg.Config{ServiceName: SERVICENAME, Debug: root.debug, Format: root.logFormat})
	defer logger.Sync()

	if !opts.kafka.Enabled() {
		return configError(errors.New("at least one Kafka broker is required"))
	}
	if err := opts.kafka.Validate(); err != nil {
		return configError(err)
	}

	runID := uuid.Nil
	if opts.runID != "" {
		id, err := uuid.Parse(opts.runID)
		if err != nil {
			return configError(fmt.Errorf("invalid run id: %w", err))
		}
		runID = id
	}

	src := a.newEventSource(opts.kafka, opts.groupID)
	defer src.Close()

	logger.Info("Following outcomes",
		lg.String("topic", opts.kafka.Topic),
		lg.String("run_id", opts.runID))
	outcomes := src.Follow(lg.Attach(ctx, logger), runID, opts.count)
	report.NewAggregator(a.stdout, logger).Consume(ctx, outcomes)
	return nil
}

func newEventSource(cfg config.KafkaSettings, groupID string) eventSource {
	return report.NewEventReader(cfg, groupID)
}
