package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrej220/authclear/pkg/config"
	"github.com/andrej220/authclear/pkg/device"
	"github.com/andrej220/authclear/pkg/dispatcher"
	"github.com/andrej220/authclear/pkg/lg"
	"github.com/andrej220/authclear/pkg/records"
	"github.com/andrej220/authclear/pkg/report"
	"github.com/google/uuid"
)

type app struct {
	stdout         io.Writer
	newLogger      func(*lg.Config) lg.Logger
	newConnector   func(config.SwitchSettings) (device.Connector, error)
	newEventSource func(config.KafkaSettings, string) eventSource
	lookupEnv      func(string) (string, bool)
}

func newApp(stdout io.Writer) *app {
	return &app{
		stdout:         stdout,
		newLogger:      lg.New,
		newConnector:   newSSHConnector,
		newEventSource: newEventSource,
		lookupEnv:      os.LookupEnv,
	}
}

func newSSHConnector(sw config.SwitchSettings) (device.Connector, error) {
	return device.NewSSHConnector(sw.KnownHostsFile)
}

// run resolves settings and records, then clears every session and prints
// the outcomes as they complete. Task failures do not make run fail.
func (a *app) run(ctx context.Context, opts *options, path string) error {
	logger := a.newLogger(&lg.Config{ServiceName: SERVICENAME, Debug: opts.debug, Format: opts.logFormat})
	defer logger.Sync()

	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return inputError(fmt.Errorf("please input a valid .csv file, got %q", path))
	}

	settings, store, err := a.loadSettings(opts)
	if err != nil {
		return configError(err)
	}
	if store != nil {
		defer store.Close()
		err := store.Watch(func() {
			logger.Warn("Configuration changed, changes apply to the next run")
		})
		if err != nil {
			logger.Debug("Config store is not watched", lg.Err(err))
		}
	}

	logger.Info("Reading records", lg.String("file", path))
	recs, err := records.ReadFile(path)
	if err != nil {
		return inputError(err)
	}
	logger.Info("Records read", lg.String("file", path), lg.Int("records", len(recs)))

	connector, err := a.newConnector(settings.Switch)
	if err != nil {
		return configError(err)
	}
	if settings.Breaker.Threshold > 0 {
		logger.Info("Circuit breaker enabled",
			lg.Int("threshold", int(settings.Breaker.Threshold)),
			lg.Duration("open_timeout", settings.Breaker.OpenTimeout))
	}
	connector = device.NewBreakerConnector(connector, settings.Breaker.Threshold, settings.Breaker.OpenTimeout, logger)

	d := dispatcher.New(connector, settings.Switch, dispatcher.WithLogger(logger))

	sinks, err := openSinks(settings, d.RunID())
	if err != nil {
		return configError(err)
	}
	defer closeSinks(sinks, logger)

	outcomes := d.Dispatch(ctx, records.ToTasks(recs), settings.MaxConcurrency)
	report.NewAggregator(a.stdout, logger, sinks...).Consume(ctx, outcomes)
	return nil
}

// loadSettings layers defaults, the config store, the dotenv file, the
// environment and finally the command line flags. The returned store is nil
// when no store was used and must be closed by the caller otherwise.
func (a *app) loadSettings(opts *options) (config.Settings, config.Config, error) {
	s := config.Defaults()

	store, err := openStore(opts)
	if err != nil {
		return s, nil, err
	}
	if store != nil {
		if err := store.Load(&s); err != nil {
			store.Close()
			return s, nil, fmt.Errorf("load settings: %w", err)
		}
	}

	fail := func(err error) (config.Settings, config.Config, error) {
		if store != nil {
			store.Close()
		}
		return s, nil, err
	}
	if err := config.LoadDotEnv(opts.envFile, opts.envRequired); err != nil {
		return fail(err)
	}
	if err := s.ApplyEnv(a.lookupEnv); err != nil {
		return fail(err)
	}
	if opts.maxConcurrency != 0 {
		s.MaxConcurrency = opts.maxConcurrency
	}
	if opts.reportFile != "" {
		s.Report.File = opts.reportFile
	}
	if opts.breakerSet {
		s.Breaker.Threshold = opts.breakerThreshold
	}
	if err := s.Validate(); err != nil {
		return fail(err)
	}
	return s, store, nil
}

func openStore(opts *options) (config.Config, error) {
	st, err := config.ParseStoreType(opts.configStore)
	if err != nil {
		return nil, err
	}
	if st == config.MongoStore {
		return config.NewStore(st, &opts.mongo)
	}

	path := opts.configFile
	if path == "" {
		if _, err := os.Stat(CONFIGFILENAME); err != nil {
			return nil, nil
		}
		path = CONFIGFILENAME
	}
	return config.NewStore(st, &config.FileConfig{Path: path})
}

func openSinks(s config.Settings, runID uuid.UUID) ([]report.Sink, error) {
	var sinks []report.Sink
	if s.Report.File != "" {
		js, err := report.NewJSONLinesSink(s.Report.File, runID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, js)
	}
	if s.Kafka.Enabled() {
		sinks = append(sinks, report.NewKafkaSink(s.Kafka, runID))
	}
	return sinks, nil
}

func closeSinks(sinks []report.Sink, logger lg.Logger) {
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			logger.Error("Failed to close sink", lg.String("sink", fmt.Sprintf("%T", sink)), lg.Err(err))
		}
	}
}
