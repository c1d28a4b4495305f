// Clears 802.1X/MAB authentication sessions on the switch ports listed in a
// RADIUS accounting export.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           SERVICENAME + " [flags] <records.csv>",
		Short:         "Clear NAC authentication sessions on Cisco switches",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.envRequired = cmd.Flags().Changed("env-file")
			opts.breakerSet = cmd.Flags().Changed("breaker-threshold")
			return a.run(cmd.Context(), opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.envFile, "env-file", ENVFILENAME, "dotenv file with SWITCH_USERNAME, SWITCH_PASSWORD and MAX_THREADS")
	flags.IntVar(&opts.maxConcurrency, "max-concurrency", 0, "maximum number of concurrent switch sessions (overrides config)")
	flags.StringVar(&opts.reportFile, "report", "", "write one JSON line per outcome to this file (overrides config)")
	flags.Uint32Var(&opts.breakerThreshold, "breaker-threshold", 0, "open a per-switch circuit breaker after this many consecutive connect failures (overrides config, 0 disables)")

	persistent := cmd.PersistentFlags()
	persistent.StringVarP(&opts.configFile, "config", "c", "", "path to the YAML config file (default "+CONFIGFILENAME+" if present)")
	persistent.StringVar(&opts.configStore, "config-store", "file", "config store: file or mongo")
	persistent.StringVar(&opts.mongo.URI, "mongo-uri", "mongodb://localhost:27017", "MongoDB URI for the mongo config store")
	persistent.StringVar(&opts.mongo.DBName, "mongo-db", SERVICENAME, "MongoDB database for the mongo config store")
	persistent.StringVar(&opts.mongo.CollName, "mongo-collection", "settings", "MongoDB collection for the mongo config store")
	persistent.StringVar(&opts.mongo.ID, "mongo-id", SERVICENAME, "settings document id for the mongo config store")
	persistent.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	persistent.StringVar(&opts.logFormat, "log-format", "json", "log format: json or console")

	cmd.AddCommand(
		newVersionCmd(a.stdout),
		newFollowCmd(a, opts),
		newInitConfigCmd(a, opts),
	)
	return cmd
}

func newVersionCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of " + SERVICENAME,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(w, "%s version: %s\n", SERVICENAME, Version)
			fmt.Fprintf(w, "Git SHA: %s\n", GitSHA)
			fmt.Fprintf(w, "Go Version: %s\n", runtime.Version())
			fmt.Fprintf(w, "Go OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(newApp(os.Stdout))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}
