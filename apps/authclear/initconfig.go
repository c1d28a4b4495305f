package main

import (
	"fmt"
	"os"

	"github.com/andrej220/authclear/pkg/config"
	"github.com/andrej220/authclear/pkg/lg"
	"github.com/spf13/cobra"
)

func newInitConfigCmd(a *app, root *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the default settings to the config store as a starting point",
		Long: "Write the default settings to the config store as a starting point.\n" +
			"Credentials are left empty; set them in the store or through " +
			config.EnvUsername + " and " + config.EnvPassword + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(root, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func (a *app) initConfig(opts *options, force bool) error {
	logger := a.newLogger(&lg.Config{ServiceName: SERVICENAME, Debug: opts.debug, Format: opts.logFormat})
	defer logger.Sync()

	st, err := config.ParseStoreType(opts.configStore)
	if err != nil {
		return configError(err)
	}

	var (
		storeCfg any = &opts.mongo
		where        = fmt.Sprintf("%s/%s.%s", opts.mongo.URI, opts.mongo.DBName, opts.mongo.CollName)
	)
	if st == config.FileStore {
		path := opts.configFile
		if path == "" {
			path = CONFIGFILENAME
		}
		if _, err := os.Stat(path); err == nil && !force {
			return configError(fmt.Errorf("%s already exists, use --force to overwrite it", path))
		}
		storeCfg, where = &config.FileConfig{Path: path}, path
	}

	store, err := config.NewStore(st, storeCfg)
	if err != nil {
		return configError(err)
	}
	defer store.Close()

	if err := store.Save(config.Defaults()); err != nil {
		return configError(err)
	}
	logger.Info("Default settings written", lg.String("store", where))
	fmt.Fprintf(a.stdout, "Default settings written to %s\n", where)
	return nil
}
