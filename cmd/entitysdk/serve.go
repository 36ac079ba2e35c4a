package main

import (
	"os"

	"github.com/artpar/entitysdk/bootstrap"
	"github.com/artpar/entitysdk/config"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var hotReload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin server",
		Long: `Start the entitysdk admin server.

The server will:
  - Load configuration from entitysdk.yaml (or --config)
  - Or load configuration from ENTITYSDK_* environment variables
  - Load and freeze the schema directory
  - Open the database and create missing tables
  - Serve health, schema and metrics endpoints

When a config file is used, changes to logging.level are applied on write
or SIGHUP without a restart.

Examples:
  entitysdk serve
  entitysdk serve --config /etc/entitysdk/config.yaml
  entitysdk serve --hot-reload=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{Version: version})
			if err != nil {
				return err
			}
			defer app.Close()

			if _, err := os.Stat(opts.cfgFile); err == nil && hotReload {
				holder, err := config.NewHolder(opts.cfgFile, app.Logger)
				if err != nil {
					return err
				}
				app.WatchConfig(holder)
				if err := holder.WatchFile(); err != nil {
					app.Logger.Warn().Err(err).Msg("config file watch disabled")
				}
				holder.WatchSignals()
				defer holder.Stop()
			}

			return app.Serve(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
	return cmd
}
