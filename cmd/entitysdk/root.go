package main

import (
	"github.com/artpar/entitysdk/config"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	cfgFile string
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.LoadWithFallback(o.cfgFile)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "entitysdk",
		Short: "Schema-driven records with plugin pipelines",
		Long: `entitysdk stores records described by YAML schemas and runs every
create, update and delete through a plugin pipeline inside one session.

Quick start:
  entitysdk validate                  # Check config and schemas
  entitysdk exec request.json         # Run one request
  entitysdk serve                     # Start the admin server

Inspection:
  entitysdk dependents customer       # Who references customer records`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "entitysdk.yaml", "config file path")

	cmd.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newDependentsCmd(opts),
		newExecCmd(opts),
		newVersionCmd(),
	)

	return cmd
}
