package main

import (
	"fmt"
	"io"

	"github.com/artpar/entitysdk/config"
	"github.com/artpar/entitysdk/core/dependency"
	"github.com/artpar/entitysdk/core/registry"
	"github.com/artpar/entitysdk/core/storage"
	"github.com/spf13/cobra"
)

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var checkDatabase bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and schemas",
		Long: `Validate the entitysdk configuration and schema directory.

Checks:
  - Config YAML syntax and required fields
  - Every schema file parses and validates
  - Every lookup targets a registered schema
  - Database opens and answers (optional)

Examples:
  entitysdk validate
  entitysdk validate --config /etc/entitysdk/config.yaml --check-database`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Validating %s...\n\n", opts.cfgFile)

			cfg, err := opts.loadConfig()
			if err != nil {
				fmt.Fprintf(out, "  %s Config valid\n", crossMark)
				return fmt.Errorf("config error: %w", err)
			}
			fmt.Fprintf(out, "  %s Config valid\n", checkMark)

			reg, err := loadRegistry(cfg)
			if err != nil {
				fmt.Fprintf(out, "  %s Schemas valid\n", crossMark)
				return err
			}
			fmt.Fprintf(out, "  %s Schemas valid (%d in %s)\n", checkMark, len(reg.GetAllSchema()), cfg.Schemas.Dir)

			printSchemas(out, reg)

			if checkDatabase {
				if err := checkDatabaseReady(cmd, cfg.Database.DSN); err != nil {
					fmt.Fprintf(out, "  %s Database ready\n", crossMark)
					return err
				}
				fmt.Fprintf(out, "  %s Database ready\n", checkMark)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Configuration is valid.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkDatabase, "check-database", false, "check that the database opens")
	return cmd
}

// loadRegistry loads and freezes the configured schema directory.
func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()
	if err := reg.LoadDir(cfg.Schemas.Dir); err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	if err := reg.Freeze(); err != nil {
		return nil, fmt.Errorf("freeze schemas: %w", err)
	}
	return reg, nil
}

func printSchemas(out io.Writer, reg *registry.Registry) {
	deps := dependency.NewIndex(reg)
	for _, s := range reg.GetAllSchema() {
		fmt.Fprintf(out, "      %-20s %2d attributes, %d dependents", s.LogicalName, len(s.Attributes), len(deps.FindDependents(s)))
		if s.Virtual {
			fmt.Fprint(out, " (virtual)")
		}
		fmt.Fprintln(out)
	}
}

func checkDatabaseReady(cmd *cobra.Command, dsn string) error {
	store, err := storage.NewSQLiteStore(dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.HealthCheck(cmd.Context()); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}
