package main

import (
	"fmt"
	"strings"

	"github.com/artpar/entitysdk/core/dependency"
	"github.com/artpar/entitysdk/core/formatter"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/spf13/cobra"
)

func newDependentsCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dependents <entity>",
		Short: "List lookup attributes that reference an entity",
		Long: `List every lookup attribute, in any schema, that references the given
entity, together with the behavior applied when a referenced record is
deleted.

Examples:
  entitysdk dependents customer
  entitysdk dependents customer -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := formatter.Get(output)
			if !ok {
				return fmt.Errorf("unknown output format %q", output)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			target, ok := reg.GetSchema(args[0])
			if !ok {
				return fmt.Errorf("unknown entity %q", args[0])
			}

			deps := dependency.NewIndex(reg).FindDependents(target)
			rows := make([]map[string]any, len(deps))
			for i, d := range deps {
				behavior := string(d.Behavior)
				if behavior == "" {
					behavior = "-"
				}
				rows[i] = map[string]any{
					"entity":    d.SchemaLogicalName,
					"attribute": d.AttributeName,
					"behavior":  behavior,
				}
			}

			return f.FormatList(cmd.OutOrStdout(), schema.Schema{}, rows, formatter.FormatOptions{
				Columns: []string{"entity", "attribute", "behavior"},
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: "+strings.Join(formatter.List(), ", "))
	return cmd
}
