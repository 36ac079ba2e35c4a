package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/artpar/entitysdk/bootstrap"
	"github.com/artpar/entitysdk/core/datafilter"
	"github.com/artpar/entitysdk/core/engine"
	"github.com/artpar/entitysdk/core/formatter"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
	"github.com/spf13/cobra"
)

func newExecCmd(opts *rootOptions) *cobra.Command {
	var (
		caller datafilter.Caller
		output string
	)

	cmd := &cobra.Command{
		Use:   "exec [file]",
		Short: "Run one request through the engine",
		Long: `Run one request envelope through the mutation engine and print the
result in the --output format. The envelope is read from file, or from
stdin when file is omitted or "-".

Envelope:
  {"type": "createRecord", "params": {"logicalName": "customer", "data": {"name": "Ada"}}}

Types: retrieveRecord, retrieveRecords, retrieveAggregate, createRecord,
updateRecord, deleteRecord.

Examples:
  entitysdk exec request.json
  echo '{"type":"retrieveRecords","params":{"logicalName":"note"}}' | entitysdk exec --user u1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			req, err := engine.DecodeRequest(data)
			if err != nil {
				return err
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			logger := bootstrap.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
			app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{
				Logger:  &logger,
				Version: version,
			})
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := datafilter.WithCaller(cmd.Context(), caller)
			res, err := app.Engine.Execute(ctx, req)
			if err != nil {
				return err
			}

			sch, _ := app.Registry.GetSchema(req.Entity())
			return writeResult(cmd, output, sch, req.Kind(), res)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: "+strings.Join(formatter.List(), ", "))
	cmd.Flags().StringVar(&caller.UserID, "user", "", "caller user id")
	cmd.Flags().StringVar(&caller.OrganizationID, "org", "", "caller organization id")
	cmd.Flags().BoolVar(&caller.Admin, "admin", false, "bypass ownership filters")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return data, nil
}

// writeResult formats res according to the request kind.
func writeResult(cmd *cobra.Command, output string, sch schema.Schema, kind engine.Kind, res engine.Result) error {
	f, ok := formatter.Get(output)
	if !ok {
		return fmt.Errorf("unknown output format %q", output)
	}
	out := cmd.OutOrStdout()

	switch kind {
	case engine.KindRetrieveRecord:
		return f.FormatRecord(out, sch, res.Record, formatter.FormatOptions{})
	case engine.KindRetrieveRecords:
		return f.FormatList(out, sch, toMaps(res.Records), formatter.FormatOptions{Total: res.Total})
	case engine.KindRetrieveAggregate:
		return f.FormatList(out, schema.Schema{}, toMaps(res.Rows), formatter.FormatOptions{})
	default:
		record := map[string]any{sch.IDAttribute: res.ID}
		return f.FormatRecord(out, sch, record, formatter.FormatOptions{Columns: []string{sch.IDAttribute}})
	}
}

func toMaps(records []storage.Record) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}
