package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/export"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Generate filing exports",
	Long:  "Builds the citizenship-application export for one case or a workbook covering many.",
}

// -- export case --

var exportCaseCmd = &cobra.Command{
	Use:   "case <case-id>",
	Short: "Print the export payload of a case as JSON",
	Long: `Prints the export payload of a case as JSON. Incomplete cases still
export; their gaps are listed under "warnings".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "xlsx" {
			return eris.Errorf("export case: --format must be json or xlsx (got %q)", format)
		}
		if format == "xlsx" && output == "" {
			return eris.New("export case: --output is required for xlsx")
		}

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Exports.Export(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export case")
		}

		if format == "xlsx" {
			if err := export.SaveWorkbook(output, []model.ExportPayload{p}); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s (%d warnings)\n", output, len(p.Warnings))
			return nil
		}
		return writeOutput(output, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		})
	},
}

// -- export workbook --

var exportWorkbookCmd = &cobra.Command{
	Use:   "workbook",
	Short: "Write an xlsx workbook of exports for many cases",
	Long: `Writes one workbook with Summary, Fields, Warnings and Checks sheets
covering every case that matches the filters.

Examples:
  # Everything ready to file
  export workbook --state OBY_SUBMITTABLE --output ready.xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		states, _ := cmd.Flags().GetString("state")
		ref, _ := cmd.Flags().GetString("client-ref")
		limit, _ := cmd.Flags().GetInt("limit")
		output, _ := cmd.Flags().GetString("output")

		parsed, err := parseStates(states)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		payloads, err := env.Exports.ExportAll(ctx, store.CaseFilter{States: parsed, ClientRef: ref, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "export workbook")
		}
		if len(payloads) == 0 {
			fmt.Fprintln(os.Stderr, "No cases found.")
			return nil
		}

		if err := export.SaveWorkbook(output, payloads); err != nil {
			return err
		}

		submittable := 0
		for _, p := range payloads {
			if p.Submittable {
				submittable++
			}
		}
		zap.L().Info("export workbook written",
			zap.String("path", output),
			zap.Int("cases", len(payloads)),
			zap.Int("submittable", submittable),
		)
		fmt.Fprintf(os.Stderr, "Wrote %s: %d cases, %d submittable\n", output, len(payloads), submittable)
		return nil
	},
}

func init() {
	exportCaseCmd.Flags().String("output", "", "output file path (default: stdout)")
	exportCaseCmd.Flags().String("format", "json", "output format: json or xlsx")

	wf := exportWorkbookCmd.Flags()
	wf.String("state", "", "comma-separated states to include")
	wf.String("client-ref", "", "filter by client reference")
	wf.Int("limit", 0, "maximum number of cases (0 = all)")
	wf.String("output", "exports.xlsx", "workbook path")

	exportCmd.AddCommand(exportCaseCmd, exportWorkbookCmd)
	rootCmd.AddCommand(exportCmd)
}

// writeOutput runs fn against path, or stdout when path is empty.
func writeOutput(path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
