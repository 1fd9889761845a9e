package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polishcitizenship/portal-core/internal/model"
)

var questionnaireCmd = &cobra.Command{
	Use:   "questionnaire",
	Short: "Show the active questionnaire",
	Long: `Loads the questionnaire the way serve does (Notion when configured,
otherwise the fixture file) and prints its questions.

With --output the questionnaire is written as JSON, which can be used to
refresh the fixture from Notion.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		output, _ := cmd.Flags().GetString("output")

		q, err := loadQuestionnaire(ctx)
		if err != nil {
			return err
		}

		if output != "" {
			return writeOutput(output, func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(q)
			})
		}
		printQuestionnaire(os.Stdout, q)
		return nil
	},
}

func init() {
	questionnaireCmd.Flags().String("output", "", "write the questionnaire as JSON to this path")
	rootCmd.AddCommand(questionnaireCmd)
}

func printQuestionnaire(w io.Writer, q model.Questionnaire) {
	fmt.Fprintf(w, "Questionnaire %s (version %s), %d questions\n\n", q.ID, q.Version, len(q.Questions))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tREQUIRED\tCHOICES")
	for _, qu := range q.Questions {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\n", qu.ID, qu.Kind, qu.Required, len(qu.Choices))
	}
	_ = tw.Flush()
}
