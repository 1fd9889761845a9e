package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/polishcitizenship/portal-core/internal/intake"
	"github.com/polishcitizenship/portal-core/internal/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score <submission.json>",
	Short: "Score a questionnaire submission",
	Long: `Scores a questionnaire submission against the configured questionnaire
and scoring policy and prints the eligibility result.

The file holds {"fullName", "email", "answers": [...]}; "-" reads stdin.
By default nothing is stored. With --save the submission is recorded and,
when it qualifies, a case is opened exactly as the API would.

Examples:
  # Score a submission
  score submission.json

  # Store it and print the result as JSON
  score submission.json --save --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("format", "table", "output format: table or json")
	f.Bool("save", false, "store the submission and open a case when it qualifies")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, _ := cmd.Flags().GetString("format")
	save, _ := cmd.Flags().GetBool("save")
	if format != "table" && format != "json" {
		return eris.Errorf("score: --format must be table or json (got %q)", format)
	}

	req, err := readSubmission(args[0])
	if err != nil {
		return err
	}

	env, err := initEnv(ctx, "score")
	if err != nil {
		return err
	}
	defer env.Close()

	var res *intake.Result
	if save {
		res, err = env.Intake.Assess(ctx, req)
	} else {
		var r model.EligibilityResult
		r, err = env.Intake.Score(model.Submission{FullName: req.FullName, Email: req.Email, Answers: req.Answers})
		res = &intake.Result{EligibilityResult: r}
	}
	if err != nil {
		return eris.Wrap(err, "score")
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printScoreResult(os.Stdout, res)
	return nil
}

func readSubmission(path string) (intake.Request, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return intake.Request{}, eris.Wrapf(err, "score: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	var req intake.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return intake.Request{}, eris.Wrap(err, "score: decode submission")
	}
	return req, nil
}

func printScoreResult(w io.Writer, res *intake.Result) {
	fmt.Fprintf(w, "Score:     %d (raw %d)\n", res.Score, res.RawScore)
	fmt.Fprintf(w, "Level:     %s\n", res.Level)
	fmt.Fprintf(w, "Timeframe: %s\n", res.EstimatedTimeframe)
	if res.SubmissionID != "" {
		fmt.Fprintf(w, "Submission: %s\n", res.SubmissionID)
	}
	if res.CaseID != "" {
		fmt.Fprintf(w, "Case:      %s\n", res.CaseID)
	}

	if len(res.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range res.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
	if len(res.DocumentRequirements) > 0 {
		fmt.Fprintln(w, "\nDocuments:")
		for _, d := range res.DocumentRequirements {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}

	if len(res.Answers) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "QUESTION\tCHOICE\tPOINTS\tNOTE")
		for _, a := range res.Answers {
			note := ""
			switch {
			case a.Unrecognized:
				note = "unrecognized choice"
			case a.KeywordMatch:
				note = "keyword bonus"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", a.QuestionID, a.ChoiceID, a.AwardedScore, note)
		}
		_ = tw.Flush()
	}
}
