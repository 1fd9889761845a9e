package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/polishcitizenship/portal-core/internal/intake"
	"github.com/polishcitizenship/portal-core/internal/lifecycle"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/store"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Manage client cases",
	Long:  "Commands for opening cases and moving them through the lifecycle: documents, payments, submission and decision.",
}

// withCases runs fn against a ready environment and prints the case it returns.
func withCases(cmd *cobra.Command, fn func(ctx context.Context, env *portalEnv) (*model.Case, error)) error {
	ctx := cmd.Context()
	env, err := initEnv(ctx, "cases")
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := fn(ctx, env)
	if err != nil {
		return err
	}
	printCaseView(os.Stdout, lifecycle.Describe(env.Cases.Config(), c))
	return nil
}

// -- cases open --

var casesOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a new case in INTAKE",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		ref, _ := f.GetString("client-ref")
		name, _ := f.GetString("name")
		email, _ := f.GetString("email")
		tier, _ := f.GetString("tier")
		expected, _ := f.GetInt("expected-documents")
		submission, _ := f.GetString("submission")
		file, _ := f.GetString("file")

		var req lifecycle.OpenRequest
		if file != "" {
			if err := readJSONFile(file, &req); err != nil {
				return err
			}
		}
		if ref != "" {
			req.ClientRef = ref
		}
		if name != "" {
			req.Client.GivenNames, req.Client.Surname = intake.SplitName(name)
		}
		if email != "" {
			req.Client.Email = email
		}
		if tier != "" {
			req.Tier = model.Tier(tier)
		}
		if expected > 0 {
			req.ExpectedDocuments = expected
		}

		return withCases(cmd, func(ctx context.Context, env *portalEnv) (*model.Case, error) {
			if submission != "" {
				return env.Intake.OpenFromSubmission(ctx, submission, req)
			}
			return env.Cases.Open(ctx, req)
		})
	},
}

// -- cases show --

var casesShowCmd = &cobra.Command{
	Use:   "show <case-id>",
	Short: "Show a case with its stage and next actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCases(cmd, func(ctx context.Context, env *portalEnv) (*model.Case, error) {
			return env.Cases.Get(ctx, args[0])
		})
	},
}

// -- cases list --

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		states, _ := cmd.Flags().GetString("state")
		ref, _ := cmd.Flags().GetString("client-ref")
		limit, _ := cmd.Flags().GetInt("limit")

		parsed, err := parseStates(states)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cases")
		if err != nil {
			return err
		}
		defer env.Close()

		cases, err := env.Cases.List(ctx, store.CaseFilter{States: parsed, ClientRef: ref, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "cases list")
		}
		if len(cases) == 0 {
			fmt.Fprintln(os.Stderr, "No cases found.")
			return nil
		}
		formatCaseList(os.Stdout, cases)
		return nil
	},
}

// -- cases document --

var casesDocumentCmd = &cobra.Command{
	Use:   "document <case-id>",
	Short: "Record received documents",
	Long: `Records received documents on a case and applies any automatic transitions.

Examples:
  # Two documents arrived, one of them the applicant's birth certificate
  cases document 3f2a... --count 2 --kind applicant_birth_certificate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		kinds, _ := cmd.Flags().GetStringSlice("kind")
		return withCases(cmd, func(ctx context.Context, env *portalEnv) (*model.Case, error) {
			return env.Cases.RecordDocument(ctx, args[0], lifecycle.DocumentUpdate{Delta: count, Kinds: kinds})
		})
	},
}

// -- cases payment --

var casesPaymentCmd = &cobra.Command{
	Use:   "payment <case-id> <milestone-index>",
	Short: "Confirm a milestone payment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseMilestone(args[1])
		if err != nil {
			return err
		}
		upd := lifecycle.PaymentUpdate{Index: index}
		if cmd.Flags().Changed("amount") {
			amount, _ := cmd.Flags().GetFloat64("amount")
			upd.Amount = &amount
		}
		return withCases(cmd, func(ctx context.Context, env *portalEnv) (*model.Case, error) {
			return env.Cases.RecordPayment(ctx, args[0], upd)
		})
	},
}

// -- cases overdue --

var casesOverdueCmd = &cobra.Command{
	Use:   "overdue <case-id> <milestone-index>",
	Short: "Flag a pending milestone overdue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseMilestone(args[1])
		if err != nil {
			return err
		}
		return withCases(cmd, func(ctx context.Context, env *portalEnv) (*model.Case, error) {
			return env.Cases.MarkOverdue(ctx, args[0], index)
		})
	},
}

// -- cases schedule --

var casesScheduleCmd = &cobra.Command{
	Use:   "schedule <case-id> <milestone-index>",
	Short: "Set the amount and due date of an unpaid milestone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseMilestone(args[1])
		if err != nil {
			return err
		}

		var amount *float64
		if cmd.Flags().Changed("amount") {
			v, _ := cmd.Flags().GetFloat64("amount")
			amount = &v
		}
		var due *time.Time
		if s, _ := cmd.Flags().GetString("due"); s != "" {
			d, err := time.Parse(time.DateOnly, s)
			if err != nil {
				return eris.Wrapf(err, "cases schedule: --due must be YYYY-MM-DD (got %q)", s)
			}
			due = &d
		}
		if amount == nil && due == nil {
			return eris.New("cases schedule: set --amount, --due or both")
		}

		return withCases(cmd, func(ctx context.Context, env *portalEnv) (*model.Case, error) {
			return env.Cases.ScheduleMilestone(ctx, args[0], index, amount, due)
		})
	},
}

// -- cases submit --

var casesSubmitCmd = &cobra.Command{
	Use:   "submit <case-id>",
	Short: "Mark the citizenship application as filed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCases(cmd, func(ctx context.Context, env *portalEnv) (*model.Case, error) {
			return env.Cases.Submit(ctx, args[0])
		})
	},
}

// -- cases decision --

var casesDecisionCmd = &cobra.Command{
	Use:   "decision <case-id> <granted|refused>",
	Short: "Record the authorities' decision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCases(cmd, func(ctx context.Context, env *portalEnv) (*model.Case, error) {
			return env.Cases.RecordDecision(ctx, args[0], model.Outcome(strings.ToLower(args[1])))
		})
	},
}

// -- sweep-overdue --

var sweepOverdueCmd = &cobra.Command{
	Use:   "sweep-overdue",
	Short: "Flag pending milestones past their due date as overdue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		asOf, _ := cmd.Flags().GetString("as-of")
		now := time.Now().UTC()
		if asOf != "" {
			t, err := time.Parse(time.DateOnly, asOf)
			if err != nil {
				return eris.Wrapf(err, "sweep-overdue: --as-of must be YYYY-MM-DD (got %q)", asOf)
			}
			now = t
		}

		env, err := initEnv(ctx, "sweep")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Cases.SweepOverdue(ctx, now)
		if err != nil {
			return eris.Wrap(err, "sweep-overdue")
		}
		fmt.Printf("Scanned %d cases, flagged %d milestones overdue\n", res.CasesScanned, res.MilestonesOverdue)
		return nil
	},
}

func init() {
	of := casesOpenCmd.Flags()
	of.String("client-ref", "", "client reference")
	of.String("name", "", "applicant full name")
	of.String("email", "", "applicant email")
	of.String("tier", "", "processing tier: standard, expedited, vip or vip+")
	of.Int("expected-documents", 0, "documents expected for the case (default from config)")
	of.String("submission", "", "open from a stored questionnaire submission")
	of.String("file", "", "JSON file with the full open request (client, family, ...)")

	casesListCmd.Flags().String("state", "", "comma-separated states to include")
	casesListCmd.Flags().String("client-ref", "", "filter by client reference")
	casesListCmd.Flags().Int("limit", 50, "maximum number of cases to list")

	casesDocumentCmd.Flags().Int("count", 1, "number of documents received")
	casesDocumentCmd.Flags().StringSlice("kind", nil, "civil-status kinds among the received documents (repeatable)")

	casesPaymentCmd.Flags().Float64("amount", 0, "amount paid")

	casesScheduleCmd.Flags().Float64("amount", 0, "amount due")
	casesScheduleCmd.Flags().String("due", "", "due date (YYYY-MM-DD)")

	sweepOverdueCmd.Flags().String("as-of", "", "treat this date as today (YYYY-MM-DD)")

	casesCmd.AddCommand(
		casesOpenCmd,
		casesShowCmd,
		casesListCmd,
		casesDocumentCmd,
		casesPaymentCmd,
		casesOverdueCmd,
		casesScheduleCmd,
		casesSubmitCmd,
		casesDecisionCmd,
	)
	rootCmd.AddCommand(casesCmd, sweepOverdueCmd)
}

func parseStates(v string) ([]model.State, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	var out []model.State
	for _, name := range strings.Split(v, ",") {
		s, err := model.ParseState(strings.TrimSpace(strings.ToUpper(name)))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func parseMilestone(v string) (int, error) {
	index, err := strconv.Atoi(v)
	if err != nil {
		return 0, eris.Errorf("milestone index must be an integer (got %q)", v)
	}
	return index, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "decode %s", path)
	}
	return nil
}

func printCaseView(w io.Writer, v lifecycle.CaseView) {
	c := v.Case
	fmt.Fprintf(w, "Case:      %s (%s)\n", c.ID, c.ClientRef)
	fmt.Fprintf(w, "Client:    %s %s <%s>\n", c.Client.GivenNames, c.Client.Surname, c.Client.Email)
	fmt.Fprintf(w, "State:     %s\n", c.State)
	fmt.Fprintf(w, "Stage:     %s (ETA %s)\n", v.Stage.Message, v.Stage.ETA)
	fmt.Fprintf(w, "Documents: %d/%d received\n", c.Documents.Received, c.Documents.Expected)
	fmt.Fprintf(w, "Payments:  %d/%d paid\n", c.PaidCount(), model.MilestoneCount)
	if c.Eligibility != nil {
		fmt.Fprintf(w, "Eligibility: %s (%d)\n", c.Eligibility.Level, c.Eligibility.Score)
	}
	if c.Decision != nil {
		fmt.Fprintf(w, "Decision:  %s on %s\n", c.Decision.Outcome, c.Decision.RecordedAt.Format(time.DateOnly))
	}
	if v.PendingGuard != nil && v.PendingGuard.Reason != "" {
		fmt.Fprintf(w, "Waiting:   %s (%s)\n", v.PendingGuard.Reason, v.PendingGuard.Guard)
	}
	fmt.Fprintf(w, "Next:      %s\n", strings.Join(v.NextActions, ", "))
}

func formatCaseList(w io.Writer, cases []model.Case) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLIENT REF\tSTATE\tDOCS\tPAID\tUPDATED")
	for _, c := range cases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			c.ID, c.ClientRef, c.State,
			c.Documents.Received, c.Documents.Expected,
			c.PaidCount(),
			c.UpdatedAt.Format(time.RFC3339),
		)
	}
	_ = tw.Flush()
}
