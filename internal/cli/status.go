package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/specq-dev/specq/internal/app"
	"github.com/specq-dev/specq/internal/dag"
	"github.com/specq-dev/specq/internal/model"
	"github.com/specq-dev/specq/internal/store"
)

func newTable(outW io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(outW, 0, 4, 2, ' ', 0)
}

// overlayStoredState copies persisted live state onto freshly scanned items,
// without writing anything back.
func overlayStoredState(ctx context.Context, a *app.App, items []*model.WorkItem) error {
	st, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, item := range items {
		existing, err := st.GetWorkItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			item.Status = existing.Status
			item.RetryCount = existing.RetryCount
			item.History = existing.History
		}
	}
	return nil
}

func printStatusTable(ctx context.Context, st *store.Store, outW io.Writer) error {
	items, err := st.ListWorkItems(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(outW, "No work items recorded yet. Run `specq scan` to check the changes directory.")
		return nil
	}
	tw := newTable(outW)
	fmt.Fprintln(tw, "ID\tSTATUS\tRISK\tPRIORITY\tRETRIES\tTITLE")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
			item.ID, item.Status, item.Risk, item.Priority,
			item.RetryCount, item.MaxRetries, item.Title)
	}
	return tw.Flush()
}

func newStatusCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show work-item state, or the detail of one item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			ctx := a.Context(cmd.Context())
			st, err := a.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 0 {
				return printStatusTable(ctx, st, outW)
			}
			item, err := st.GetWorkItem(ctx, args[0])
			if err != nil {
				return err
			}
			if item == nil {
				return &ExitError{Code: 1, Message: fmt.Sprintf("unknown change: %s", args[0])}
			}
			printItemDetail(outW, item)
			return nil
		},
	}
}

func printItemDetail(outW io.Writer, item *model.WorkItem) {
	fmt.Fprintf(outW, "%s — %s\n", item.ID, item.Title)
	fmt.Fprintf(outW, "  status:   %s\n", item.Status)
	fmt.Fprintf(outW, "  risk:     %s  priority: %d  retries: %d/%d\n",
		item.Risk, item.Priority, item.RetryCount, item.MaxRetries)
	fmt.Fprintf(outW, "  deps:     %s\n", joinOrDash(item.Deps))
	if item.ErrorMessage != "" {
		fmt.Fprintf(outW, "  error:    %s\n", item.ErrorMessage)
	}
	if len(item.Tasks) > 0 {
		fmt.Fprintln(outW, "  tasks:")
		for _, task := range item.Tasks {
			commit := ""
			if task.CommitHash != "" {
				commit = " @" + task.CommitHash
			}
			fmt.Fprintf(outW, "    [%s] %s: %s%s\n", task.Status, task.ID, task.Title, commit)
		}
	}
	if len(item.History) > 0 {
		fmt.Fprintln(outW, "  verification:")
		for _, att := range item.History {
			fmt.Fprintf(outW, "    attempt %d (%s): %s, %d vote(s)\n",
				att.Attempt, att.Strategy, att.Disposition, len(att.Votes))
		}
	}
}

func newDepsCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Show the dependency graph and its topological order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			ctx := a.Context(cmd.Context())
			items, err := scanItems(ctx, a)
			if err != nil {
				return err
			}
			graph, err := dag.Build(items)
			if err != nil {
				return err
			}

			tw := newTable(outW)
			fmt.Fprintln(tw, "ID\tDEPENDS ON\tUNLOCKS")
			for _, id := range graph.IDs() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					id, joinOrDash(graph.Dependencies(id)), joinOrDash(graph.Dependents(id)))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(outW, "\nTopological order: %s\n", strings.Join(graph.TopoOrder(), " -> "))
			return nil
		},
	}
}

func newLogsCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <id>",
		Short: "Show the run log of one change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			ctx := a.Context(cmd.Context())
			st, err := a.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.Logs(ctx, args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(outW, "No log entries for %s.\n", args[0])
				return nil
			}
			for _, e := range entries {
				detail := ""
				if len(e.Detail) > 0 {
					detail = fmt.Sprintf(" %v", e.Detail)
				}
				fmt.Fprintf(outW, "%s  %-14s%s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Event, detail)
			}
			return nil
		},
	}
}

func newVotesCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "votes <id>",
		Short: "Show the verification votes of one change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			ctx := a.Context(cmd.Context())
			st, err := a.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			history, err := st.History(ctx, args[0])
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Fprintf(outW, "No verification attempts for %s.\n", args[0])
				return nil
			}
			for _, att := range history {
				fmt.Fprintf(outW, "attempt %d (%s, risk %s): %s\n",
					att.Attempt, att.Strategy, att.Risk, att.Disposition)
				for _, v := range att.Votes {
					fmt.Fprintf(outW, "  %-32s %-5s confidence=%.2f  %s\n",
						v.Voter, v.Verdict, v.Confidence, v.Summary)
					for _, f := range v.Findings {
						fmt.Fprintf(outW, "    [%s] %s: %s\n", f.Severity, f.Category, f.Description)
					}
				}
			}
			return nil
		},
	}
}

func newConfigCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective merged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			cfg := a.Config

			fmt.Fprintf(outW, "project_root: %s\n", cfg.ProjectRoot)
			fmt.Fprintf(outW, "changes_dir:  %s\n", cfg.ChangesDir)
			fmt.Fprintf(outW, "base_branch:  %s\n", cfg.BaseBranch)
			fmt.Fprintf(outW, "compiler:     %s/%s\n", cfg.Compiler.Provider, cfg.Compiler.Model)
			fmt.Fprintf(outW, "executor:     %s/%s (max_turns=%d)\n",
				cfg.Executor.Type, cfg.Executor.Model, cfg.Executor.MaxTurns)
			fmt.Fprintln(outW, "voters:")
			if len(cfg.Verification.Voters) == 0 {
				fmt.Fprintln(outW, "  (none configured)")
			}
			for _, v := range cfg.Verification.Voters {
				fmt.Fprintf(outW, "  - %s\n", v.Name())
			}
			fmt.Fprintln(outW, "risk_policy:")
			for _, risk := range []model.Risk{model.RiskLow, model.RiskMedium, model.RiskHigh} {
				entry := cfg.RiskPolicy[risk]
				suffix := ""
				if entry.RequireConfirmation {
					suffix = " (requires confirmation)"
				}
				fmt.Fprintf(outW, "  %-6s %s%s\n", risk+":", entry.Strategy, suffix)
			}
			fmt.Fprintf(outW, "budgets: max_retries=%d max_duration=%s max_turns=%d daily_task_limit=%d\n",
				cfg.Budgets.MaxRetries, cfg.Budgets.MaxDuration, cfg.Budgets.MaxTurns, cfg.Budgets.DailyTaskLimit)
			if cfg.Notify.WebhookURL != "" {
				fmt.Fprintf(outW, "notify: %s (%s)\n", cfg.Notify.WebhookURL, strings.Join(cfg.Notify.Events, ", "))
			}
			if len(cfg.Providers) > 0 {
				// Key values never leave the config.
				names := make([]string, 0, len(cfg.Providers))
				for name := range cfg.Providers {
					names = append(names, name)
				}
				sort.Strings(names)
				fmt.Fprintf(outW, "api_keys: %s\n", strings.Join(names, ", "))
			}
			return nil
		},
	}
}
