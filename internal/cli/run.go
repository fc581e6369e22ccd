package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/specq-dev/specq/internal/config"
	"github.com/specq-dev/specq/internal/dag"
	"github.com/specq-dev/specq/internal/fsm"
	"github.com/specq-dev/specq/internal/model"
	"github.com/specq-dev/specq/internal/scanner"
	"github.com/specq-dev/specq/internal/scheduler"
)

// configTemplate seeds a new project. Everything is commented out: the
// defaults apply until a line is uncommented.
const configTemplate = `# specq configuration. Personal overrides go in local.config.hcl
# (untracked); environment variables win over both files.

# base_branch = "main"
# changes_dir = "changes"

# compiler {
#   provider = "anthropic"   # or "none" for passthrough, or "claude_code"
#   model    = "claude-haiku-4-5"
# }

# executor {
#   type      = "claude_code"
#   model     = "claude-sonnet-4-5"
#   max_turns = 50
# }

# verification {
#   voter {
#     provider = "anthropic"
#     model    = "claude-sonnet-4-5"
#   }
#   voter {
#     provider = "openai"
#     model    = "gpt-5"
#   }
# }

# risk_policy {
#   low    = "skip"
#   medium = "majority"
#   high = {
#     strategy             = "unanimous"
#     require_confirmation = true
#   }
# }

# budgets {
#   max_retries      = 3
#   max_duration_sec = 600
# }

# notify {
#   webhook_url = ""
#   events      = ["change.completed", "change.failed", "change.needs_review", "quota.exceeded"]
# }
`

const exampleProposal = `---
depends_on: []
risk: low
---
# Example Change

This is an example change spec. Replace with your actual proposal.

## Goal
Describe what this change achieves.

## Approach
Describe how to implement it.
`

const exampleTasks = `# Tasks

## task-1: Example Task
Implement the example feature.
- Step 1
- Step 2
`

// gitignoreEntries keeps personal config and the state database out of the
// repository.
var gitignoreEntries = []string{
	".specq/" + config.PersonalFile,
	".specq/" + config.StateFile,
	".specq/" + config.StateFile + "-wal",
	".specq/" + config.StateFile + "-shm",
	".specq/" + config.StateLockFile,
}

func newInitCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a specq project in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			root := a.Config.ProjectRoot

			if err := os.MkdirAll(filepath.Join(root, config.Dir), 0o755); err != nil {
				return err
			}
			cfgPath := filepath.Join(root, config.Dir, config.SharedFile)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(configTemplate), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(outW, "Wrote %s\n", cfgPath)
			} else {
				fmt.Fprintf(outW, "Config already present at %s\n", cfgPath)
			}

			changes := filepath.Join(root, a.Config.ChangesDir)
			if err := os.MkdirAll(changes, 0o755); err != nil {
				return err
			}
			fmt.Fprintf(outW, "Changes directory: %s\n", changes)

			exampleDir := filepath.Join(changes, "000-example")
			if _, err := os.Stat(exampleDir); os.IsNotExist(err) {
				if err := os.MkdirAll(exampleDir, 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(filepath.Join(exampleDir, "proposal.md"), []byte(exampleProposal), 0o644); err != nil {
					return err
				}
				if err := os.WriteFile(filepath.Join(exampleDir, "tasks.md"), []byte(exampleTasks), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(outW, "Created example change: %s\n", exampleDir)
			}

			if err := appendGitignore(root, outW); err != nil {
				return err
			}
			return nil
		},
	}
}

// appendGitignore adds the specq state entries to the project .gitignore,
// keeping whatever is already there.
func appendGitignore(root string, outW io.Writer) error {
	path := filepath.Join(root, ".gitignore")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	var additions []string
	for _, entry := range gitignoreEntries {
		if !strings.Contains(string(existing), entry) {
			additions = append(additions, entry)
		}
	}
	if len(additions) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		fmt.Fprintln(f)
	}
	fmt.Fprintln(f, "# specq")
	for _, entry := range additions {
		fmt.Fprintln(f, entry)
	}
	fmt.Fprintln(outW, "Updated .gitignore")
	return nil
}

func newScanCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List the change specs on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			items, err := scanner.Scan(a.Context(cmd.Context()), a.Config)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(outW, "No change specs found.")
				return nil
			}
			tw := newTable(outW)
			fmt.Fprintln(tw, "ID\tRISK\tPRIORITY\tDEPS\tTASKS\tTITLE")
			for _, item := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
					item.ID, item.Risk, item.Priority, joinOrDash(item.Deps), len(item.Tasks), item.Title)
			}
			return tw.Flush()
		},
	}
}

func newPlanCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the projected execution order without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			ctx := a.Context(cmd.Context())

			items, err := scanner.Scan(ctx, a.Config)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(outW, "Nothing to plan.")
				return nil
			}
			if err := overlayStoredState(ctx, a, items); err != nil {
				return err
			}
			graph, err := dag.Build(items)
			if err != nil {
				return err
			}

			order := projectOrder(items, graph)
			if len(order) == 0 {
				fmt.Fprintln(outW, "No dispatchable work: every item is settled or blocked.")
				return nil
			}
			fmt.Fprintln(outW, "Projected order (assuming every item is accepted):")
			for i, id := range order {
				fmt.Fprintf(outW, "  %d. %s\n", i+1, id)
			}
			return nil
		},
	}
}

// projectOrder simulates the scheduler against in-memory copies, treating
// each selected item as accepted, and returns the resulting dispatch order.
func projectOrder(items []*model.WorkItem, graph *dag.Graph) []string {
	sim := make([]*model.WorkItem, len(items))
	for i, item := range items {
		clone := *item
		sim[i] = &clone
	}

	var order []string
	for {
		fsm.Promote(sim, dag.NewView(graph, sim))
		next := scheduler.SelectNext(sim, dag.NewView(graph, sim))
		if next == nil {
			return order
		}
		order = append(order, next.ID)
		next.Status = model.StatusAccepted
	}
}

func newRunCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "run [id]",
		Short: "Run one change, or the whole backlog with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return &ExitError{Code: 2, Message: "run requires a change id or --all"}
			}
			target := ""
			if len(args) == 1 {
				target = args[0]
			}

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

			if err := a.NewPipeline(st).Run(ctx, target); err != nil {
				return err
			}
			return printStatusTable(ctx, st, outW)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every dispatchable change")
	return cmd
}

func joinOrDash(parts []string) string {
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
