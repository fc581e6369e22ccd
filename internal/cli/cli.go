// Package cli is the command surface. It parses arguments with cobra, builds
// the app, and renders results; all orchestration logic lives behind the app
// and pipeline packages.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/specq-dev/specq/internal/app"
)

// ExitError carries a specific process exit code up to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	projectRoot string
	logLevel    string
	logFormat   string
}

// Execute runs the specq command line against args and writes human output to
// outW. Logs go to stderr so output stays pipeable.
func Execute(ctx context.Context, args []string, outW io.Writer) error {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "specq",
		Short:         "Spec-driven change orchestration",
		Long:          "specq scans change specs, schedules them across their dependency graph,\nand drives each one through compile, execute, and verification voting.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.projectRoot, "project-root", "C", "", "project root (defaults to the working directory)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(
		newInitCmd(flags, outW),
		newScanCmd(flags, outW),
		newPlanCmd(flags, outW),
		newRunCmd(flags, outW),
		newStatusCmd(flags, outW),
		newDepsCmd(flags, outW),
		newLogsCmd(flags, outW),
		newVotesCmd(flags, outW),
		newReviewCmd(flags, outW, "accept", "Accept a change awaiting review"),
		newReviewCmd(flags, outW, "reject", "Reject a change awaiting review"),
		newReviewCmd(flags, outW, "retry", "Requeue a failed change"),
		newReviewCmd(flags, outW, "skip", "Retire a change without running it"),
		newConfigCmd(flags, outW),
	)

	root.SetArgs(args)
	root.SetOut(outW)
	return root.ExecuteContext(ctx)
}

// buildApp resolves the project root and loads configuration for one command
// invocation.
func buildApp(ctx context.Context, flags *rootFlags) (*app.App, error) {
	root := flags.projectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	return app.New(ctx, app.Options{
		ProjectRoot: root,
		LogLevel:    flags.logLevel,
		LogFormat:   flags.logFormat,
		LogOut:      os.Stderr,
	})
}
