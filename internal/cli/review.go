package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/specq-dev/specq/internal/app"
	"github.com/specq-dev/specq/internal/fsm"
	"github.com/specq-dev/specq/internal/model"
	"github.com/specq-dev/specq/internal/scanner"
)

// scanItems discovers the change specs with the app's config and logger.
func scanItems(ctx context.Context, a *app.App) ([]*model.WorkItem, error) {
	return scanner.Scan(ctx, a.Config)
}

// reviewOps are the operator actions on a single item. Each returns a
// TransitionError when the item is not in an eligible state.
var reviewOps = map[string]func(*model.WorkItem) error{
	"accept": fsm.Accept,
	"reject": fsm.Reject,
	"retry":  fsm.Retry,
	"skip":   fsm.Skip,
}

func newReviewCmd(flags *rootFlags, outW io.Writer, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
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

			// Sync first so an item that has never been run is still
			// addressable (e.g. skipping a change before its first dispatch).
			scanned, err := scanItems(ctx, a)
			if err != nil {
				return err
			}
			items, err := st.Sync(ctx, scanned)
			if err != nil {
				return err
			}

			var item *model.WorkItem
			for _, it := range items {
				if it.ID == args[0] {
					item = it
					break
				}
			}
			if item == nil {
				// The change dir may be gone while its record remains.
				if item, err = st.GetWorkItem(ctx, args[0]); err != nil {
					return err
				}
				if item == nil {
					return &ExitError{Code: 1, Message: fmt.Sprintf("unknown change: %s", args[0])}
				}
			}

			if err := reviewOps[verb](item); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			if err := st.UpsertWorkItem(ctx, item); err != nil {
				return err
			}
			fmt.Fprintf(outW, "%s: %s\n", item.ID, item.Status)
			return nil
		},
	}
}
