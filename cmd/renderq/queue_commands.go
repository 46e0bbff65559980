package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"renderqueue/internal/queueaccess"
	"renderqueue/internal/taskfile"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	list := newQueueListCommand(ctx)

	queueCmd := &cobra.Command{
		Use:     "queue",
		Aliases: []string{"rl"},
		Short:   "Inspect and manage pending tasks",
		RunE:    list.RunE,
	}
	queueCmd.Flags().AddFlagSet(list.Flags())

	queueCmd.AddCommand(list)
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the current task and the pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				resp, err := access.List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Current != nil {
					fmt.Fprintf(out, "Current: %s %s (%s)\n", resp.Current.TypeName, resp.Current.File, resp.Current.Elapsed)
				}
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, taskTable.render(buildTaskRows(resp.Items)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <index>",
		Aliases: []string{"rm"},
		Short:   "Remove a pending task by its queue index",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueue(func(access queueaccess.Access) error {
				removed, err := access.Remove(cmd.Context(), index)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s: %s\n", removed.TypeName, removed.File)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every pending task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearTarget(cmd, ctx, "queued", 0)
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history [completed|failed]",
		Short: "Show completed or failed tasks, most recent first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := taskfile.HistoryCompleted
			if len(args) == 1 {
				parsed, err := taskfile.ParseHistoryKind(args[0])
				if err != nil {
					return err
				}
				kind = parsed
			}
			return ctx.withQueue(func(access queueaccess.Access) error {
				resp, err := access.History(cmd.Context(), kind, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintf(out, "No %s tasks\n", kind)
					return nil
				}
				if kind == taskfile.HistoryFailed {
					fmt.Fprint(out, failedTable.render(buildFailedRows(resp.Items)))
					return nil
				}
				fmt.Fprint(out, taskTable.render(buildTaskRows(resp.Items)))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", 10, "Number of entries to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "clear <completed|failed|queued>",
		Short: "Clear a history list or the pending queue",
		Long: `Clear a history list or the pending queue.

"c", "f" and "q" are accepted as short forms. --keep retains the most recent
entries of a history list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearTarget(cmd, ctx, args[0], keep)
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "Number of most recent history entries to keep")
	return cmd
}

func clearTarget(cmd *cobra.Command, ctx *commandContext, target string, keep int) error {
	if keep < 0 {
		return fmt.Errorf("--keep must not be negative")
	}
	return ctx.withQueue(func(access queueaccess.Access) error {
		out := cmd.OutOrStdout()
		switch target {
		case "q", "queue", "queued":
			if err := access.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out, "Cleared pending queue")
			return nil
		}
		kind, err := taskfile.ParseHistoryKind(target)
		if err != nil {
			return fmt.Errorf("unknown clear target %q (expected completed, failed or queued)", target)
		}
		if err := access.ClearHistory(cmd.Context(), kind, keep); err != nil {
			return err
		}
		if keep > 0 {
			fmt.Fprintf(out, "Cleared %s history, kept %d most recent\n", kind, keep)
		} else {
			fmt.Fprintf(out, "Cleared %s history\n", kind)
		}
		return nil
	})
}

func parseIndex(value string) (int, error) {
	index, err := strconv.Atoi(value)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid queue index %q", value)
	}
	return index, nil
}
