package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"renderqueue/internal/ipc"
)

func newSkipCommand(ctx *commandContext) *cobra.Command {
	var drop bool

	cmd := &cobra.Command{
		Use:   "skip [index]",
		Short: "Stop the running task and re-queue it",
		Long: `Stop the running task and re-queue it at the end of the queue, or at
[index] when given. 0 re-inserts it at the front. With --drop the task is
discarded instead. Skipped tasks are not recorded in either history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index := -1
			if len(args) == 1 {
				if drop {
					return fmt.Errorf("an index cannot be combined with --drop")
				}
				parsed, err := parseIndex(args[0])
				if err != nil {
					return err
				}
				index = parsed
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Skip(ipc.SkipRequest{Requeue: !drop, Index: index})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Skipped == nil {
					fmt.Fprintln(out, "No task is running")
					return nil
				}
				if drop {
					fmt.Fprintf(out, "Skipped %s: %s\n", resp.Skipped.TypeName, resp.Skipped.File)
					return nil
				}
				where := "end of queue"
				if index >= 0 {
					where = fmt.Sprintf("index %d", index)
				}
				fmt.Fprintf(out, "Skipped %s: %s (re-queued at %s)\n", resp.Skipped.TypeName, resp.Skipped.File, where)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "Discard the running task instead of re-queueing it")
	return cmd
}

func newQuitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "quit",
		Aliases: []string{"q", "exit"},
		Short:   "Stop the executor and shut the daemon down",
		Long: `Stop the executor and shut the daemon down. A running task is killed and
kept as the current task so it restarts when the daemon next starts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Quit(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Quit requested")
				return nil
			})
		},
	}
}
