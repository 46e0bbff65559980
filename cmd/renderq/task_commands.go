package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"renderqueue/internal/config"
	"renderqueue/internal/queueaccess"
	"renderqueue/internal/taskfile"
)

func newTaskCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newEnqueueCommand(ctx, taskfile.RenderAnimation, "render", []string{"r"},
			"Queue a .blend file for animation rendering"),
		newEnqueueCommand(ctx, taskfile.RenderStill, "still", []string{"rs"},
			"Queue a .blend file for rendering a single frame"),
		newEnqueueCommand(ctx, taskfile.Bake, "bake", []string{"b"},
			"Queue a .blend file for baking all physics dynamics"),
	}
}

func newEnqueueCommand(ctx *commandContext, taskType taskfile.Type, name string, aliases []string, short string) *cobra.Command {
	index := -1

	cmd := &cobra.Command{
		Use:     name + " <file.blend> [blender args...]",
		Aliases: aliases,
		Short:   short,
		Long: short + `.

The file path may contain spaces when quoted. Any further arguments are passed
to the render script after the file. Use --index to insert the task ahead of
others; 0 puts it at the front of the queue.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := resolveBlendFile(args[0])
			if err != nil {
				return err
			}
			taskArgs := append([]string{file}, args[1:]...)
			return ctx.withQueue(func(access queueaccess.Access) error {
				pos, err := access.Enqueue(cmd.Context(), taskType, taskArgs, index)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued %s: %s (position %d)\n", taskType.DisplayName(), file, pos)
				if !access.Live() {
					fmt.Fprintln(out, "Daemon not running; the task will start when the daemon starts")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&index, "index", "i", -1, "Queue position to insert at (default: end of queue)")
	return cmd
}

// resolveBlendFile expands and absolutizes path so the daemon can find it
// regardless of its working directory.
func resolveBlendFile(path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), `"`)
	if path == "" {
		return "", fmt.Errorf("a .blend file is required")
	}
	abs, err := config.ExpandPath(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("inspect %q: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a .blend file", abs)
	}
	if !strings.EqualFold(filepath.Ext(abs), ".blend") {
		return "", fmt.Errorf("%s is not a .blend file", abs)
	}
	return abs, nil
}
