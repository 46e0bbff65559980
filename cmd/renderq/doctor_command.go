package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"renderqueue/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, free space and the Blender install",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			results := preflight.RunAll(cmd.Context(), cfg)
			failed := 0
			lines := make([]string, 0, len(results))
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					failed++
				}
				lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			printSection(out, "Filesystem", colorize, lines)
			fmt.Fprintln(out)

			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg)
			for _, dep := range statuses {
				if !dep.Available && !dep.Optional {
					failed++
				}
			}
			printSection(out, "Dependencies", colorize, dependencyLines(statuses, colorize))

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
