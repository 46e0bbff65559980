package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"renderqueue/internal/config"
	"renderqueue/internal/preflight"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
		overrides  config.SampleOverrides
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		Long: `Create a sample configuration file and check that the configured Blender
binary can be run. Use --blender when Blender is not on your PATH.`,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := config.WriteSample(targetPath, overrides, overwrite)
			if errors.Is(err, config.ErrConfigExists) {
				return fmt.Errorf("%w at %s (use --overwrite to replace it)", err, target)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)

			cfg, _, _, err := config.Load(target)
			if err != nil {
				return fmt.Errorf("load written config: %w", err)
			}
			colorize := shouldColorize(out)
			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg)
			printSection(out, "Dependencies", colorize, dependencyLines(statuses, colorize))
			for _, dep := range statuses {
				if !dep.Available && !dep.Optional {
					fmt.Fprintf(out, "Set blender.binary in %s or rerun with --blender <path>\n", target)
					break
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	cmd.Flags().StringVar(&overrides.BlenderBinary, "blender", "", "Blender executable to write into the config")
	cmd.Flags().StringVar(&overrides.NtfyTopic, "ntfy-topic", "", "ntfy topic URL for task notifications")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if _, err := os.Stat(ctx.configPath); err != nil {
				fmt.Fprintln(out, "Config file does not exist; defaults were used")
			}
			fmt.Fprintf(out, "Task directory: %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "Log directory:  %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "Inbox:          %s\n", cfg.Paths.InboxDir)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
