package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/indexsync/configs"
	"github.com/Aman-CERP/indexsync/internal/config"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage indexsync configuration.

Configuration precedence (lowest to highest):
  1. Defaults
  2. User config (~/.config/indexsync/config.yaml)
  3. Project config (.indexsync.yaml)
  4. Environment variables (INDEXSYNC_*)`,
	}
	cmd.AddCommand(newConfigInitCmd(flags))
	cmd.AddCommand(newConfigShowCmd(flags))
	cmd.AddCommand(newConfigPathCmd(flags))
	return cmd
}

func newConfigInitCmd(flags *globalFlags) *cobra.Command {
	var (
		force bool
		user  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		Example: `  # Project config in the current directory
  indexsync config init

  # Machine-wide config
  indexsync config init --user`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(flags.projectDir, config.FileName)
			template := configs.ProjectConfigTemplate
			if user {
				path = config.GetUserConfigPath()
				template = configs.UserConfigTemplate
			}
			return writeTemplate(cmd, path, template, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	return cmd
}

func writeTemplate(cmd *cobra.Command, path, template string, force bool) error {
	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); err == nil {
		if !force {
			_, _ = fmt.Fprintf(out, "Config already exists: %s\nUse --force to overwrite.\n", path)
			return nil
		}
		backup, err := config.Backup(path)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Backed up existing config to %s\n", backup)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Created %s\n", path)
	return nil
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file locations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, ok := config.ProjectPath(flags.projectDir)
			state := "missing"
			if ok {
				state = "found"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user:    %s\nproject: %s (%s)\n", config.GetUserConfigPath(), project, state)
			return nil
		},
	}
}
