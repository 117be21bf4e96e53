package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdejongh/branchsync/pkg/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View or create the branchsync configuration file.`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Repository: %s\n", cfg.Repository())
			fmt.Fprintf(out, "Branch: %s\n", cfg.Remote.Branch)
			fmt.Fprintf(out, "API URL: %s\n", cfg.Remote.APIURL)
			fmt.Fprintf(out, "Token: %s\n", tokenSource(cfg))
			fmt.Fprintf(out, "Project: %s\n", cfg.Paths.Project)
			fmt.Fprintf(out, "Scratch: %s\n", cfg.Paths.Scratch)
			fmt.Fprintf(out, "Direction: %s\n", cfg.Sync.Direction)
			fmt.Fprintf(out, "Max Workers: %d\n", cfg.Performance.MaxWorkers)
			fmt.Fprintf(out, "Output Format: %s\n", cfg.Output.Format)
			fmt.Fprintf(out, "Log Format: %s\n", cfg.Logging.Format)
			fmt.Fprintf(out, "Log Level: %s\n", cfg.Logging.Level)

			return nil
		},
	}
}

// tokenSource describes where the token comes from without printing it
func tokenSource(cfg *config.Config) string {
	switch {
	case cfg.Remote.Token != "":
		return "inline (config file)"
	case cfg.Remote.TokenFile != "":
		return "file " + cfg.Remote.TokenFile
	case cfg.Remote.TokenEnv != "":
		return "environment $" + cfg.Remote.TokenEnv
	default:
		return "none"
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigFile
			if path == "" {
				path = config.DefaultConfigPath()
			}

			if !force && fileExists(path) {
				return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
			}

			if err := config.SaveToFile(config.Default(), path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
