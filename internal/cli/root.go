// Package cli provides the command-line interface for simchain.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/logging"
	"github.com/rescale/simchain/internal/version"
)

var (
	// Global flags
	settingsFile string
	verbose      bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simchain",
		Short: "simchain - chains simulation runs through an HPC batch system",
		Long: `simchain ` + version.Version + ` - Built: ` + version.BuildTime + `
Runs a coupled-model experiment as a chain of phases. Each phase stages
files, submits the next batch job and hands the calendar on, until the
final date is reached.

Typical use:
  simchain run experiment.yaml -t prepcompute      start or continue the chain
  simchain run experiment.yaml -t prepcompute --check
                                                   show what would be submitted
  simchain status experiment.yaml                  window, monitors, audit tail`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewLogger(cmd.ErrOrStderr())
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "Tool settings file (default "+config.DefaultSettingsPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(newCompletionCmd(rootCmd))
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// newCompletionCmd generates shell completion scripts.
func newCompletionCmd(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate a shell completion script",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish"},
		Long: `Generate a completion script for simchain.

QUICK TEST (temporary, current session only):
  source <(simchain completion bash)

Linux with bash:
  simchain completion bash | sudo tee /etc/bash_completion.d/simchain`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return rootCmd.GenZshCompletion(cmd.OutOrStdout())
			default:
				return rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
			}
		},
	}
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	if err != nil {
		GetLogger().Error().Err(err).Int("exit_code", ExitCode(err)).Msg("simchain failed")
	}
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newSettingsCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadSettings reads and validates the tool settings. Invalid settings
// are a configuration error.
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadSettings(settingsFile)
	if err != nil {
		return nil, config.WrapConfigError("settings", "cannot be loaded", err)
	}
	if err := s.Validate(); err != nil {
		return nil, config.WrapConfigError("settings", "invalid", err)
	}
	if !verbose {
		logging.SetGlobalLevel(logging.ParseLevel(s.Logging.Level))
	}
	return s, nil
}
