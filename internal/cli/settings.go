package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/ini.v1"

	"github.com/rescale/simchain/internal/config"
)

// newSettingsCmd creates the 'settings' command group.
func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage simchain tool settings",
		Long: `Tool settings apply to every experiment run by this user: logging,
monitor polling, staging, run history, object-store mirroring,
notifications and the HTTP proxy.

Commands:
  show  - Display the effective settings
  set   - Change one value
  path  - Show the settings file path`,
	}

	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetCmd())
	cmd.AddCommand(newSettingsPathCmd())

	return cmd
}

func settingsPath() string {
	if settingsFile != "" {
		return settingsFile
	}
	return config.DefaultSettingsPath()
}

// newSettingsShowCmd creates the 'settings show' command.
func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.LoadSettings(settingsPath())
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), s)
			if err := s.Validate(); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\nWarning: %v\n", err)
			}
			return nil
		},
	}
}

func printSettings(w io.Writer, s *config.Settings) {
	secret := func(v string) string {
		if v == "" {
			return "(not set)"
		}
		return "********"
	}
	fmt.Fprintln(w, "[logging]")
	fmt.Fprintf(w, "  level = %s\n  file_logging = %t\n", s.Logging.Level, s.Logging.FileLogging)
	fmt.Fprintln(w, "[monitor]")
	fmt.Fprintf(w, "  poll_seconds = %d\n", s.Monitor.PollSeconds)
	fmt.Fprintln(w, "[staging]")
	fmt.Fprintf(w, "  progress = %t\n  disk_safety_margin = %.2f\n", s.Staging.Progress, s.Staging.DiskSafetyMargin)
	fmt.Fprintln(w, "[history]")
	fmt.Fprintf(w, "  enabled = %t\n  path = %s\n", s.History.Enabled, s.History.Path)
	fmt.Fprintln(w, "[archive]")
	fmt.Fprintf(w, "  backend = %s\n  bucket = %s\n  prefix = %s\n  region = %s\n",
		s.Archive.Backend, s.Archive.Bucket, s.Archive.Prefix, s.Archive.Region)
	fmt.Fprintf(w, "  access_key_id = %s\n  secret_access_key = %s\n  container_url = %s\n  max_retries = %d\n",
		s.Archive.AccessKeyID, secret(s.Archive.SecretAccessKey), secret(s.Archive.ContainerURL), s.Archive.MaxRetries)
	fmt.Fprintln(w, "[notify]")
	fmt.Fprintf(w, "  webhook_url = %s\n  events = %s\n", s.Notify.WebhookURL, s.Notify.Events)
	fmt.Fprintln(w, "[proxy]")
	fmt.Fprintf(w, "  mode = %s\n  host = %s\n  port = %d\n  user = %s\n  password = %s\n  no_proxy = %s\n",
		s.Proxy.Mode, s.Proxy.Host, s.Proxy.Port, s.Proxy.User, secret(s.Proxy.Password), s.Proxy.NoProxy)
}

// newSettingsSetCmd creates the 'settings set' command.
func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Change one setting",
		Long: `Change one setting and save the file. The result is validated before
it replaces the current file.

Examples:
  simchain settings set monitor.poll_seconds 30
  simchain settings set archive.backend s3
  simchain settings set archive.bucket my-campaign-archive`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setSetting(settingsPath(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			if s.Archive.SecretAccessKey != "" || s.Proxy.Password != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Settings hold credentials; %s is readable by you only.\n", settingsPath())
			}
			return nil
		},
	}
}

// setSetting writes one key into the INI file at path, validates the
// result and saves it in canonical form.
func setSetting(path, dotted, value string) (*config.Settings, error) {
	section, key, ok := strings.Cut(dotted, ".")
	if !ok || section == "" || key == "" {
		return nil, config.NewConfigError(dotted, "expected <section>.<key>")
	}
	if !config.KnownSetting(section, key) {
		return nil, config.NewConfigError(dotted, "unknown setting")
	}

	file := ini.Empty()
	if _, err := os.Stat(path); err == nil {
		if file, err = ini.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	file.Section(section).Key(key).SetValue(value)

	tmp, err := os.CreateTemp("", "simchain-settings-*.conf")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)
	if err := file.SaveTo(tmpPath); err != nil {
		return nil, fmt.Errorf("failed to write settings: %w", err)
	}

	s, err := config.LoadSettings(tmpPath)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, config.WrapConfigError(dotted, "rejected", err)
	}
	if err := config.SaveSettings(s, path); err != nil {
		return nil, err
	}
	return s, nil
}

// newSettingsPathCmd creates the 'settings path' command.
func newSettingsPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the settings file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), settingsPath())
		},
	}
}
