package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/simchain/internal/constants"
)

// Settings holds per-user tool settings, independent of any experiment.
//
// INI format:
//
//	[logging]
//	level = info
//	file_logging = true
//
//	[monitor]
//	poll_seconds = 10
//
//	[staging]
//	progress = true
//	disk_safety_margin = 1.05
//
//	[history]
//	enabled = false
//	path =
//
//	[archive]
//	backend = none
//	bucket =
//	prefix =
//	region =
//	access_key_id =
//	secret_access_key =
//	container_url =
//	max_retries = 5
//
//	[notify]
//	webhook_url =
//	events = complete,killed,submit_failed,run_failed
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 0
//	user =
//	password =
//	no_proxy =
type Settings struct {
	Logging LoggingSettings
	Monitor MonitorSettings
	Staging StagingSettings
	History HistorySettings
	Archive ArchiveSettings
	Notify  NotifySettings
	Proxy   ProxySettings
}

// LoggingSettings controls console level and the rotating phase log.
type LoggingSettings struct {
	Level       string `ini:"level"`
	FileLogging bool   `ini:"file_logging"`
}

// MonitorSettings controls the run monitor.
type MonitorSettings struct {
	// PollSeconds is the sleep between liveness checks.
	// Minimum: 1, Maximum: 3600, Default: 10
	PollSeconds int `ini:"poll_seconds"`
}

// StagingSettings controls file staging.
type StagingSettings struct {
	Progress         bool    `ini:"progress"`
	DiskSafetyMargin float64 `ini:"disk_safety_margin"`
}

// HistorySettings controls the optional SQLite run history.
type HistorySettings struct {
	Enabled bool `ini:"enabled"`
	// Path overrides the default <exp>/scripts/<expid>_history.db location.
	Path string `ini:"path"`
}

// ArchiveSettings configures mirroring of archived files to object storage.
type ArchiveSettings struct {
	// Backend is one of none, s3, azure.
	Backend         string `ini:"backend"`
	Bucket          string `ini:"bucket"`
	Prefix          string `ini:"prefix"`
	Region          string `ini:"region"`
	AccessKeyID     string `ini:"access_key_id"`
	SecretAccessKey string `ini:"secret_access_key"`
	// ContainerURL is an Azure container URL carrying a SAS token.
	ContainerURL string `ini:"container_url"`
	MaxRetries   int    `ini:"max_retries"`
}

// NotifySettings configures webhook notifications.
type NotifySettings struct {
	WebhookURL string `ini:"webhook_url"`
	Events     string `ini:"events"`
}

// ProxySettings configures the outbound HTTP proxy.
type ProxySettings struct {
	Mode     string `ini:"mode"`
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
	NoProxy  string `ini:"no_proxy"`
}

// Settings validation errors
var (
	ErrInvalidPollSeconds   = errors.New("poll_seconds must be between 1 and 3600")
	ErrInvalidSafetyMargin  = errors.New("disk_safety_margin must be at least 1.0")
	ErrInvalidArchive       = errors.New("archive backend must be none, s3 or azure")
	ErrArchiveMissingBucket = errors.New("bucket is required for the s3 archive backend")
	ErrArchiveMissingURL    = errors.New("container_url is required for the azure archive backend")
	ErrInvalidProxyMode     = errors.New("proxy mode must be no-proxy, system, basic or ntlm")
	ErrProxyMissingHost     = errors.New("proxy host is required for basic and ntlm modes")
)

// NewSettings creates Settings with default values.
func NewSettings() *Settings {
	return &Settings{
		Logging: LoggingSettings{
			Level:       "info",
			FileLogging: true,
		},
		Monitor: MonitorSettings{
			PollSeconds: int(constants.DefaultPollPeriod / time.Second),
		},
		Staging: StagingSettings{
			Progress:         true,
			DiskSafetyMargin: constants.DiskSafetyMargin,
		},
		Archive: ArchiveSettings{
			Backend:    "none",
			MaxRetries: 5,
		},
		Notify: NotifySettings{
			Events: "complete,killed,submit_failed,run_failed",
		},
		Proxy: ProxySettings{
			Mode: "no-proxy",
		},
	}
}

// LoadSettings loads settings from an INI file.
// If path is empty, uses the default path.
// If the file doesn't exist, returns defaults and no error.
func LoadSettings(path string) (*Settings, error) {
	cfg := NewSettings()

	if path == "" {
		path = DefaultSettingsPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	logSection := iniFile.Section("logging")
	cfg.Logging.Level = logSection.Key("level").MustString("info")
	cfg.Logging.FileLogging = logSection.Key("file_logging").MustBool(true)

	cfg.Monitor.PollSeconds = iniFile.Section("monitor").Key("poll_seconds").MustInt(cfg.Monitor.PollSeconds)

	stagingSection := iniFile.Section("staging")
	cfg.Staging.Progress = stagingSection.Key("progress").MustBool(true)
	cfg.Staging.DiskSafetyMargin = stagingSection.Key("disk_safety_margin").MustFloat64(constants.DiskSafetyMargin)

	historySection := iniFile.Section("history")
	cfg.History.Enabled = historySection.Key("enabled").MustBool(false)
	cfg.History.Path = historySection.Key("path").String()

	archiveSection := iniFile.Section("archive")
	cfg.Archive.Backend = strings.ToLower(archiveSection.Key("backend").MustString("none"))
	cfg.Archive.Bucket = archiveSection.Key("bucket").String()
	cfg.Archive.Prefix = archiveSection.Key("prefix").String()
	cfg.Archive.Region = archiveSection.Key("region").String()
	cfg.Archive.AccessKeyID = archiveSection.Key("access_key_id").String()
	cfg.Archive.SecretAccessKey = archiveSection.Key("secret_access_key").String()
	cfg.Archive.ContainerURL = archiveSection.Key("container_url").String()
	cfg.Archive.MaxRetries = archiveSection.Key("max_retries").MustInt(5)

	notifySection := iniFile.Section("notify")
	cfg.Notify.WebhookURL = notifySection.Key("webhook_url").String()
	cfg.Notify.Events = notifySection.Key("events").MustString(cfg.Notify.Events)

	proxySection := iniFile.Section("proxy")
	cfg.Proxy.Mode = strings.ToLower(proxySection.Key("mode").MustString("no-proxy"))
	cfg.Proxy.Host = proxySection.Key("host").String()
	cfg.Proxy.Port = proxySection.Key("port").MustInt(0)
	cfg.Proxy.User = proxySection.Key("user").String()
	cfg.Proxy.Password = proxySection.Key("password").String()
	cfg.Proxy.NoProxy = proxySection.Key("no_proxy").String()

	return cfg, nil
}

// SaveSettings writes settings to path (default path if empty).
// The file is written with user-only permissions since it may hold credentials.
func SaveSettings(cfg *Settings, path string) error {
	if path == "" {
		path = DefaultSettingsPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	iniFile, err := cfg.toINI()
	if err != nil {
		return err
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Chmod(tmpPath, constants.PrivatePerm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set settings permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}

type iniSection struct {
	name string
	src  interface{}
}

func (cfg *Settings) sections() []iniSection {
	return []iniSection{
		{"logging", &cfg.Logging},
		{"monitor", &cfg.Monitor},
		{"staging", &cfg.Staging},
		{"history", &cfg.History},
		{"archive", &cfg.Archive},
		{"notify", &cfg.Notify},
		{"proxy", &cfg.Proxy},
	}
}

func (cfg *Settings) toINI() (*ini.File, error) {
	iniFile := ini.Empty()
	for _, s := range cfg.sections() {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		if err := section.ReflectFrom(s.src); err != nil {
			return nil, fmt.Errorf("failed to write %s section: %w", s.name, err)
		}
	}
	return iniFile, nil
}

// KnownSetting reports whether section.key is a recognised setting.
func KnownSetting(section, key string) bool {
	f, err := NewSettings().toINI()
	if err != nil {
		return false
	}
	sec, err := f.GetSection(section)
	if err != nil {
		return false
	}
	return sec.HasKey(key)
}

// Validate checks value ranges and backend-specific requirements.
func (cfg *Settings) Validate() error {
	if cfg.Monitor.PollSeconds < 1 || cfg.Monitor.PollSeconds > int(constants.MaxPollPeriod/time.Second) {
		return ErrInvalidPollSeconds
	}
	if cfg.Staging.DiskSafetyMargin < 1.0 {
		return ErrInvalidSafetyMargin
	}

	switch cfg.Archive.Backend {
	case "", "none":
	case "s3":
		if strings.TrimSpace(cfg.Archive.Bucket) == "" {
			return ErrArchiveMissingBucket
		}
	case "azure":
		if strings.TrimSpace(cfg.Archive.ContainerURL) == "" {
			return ErrArchiveMissingURL
		}
	default:
		return ErrInvalidArchive
	}

	switch cfg.Proxy.Mode {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if strings.TrimSpace(cfg.Proxy.Host) == "" {
			return ErrProxyMissingHost
		}
	default:
		return ErrInvalidProxyMode
	}

	return nil
}

// PollPeriod returns the monitor poll period as a duration.
func (cfg *Settings) PollPeriod() time.Duration {
	if cfg.Monitor.PollSeconds <= 0 {
		return constants.DefaultPollPeriod
	}
	return time.Duration(cfg.Monitor.PollSeconds) * time.Second
}

// NotifyEvents returns the configured notification event names.
func (cfg *Settings) NotifyEvents() []string {
	if cfg.Notify.Events == "" {
		return nil
	}
	parts := strings.Split(cfg.Notify.Events, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
