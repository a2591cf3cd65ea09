package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // default zone must load without a system tz database

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gv2cal/internal/classeviva"
	"gv2cal/internal/fsutil"
	appLog "gv2cal/internal/log"
)

// Environment variables read by ApplyEnv. The first three are required
// unless the config file provides them.
const (
	EnvUsername       = "CLASSEVIVA_USERNAME"
	EnvPassword       = "CLASSEVIVA_PASSWORD"
	EnvAgendaInterval = "AGENDA_INTERVAL"
	EnvBaseURL        = "GV2CAL_BASE_URL"
	EnvTimezone       = "GV2CAL_TIMEZONE"
	EnvRegistryPath   = "GV2CAL_REGISTRY"
	EnvOutputPath     = "GV2CAL_OUTPUT"
	EnvLogLevel       = "GV2CAL_LOG_LEVEL"
)

const (
	defaultTimezone       = "Europe/Rome"
	defaultRegistryPath   = "registry.json"
	defaultOutputPath     = "agenda.ics"
	defaultLogLevel       = "info"
	defaultTimeoutSeconds = 30
)

// ClassevivaConfig holds API access settings.
type ClassevivaConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// BaseURL is the REST root, e.g. "https://web.spaggiari.eu/rest/v1".
	BaseURL string `yaml:"base_url"`
	// UserAgent and APIKey identify the client to the API.
	UserAgent string `yaml:"user_agent"`
	APIKey    string `yaml:"api_key"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Validate validates the API settings.
func (c *ClassevivaConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Username, validation.Required.Error("must be set ("+EnvUsername+")")),
		validation.Field(&c.Password, validation.Required.Error("must be set ("+EnvPassword+")")),
		validation.Field(&c.BaseURL, validation.Required, is.RequestURL),
		validation.Field(&c.TimeoutSeconds, validation.Min(1)),
	)
}

// Timeout returns the HTTP timeout.
func (c *ClassevivaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Config is the top-level application configuration.
type Config struct {
	Classeviva ClassevivaConfig `yaml:"classeviva"`

	// AgendaInterval is a number of months around today, or "period" to
	// use the current school period.
	AgendaInterval string `yaml:"agenda_interval"`

	// Timezone is the IANA zone used for the annotations in event
	// descriptions (e.g. "Europe/Rome").
	Timezone string `yaml:"timezone"`

	// RegistryPath is the first-seen registry JSON file.
	RegistryPath string `yaml:"registry_path"`
	// OutputPath is the generated calendar file.
	OutputPath string `yaml:"output_path"`

	OrganizerDomain string `yaml:"organizer_domain"`
	CalendarName    string `yaml:"calendar_name"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns an in-memory default configuration. Credentials
// and the agenda interval are left empty on purpose.
func DefaultConfig() *Config {
	return &Config{
		Classeviva: ClassevivaConfig{
			BaseURL:        classeviva.DefaultBaseURL,
			UserAgent:      classeviva.DefaultUserAgent,
			APIKey:         classeviva.DefaultAPIKey,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Timezone:        defaultTimezone,
		RegistryPath:    defaultRegistryPath,
		OutputPath:      defaultOutputPath,
		OrganizerDomain: "syswhite.dev",
		CalendarName:    "Classeviva",
		LogLevel:        defaultLogLevel,
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled files still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Classeviva.BaseURL == "" {
		c.Classeviva.BaseURL = d.Classeviva.BaseURL
	}
	if c.Classeviva.UserAgent == "" {
		c.Classeviva.UserAgent = d.Classeviva.UserAgent
	}
	if c.Classeviva.APIKey == "" {
		c.Classeviva.APIKey = d.Classeviva.APIKey
	}
	if c.Classeviva.TimeoutSeconds <= 0 {
		c.Classeviva.TimeoutSeconds = d.Classeviva.TimeoutSeconds
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.RegistryPath == "" {
		c.RegistryPath = d.RegistryPath
	}
	if c.OutputPath == "" {
		c.OutputPath = d.OutputPath
	}
	if c.OrganizerDomain == "" {
		c.OrganizerDomain = d.OrganizerDomain
	}
	if c.CalendarName == "" {
		c.CalendarName = d.CalendarName
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Classeviva.Validate(); err != nil {
		return fmt.Errorf("classeviva: %w", err)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.AgendaInterval,
			validation.Required.Error("must be set ("+EnvAgendaInterval+")"),
			validation.By(func(v any) error {
				_, err := classeviva.ParseIntervalSpec(v.(string))
				return err
			}),
		),
		validation.Field(&c.Timezone, validation.Required, validation.By(func(v any) error {
			_, err := time.LoadLocation(v.(string))
			return err
		})),
		validation.Field(&c.RegistryPath, validation.Required),
		validation.Field(&c.OutputPath, validation.Required),
		validation.Field(&c.OrganizerDomain, validation.Required, is.Domain),
		validation.Field(&c.LogLevel, validation.By(func(v any) error {
			_, err := appLog.ParseLevel(v.(string))
			return err
		})),
	)
}

// IntervalSpec parses AgendaInterval.
func (c *Config) IntervalSpec() (classeviva.IntervalSpec, error) {
	return classeviva.ParseIntervalSpec(c.AgendaInterval)
}

// Location loads Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Level parses LogLevel.
func (c *Config) Level() appLog.Level {
	l, _ := appLog.ParseLevel(c.LogLevel)
	return l
}

// ApplyEnv overrides fields from environment variables found by lookup.
// Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(EnvUsername, &c.Classeviva.Username)
	set(EnvPassword, &c.Classeviva.Password)
	set(EnvAgendaInterval, &c.AgendaInterval)
	set(EnvBaseURL, &c.Classeviva.BaseURL)
	set(EnvTimezone, &c.Timezone)
	set(EnvRegistryPath, &c.RegistryPath)
	set(EnvOutputPath, &c.OutputPath)
	set(EnvLogLevel, &c.LogLevel)
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Debug("no env file found", "path", path)
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	appLog.Debug("env file loaded", "path", path)
	return nil
}

// Load builds the effective configuration:
//   - defaults,
//   - then the YAML file at path if it exists (${VAR} references are expanded,
//     any other "$" is kept as written),
//   - then environment variables,
//   - then validation.
//
// A missing file is fine: credentials usually come from the environment.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(expandVars(data, lookup), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			appLog.Debug("config file not found, using defaults", "path", path)
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(lookup)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandVars replaces ${NAME} with its value from lookup, or "" when unset.
func expandVars(data []byte, lookup func(string) (string, bool)) []byte {
	return varRef.ReplaceAllFunc(data, func(m []byte) []byte {
		v, _ := lookup(string(m[2 : len(m)-1]))
		return []byte(v)
	})
}

// Save writes the given configuration to the specified path atomically
// with 0600 permissions, since it may hold the password.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(path, data, 0o600, ".gv2cal-config-*.tmp")
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Redacted returns a copy that is safe to log.
func (c *Config) Redacted() map[string]string {
	return map[string]string{
		"username":        c.Classeviva.Username,
		"password_set":    strconv.FormatBool(c.Classeviva.Password != ""),
		"base_url":        c.Classeviva.BaseURL,
		"agenda_interval": c.AgendaInterval,
		"timezone":        c.Timezone,
		"registry_path":   c.RegistryPath,
		"output_path":     c.OutputPath,
		"log_level":       c.LogLevel,
	}
}
