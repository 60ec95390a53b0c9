package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Duration wraps time.Duration so YAML configs can use "5m" / "1h30m" syntax.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Inbox  InboxConfig       `yaml:"inbox"`
	Jira   JiraConfig        `yaml:"jira"`
	Ledger LedgerConfig      `yaml:"ledger"`
	Sync   SyncConfig        `yaml:"sync"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Inbox.Validate(); err != nil {
		return err
	}
	if err := c.Jira.Validate(); err != nil {
		return err
	}
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// InboxConfig holds the path to the note file tickets are drained from.
type InboxConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// JiraConfig holds the issue tracker connection settings.
type JiraConfig struct {
	Server    string `yaml:"server"`
	Email     string `yaml:"email"`
	APIToken  string `yaml:"api_token"`
	Project   string `yaml:"project"`
	IssueType string `yaml:"issue_type"`
}

// Validate validates the tracker configuration.
func (c *JiraConfig) Validate() error {
	if c.IssueType == "" {
		c.IssueType = "Task"
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.Required),
		validation.Field(&c.Email, validation.Required),
		validation.Field(&c.APIToken, validation.Required),
		validation.Field(&c.Project, validation.Required),
	)
}

// LedgerConfig holds the submission-log database configuration.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SyncConfig holds scheduler settings.
//
// Interval is the periodic processing cadence. LockBackoff is the wait
// between attempts to acquire the inbox file lock. Watch enables the
// filesystem watcher that triggers a drain on inbox changes.
type SyncConfig struct {
	Interval    Duration `yaml:"interval"`
	LockBackoff Duration `yaml:"lock_backoff"`
	Watch       bool     `yaml:"watch"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("sync: interval must be positive, got %s", c.Interval)
	}
	if c.LockBackoff <= 0 {
		return fmt.Errorf("sync: lock_backoff must be positive, got %s", c.LockBackoff)
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Inbox: InboxConfig{
			Path: "./tickets.txt",
		},
		Ledger: LedgerConfig{
			Path: "./ticketsync.db",
		},
		Jira: JiraConfig{
			IssueType: "Task",
		},
		Sync: SyncConfig{
			Interval:    Duration(5 * time.Minute),
			LockBackoff: Duration(time.Second),
			Watch:       true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
