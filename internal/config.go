package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/revsync/internal/chunker"
	"github.com/starford/revsync/internal/transfer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Remote    RemoteConfig      `yaml:"remote"`
	Sync      SyncConfig        `yaml:"sync"`
	Subscribe SubscribeConfig   `yaml:"subscribe"`
	Store     StoreConfig       `yaml:"store"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Subscribe.Validate(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
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

// RemoteConfig points the client at a remote store.
type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// SyncConfig tunes chunking and transfer.
type SyncConfig struct {
	ChunkSize   int64         `yaml:"chunk_size"`
	Parallelism int           `yaml:"parallelism"`
	WatchDir    string        `yaml:"watch_dir"`
	Debounce    time.Duration `yaml:"debounce"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Parallelism, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// SubscribeConfig controls the completion push channel.
type SubscribeConfig struct {
	Enabled            bool          `yaml:"enabled"`
	ResubscribeOnClose bool          `yaml:"resubscribe_on_close"`
	BaseBackoff        time.Duration `yaml:"base_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	MaxRetries         uint64        `yaml:"max_retries"`
}

// Validate validates the subscribe configuration.
func (c *SubscribeConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseBackoff, validation.Required, validation.Min(time.Millisecond)),
	); err != nil {
		return err
	}
	if c.MaxBackoff != 0 && c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("max_backoff %s is below base_backoff %s", c.MaxBackoff, c.BaseBackoff)
	}
	return nil
}

// StoreConfig holds the reference store's on-disk locations.
type StoreConfig struct {
	BlobPath   string `yaml:"blob_path"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BlobPath, validation.Required),
		validation.Field(&c.SQLitePath, validation.Required),
	)
}

// AuthConfig holds the reference store's authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer access token; Token must be non-empty.
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
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			ChunkSize:   chunker.DefaultChunkSize,
			Parallelism: transfer.DefaultParallelism,
			WatchDir:    "./sync",
			Debounce:    500 * time.Millisecond,
		},
		Subscribe: SubscribeConfig{
			Enabled:            true,
			ResubscribeOnClose: true,
			BaseBackoff:        time.Second,
			MaxBackoff:         30 * time.Second,
		},
		Store: StoreConfig{
			BlobPath:   "./data/blobs",
			SQLitePath: "./data/revsync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
