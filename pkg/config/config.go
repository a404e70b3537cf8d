package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/llminster/llminster/internal/llm/provider"
	"github.com/llminster/llminster/internal/logging"
	"github.com/llminster/llminster/internal/observability"
	"github.com/llminster/llminster/internal/router"
	"github.com/llminster/llminster/pkg/security"
	"github.com/llminster/llminster/pkg/session"
)

const (
	// DefaultPath is used when neither --config nor LLMINSTER_CONFIG is set.
	DefaultPath = "llminster.yaml"

	// EnvPath overrides the config file location.
	EnvPath = "LLMINSTER_CONFIG"

	maxConfigSize = 1 << 20
)

// Config represents the application configuration
type Config struct {
	// WatchDirectory receives .q and .razorq files.
	WatchDirectory string `yaml:"watch_directory"`

	// DefaultAlias is used when a file has no usable directive.
	DefaultAlias string `yaml:"default_alias"`

	// HashesFile persists the processed content hashes.
	HashesFile string `yaml:"hashes_file"`

	Generation provider.GenerationOptions `yaml:"generation"`
	Watcher    WatcherConfig              `yaml:"watcher"`
	Providers  map[string]ProviderConfig  `yaml:"providers"`
	EventLog   session.Config             `yaml:"event_log"`
	Logging    logging.Config             `yaml:"logging"`
	Metrics    MetricsConfig              `yaml:"metrics"`
	Tracing    observability.Config       `yaml:"tracing"`
}

// WatcherConfig tunes the file pipeline
type WatcherConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	AccessAttempts int           `yaml:"access_attempts"`
	AccessDelay    time.Duration `yaml:"access_delay"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	PruneSchedule  string        `yaml:"prune_schedule"`
}

// ProviderConfig holds credentials and model aliases for one provider
type ProviderConfig struct {
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	ProjectID         string `yaml:"project_id"`
	Location          string `yaml:"location"`
	Region            string `yaml:"region"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`

	// Models maps a model name to the alias used in directives.
	Models map[string]string `yaml:"models"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		HashesFile: "processed_hashes.json",
		Generation: provider.DefaultGenerationOptions(),
		Watcher: WatcherConfig{
			Debounce:       500 * time.Millisecond,
			AccessAttempts: 10,
			AccessDelay:    100 * time.Millisecond,
			MaxConcurrent:  4,
			PruneSchedule:  "@every 30s",
		},
		EventLog: session.DefaultConfig(),
		Logging:  logging.Config{Level: "info", Console: true},
		Metrics:  MetricsConfig{Port: 9090},
		Tracing:  observability.Config{Exporter: observability.ExporterNone},
	}
}

// ResolvePath picks the config file from the flag, the environment or the default
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// LoadConfig loads configuration from a YAML file. Keys missing from the
// file keep their defaults; empty API keys fall back to <PROVIDER>_API_KEY.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigSize)
	}

	cfg := Default()
	if err := security.DecodeYAML(data, cfg, security.DefaultYAMLLimits()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for name, p := range cfg.Providers {
		if p.APIKey == "" {
			p.APIKey = os.Getenv(APIKeyEnv(name))
			cfg.Providers[name] = p
		}
	}

	return cfg, nil
}

// APIKeyEnv returns the environment variable holding a provider's API key
func APIKeyEnv(providerName string) string {
	return strings.ToUpper(strings.ReplaceAll(providerName, "-", "_")) + "_API_KEY"
}

// ambientCredentials lists providers that authenticate without an API key.
var ambientCredentials = map[string]bool{
	"bedrock":  true,
	"vertexai": true,
	"mock":     true,
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.WatchDirectory) == "" {
		errs = append(errs, errors.New("watch_directory is required"))
	} else if info, err := os.Stat(c.WatchDirectory); err == nil && !info.IsDir() {
		errs = append(errs, fmt.Errorf("watch_directory %s is not a directory", c.WatchDirectory))
	}

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider must be configured"))
	}

	aliases := make(map[string]bool)
	for name, p := range c.Providers {
		if !provider.Has(name) {
			errs = append(errs, fmt.Errorf("unknown provider %q", name))
			continue
		}
		if p.APIKey == "" && !ambientCredentials[name] {
			errs = append(errs, fmt.Errorf("provider %s: api_key is required (or set %s)", name, APIKeyEnv(name)))
		}
		if name == "vertexai" && p.ProjectID == "" {
			errs = append(errs, errors.New("provider vertexai: project_id is required"))
		}
		for _, alias := range p.Models {
			aliases[strings.ToLower(strings.TrimSpace(alias))] = true
		}
	}

	if strings.TrimSpace(c.DefaultAlias) == "" {
		errs = append(errs, errors.New("default_alias is required"))
	} else if !aliases[strings.ToLower(strings.TrimSpace(c.DefaultAlias))] {
		errs = append(errs, fmt.Errorf("default_alias %q is not defined by any provider", c.DefaultAlias))
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %v out of range [0, 2]", c.Generation.Temperature))
	}
	if c.Generation.MaxTokens <= 0 {
		errs = append(errs, errors.New("generation.max_tokens must be positive"))
	}

	if c.Watcher.Debounce <= 0 || c.Watcher.AccessDelay <= 0 {
		errs = append(errs, errors.New("watcher.debounce and watcher.access_delay must be positive"))
	}
	if c.Watcher.AccessAttempts <= 0 || c.Watcher.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("watcher.access_attempts and watcher.max_concurrent must be positive"))
	}

	switch c.EventLog.Store {
	case "", session.StoreFile, session.StoreMemory, session.StoreRedis, session.StoreSQLite, session.StoreFirestore:
	default:
		errs = append(errs, fmt.Errorf("unknown event_log.store %q", c.EventLog.Store))
	}

	return errors.Join(errs...)
}

// RouterSpecs converts the provider table for the router
func (c *Config) RouterSpecs() map[string]router.ProviderSpec {
	specs := make(map[string]router.ProviderSpec, len(c.Providers))
	for name, p := range c.Providers {
		specs[name] = router.ProviderSpec{
			Config: provider.Config{
				Name:              name,
				APIKey:            p.APIKey,
				BaseURL:           p.BaseURL,
				ProjectID:         p.ProjectID,
				Location:          p.Location,
				Region:            p.Region,
				RequestsPerMinute: p.RequestsPerMinute,
			},
			Models: p.Models,
		}
	}
	return specs
}
