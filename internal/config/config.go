// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Server       ServerConfig        `koanf:"server"`
	Database     DatabaseConfig      `koanf:"database"`
	Cache        CacheConfig         `koanf:"cache"`
	Title        TitleConfig         `koanf:"title"`
	Applications []ApplicationConfig `koanf:"applications"`
}

// ServerConfig holds HTTP server settings. There is deliberately no
// write timeout: chat responses are long-lived SSE streams.
type ServerConfig struct {
	Port        int           `koanf:"port"`
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

// DatabaseConfig points at the SQLite file backing conversations, local
// chat history and shares.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// CacheConfig controls the application-metadata snapshot refresh.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// TitleConfig selects the model used to synthesize conversation titles.
// An empty model disables synthesis.
type TitleConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// ApplicationConfig declares one served application: which vendor
// adapter handles it and that vendor's opaque settings blob.
type ApplicationConfig struct {
	ID       string         `koanf:"id"`
	Vendor   string         `koanf:"vendor"`
	Settings map[string]any `koanf:"settings"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Any env var starting with "TAGENTIC_" can override a config value:
	//   TAGENTIC_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("TAGENTIC_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "TAGENTIC_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders wherever secrets live: the title
	// API key and every string-valued application setting. Secrets stay
	// out of the YAML file itself.
	cfg.Title.APIKey = expandEnv(cfg.Title.APIKey)
	for _, app := range cfg.Applications {
		for key, value := range app.Settings {
			if s, ok := value.(string); ok {
				app.Settings[key] = expandEnv(s)
			}
		}
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "tagentic.db"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Minute
	}
	if cfg.Title.Timeout == 0 {
		cfg.Title.Timeout = 10 * time.Second
	}
}

func validate(cfg *Config) error {
	for i, app := range cfg.Applications {
		if app.ID == "" {
			return fmt.Errorf("applications[%d]: missing id", i)
		}
		if app.Vendor == "" {
			return fmt.Errorf("application %q: missing vendor", app.ID)
		}
	}
	if cfg.Title.Model != "" && cfg.Title.BaseURL == "" {
		return fmt.Errorf("title: model %q configured without base_url", cfg.Title.Model)
	}
	return nil
}
