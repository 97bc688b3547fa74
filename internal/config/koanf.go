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
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

var defaultConfigPaths = []string{"config.yaml", "config.yml"}

// envKeys maps the environment variables the relay understands to koanf paths.
var envKeys = map[string]string{
	"host":                      "server.host",
	"port":                      "server.port",
	"static_dir":                "server.static_dir",
	"cors_origin":               "server.cors_origins",
	"shutdown_timeout":          "server.shutdown_timeout",
	"zoom_webhook_secret_token": "zoom.webhook_secret",
	"attendee_base_url":         "attendee.base_url",
	"attendee_api_key":          "attendee.api_key",
	"attendee_timeout":          "attendee.timeout",
	"openai_api_key":            "openai.api_key",
	"openai_model":              "openai.model",
	"store_driver":              "store.driver",
	"store_dir":                 "store.dir",
	"database_dsn":              "store.dsn",
	"persist_transcripts":       "correlator.persist_transcripts",
	"log_level":                 "logging.level",
	"log_format":                "logging.format",
	"log_caller":                "logging.caller",
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            5005,
			StaticDir:       "public",
			ShutdownTimeout: 10 * time.Second,
		},
		Attendee: AttendeeConfig{
			Timeout: 15 * time.Second,
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   300,
		},
		Store: StoreConfig{
			Driver: StoreDriverFile,
			Dir:    "data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers configuration from defaults, an optional YAML file, an
// optional .env file and the environment, in increasing priority, then
// validates the result. Empty paths fall back to CONFIG_PATH / config.yaml
// and .env respectively.
func Load(configPath, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Server.CORSOrigins = trimAll(cfg.Server.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform returns the koanf path for a known variable and "" (skip)
// for everything else in the environment. List values are comma separated.
func envTransform(key, value string) (string, interface{}) {
	path := envKeys[strings.ToLower(key)]
	if path == "server.cors_origins" {
		return path, strings.Split(value, ",")
	}
	return path, value
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
