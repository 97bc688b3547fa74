package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	StoreDriverFile     = "file"
	StoreDriverBadger   = "badger"
	StoreDriverPostgres = "postgres"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Zoom       ZoomConfig       `koanf:"zoom"`
	Attendee   AttendeeConfig   `koanf:"attendee"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Store      StoreConfig      `koanf:"store"`
	Correlator CorrelatorConfig `koanf:"correlator"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	StaticDir       string        `koanf:"static_dir"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type ZoomConfig struct {
	// WebhookSecret keys the HMAC of the URL validation handshake.
	WebhookSecret string `koanf:"webhook_secret" validate:"required"`
}

type AttendeeConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	APIKey  string        `koanf:"api_key" validate:"required"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type OpenAIConfig struct {
	// APIKey is optional; the chat endpoint reports itself unconfigured without it.
	APIKey      string  `koanf:"api_key"`
	Model       string  `koanf:"model" validate:"required"`
	Temperature float32 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens" validate:"gt=0"`
}

type StoreConfig struct {
	Driver string `koanf:"driver" validate:"oneof=file badger postgres"`
	Dir    string `koanf:"dir" validate:"required_unless=Driver postgres"`
	DSN    string `koanf:"dsn" validate:"required_if=Driver postgres"`
}

type CorrelatorConfig struct {
	// PersistTranscripts stores transcript.update events as transcript
	// entries in addition to broadcasting them. Off by default.
	PersistTranscripts bool `koanf:"persist_transcripts"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

var validate = validator.New()

// Validate fails fast on settings the relay cannot run without.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}
