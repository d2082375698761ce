// Package config loads relay and speaker settings from the environment.
//
// A .env file in the working directory is loaded first; variables already
// set in the environment take precedence over it.
package config

import (
	"errors"
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrInvalidConfig wraps every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Config holds the settings of the relay and speaker processes.
type Config struct {
	// SpeechKey is the shared secret every connection must present.
	SpeechKey string `env:"SPEECH_KEY" validate:"required"`

	Port      int    `env:"PORT,default=3000" validate:"min=1,max=65535"`
	ServerURL string `env:"SERVER_URL,default=http://localhost:3000" validate:"required,url"`

	// TrustProxyHeaders keys rate limits on X-Forwarded-For and friends.
	// Enable only behind a reverse proxy or tunnel that sets them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS,default=false"`

	RateLimitPoints   int           `env:"RATE_LIMIT_POINTS,default=1" validate:"min=1"`
	RateLimitDuration time.Duration `env:"RATE_LIMIT_DURATION,default=5s" validate:"gt=0"`
	RateLimitStore    string        `env:"RATE_LIMIT_STORE,default=memory" validate:"oneof=memory redis"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379" validate:"required_if=RateLimitStore redis"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0" validate:"min=0"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json console"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s" validate:"gt=0"`

	SpeakerCommand           string        `env:"SPEAKER_COMMAND"`
	SpeakerReconnectAttempts int           `env:"SPEAKER_RECONNECT_ATTEMPTS,default=5" validate:"min=0"`
	SpeakerReconnectDelay    time.Duration `env:"SPEAKER_RECONNECT_DELAY,default=1s" validate:"gt=0"`
}

// Load reads the optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse builds a Config from an explicit set of variables.
func Parse(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(env.EnvSet(vars), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, describe(verrs[0]))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Addr returns the listen address of the relay.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

var envNames = map[string]string{
	"SpeechKey":                "SPEECH_KEY",
	"Port":                     "PORT",
	"ServerURL":                "SERVER_URL",
	"RateLimitPoints":          "RATE_LIMIT_POINTS",
	"RateLimitDuration":        "RATE_LIMIT_DURATION",
	"RateLimitStore":           "RATE_LIMIT_STORE",
	"RedisAddr":                "REDIS_ADDR",
	"RedisDB":                  "REDIS_DB",
	"LogLevel":                 "LOG_LEVEL",
	"LogFormat":                "LOG_FORMAT",
	"ShutdownTimeout":          "SHUTDOWN_TIMEOUT",
	"SpeakerReconnectAttempts": "SPEAKER_RECONNECT_ATTEMPTS",
	"SpeakerReconnectDelay":    "SPEAKER_RECONNECT_DELAY",
}

// describe renders a validation failure in terms of the variable name.
func describe(fe validator.FieldError) string {
	name, ok := envNames[fe.Field()]
	if !ok {
		name = fe.Field()
	}
	switch fe.Tag() {
	case "required", "required_if":
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation (value %v)", name, fe.Tag(), fe.Value())
	}
}
