package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Backend selects where one role's capabilities come from. When File is set
// the role is served from a YAML document; otherwise from the StorageBackend
// object named Name.
type Backend struct {
	Name string `env:"BACKEND"`
	File string `env:"FILE"`
}

// Config is the capability server's environment configuration.
type Config struct {
	HTTPAddr  string `env:"CAPABILITIES_HTTP_ADDR" envDefault:":8090"`
	GRPCAddr  string `env:"CAPABILITIES_GRPC_ADDR" envDefault:":50061"`
	Namespace string `env:"CAPABILITIES_NAMESPACE" envDefault:"default"`

	Primary Backend `envPrefix:"CAPABILITIES_PRIMARY_"`
	Alarm   Backend `envPrefix:"CAPABILITIES_ALARM_"`
	Event   Backend `envPrefix:"CAPABILITIES_EVENT_"`

	OTelEndpoint string `env:"CAPABILITIES_OTEL_ENDPOINT"`
	ServiceName  string `env:"CAPABILITIES_SERVICE_NAME" envDefault:"bindery-capabilities"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment and fills role defaults.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Primary = withDefaultName(cfg.Primary, "primary")
	cfg.Alarm = withDefaultName(cfg.Alarm, "alarm")
	cfg.Event = withDefaultName(cfg.Event, "event")
	if strings.TrimSpace(cfg.Namespace) == "" {
		return Config{}, fmt.Errorf("parse env: CAPABILITIES_NAMESPACE must not be empty")
	}
	return cfg, nil
}

func withDefaultName(b Backend, name string) Backend {
	b.Name = strings.TrimSpace(b.Name)
	b.File = strings.TrimSpace(b.File)
	if b.Name == "" {
		b.Name = name
	}
	return b
}
