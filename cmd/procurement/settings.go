package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeeves-cluster-organization/procurement/coreengine/delivery"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procurement/coreengine/providers"
)

// Settings configures the binary: listeners, telemetry, the generation
// provider and delivery. Engine behaviour lives in the separate engine
// config file.
type Settings struct {
	GRPCAddr        string        `yaml:"grpc_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Tracing TracingSettings `yaml:"tracing"`

	EngineConfig string                 `yaml:"engine_config"`
	Provider     providers.OpenAIConfig `yaml:"provider"`
	RateLimit    kernel.RateLimitConfig `yaml:"rate_limit"`
	Delivery     DeliverySettings       `yaml:"delivery"`
}

// TracingSettings selects the OTLP exporter. An empty endpoint disables export.
type TracingSettings struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DeliverySettings chooses how approved RFPs reach suppliers.
type DeliverySettings struct {
	// Mode is "log" (default), "smtp" or "none".
	Mode string `yaml:"mode"`

	SMTP delivery.SMTPConfig `yaml:"smtp"`

	// Consecutive delivery failures before the circuit opens, and how long
	// it stays open.
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// Delivery modes.
const (
	DeliveryLog  = "log"
	DeliverySMTP = "smtp"
	DeliveryNone = "none"
)

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() Settings {
	return Settings{
		GRPCAddr:        ":50051",
		HTTPAddr:        ":8080",
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		Tracing: TracingSettings{
			ServiceName: "procurement",
			Environment: "development",
			SampleRatio: 1,
		},
		Provider: providers.OpenAIConfig{
			BaseURL: providers.DefaultBaseURL,
			Model:   providers.DefaultModel,
			Timeout: 2 * time.Minute,
		},
		RateLimit: *kernel.DefaultRateLimitConfig(),
		Delivery: DeliverySettings{
			Mode:             DeliveryLog,
			BreakerThreshold: 3,
			BreakerReset:     time.Minute,
		},
	}
}

// LoadSettings reads path over DefaultSettings, applies environment
// overrides and validates. An empty path skips the file.
func LoadSettings(path string, getenv func(string) string) (Settings, error) {
	s := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("read settings %s: %w", path, err)
		}
		if err := s.decode(data); err != nil {
			return s, fmt.Errorf("settings %s: %w", path, err)
		}
	}
	s.ApplyEnv(getenv)
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
// PROCUREMENT_API_KEY wins over OPENAI_API_KEY.
func (s *Settings) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	for _, key := range []string{"OPENAI_API_KEY", "PROCUREMENT_API_KEY"} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			s.Provider.APIKey = v
		}
	}
	if v := getenv("PROCUREMENT_SMTP_PASSWORD"); v != "" {
		s.Delivery.SMTP.Password = v
	}
	if v := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		s.Tracing.Endpoint = strings.TrimPrefix(strings.TrimPrefix(v, "http://"), "https://")
	}
}

// Validate reports every settings problem at once. The provider key is
// checked where a provider is built, so config validation works without it.
func (s Settings) Validate() error {
	var problems []error
	switch s.Delivery.Mode {
	case DeliveryLog, DeliveryNone:
	case DeliverySMTP:
		if err := s.Delivery.SMTP.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("delivery.smtp: %w", err))
		}
	default:
		problems = append(problems, fmt.Errorf("delivery.mode %q must be one of log, smtp, none", s.Delivery.Mode))
	}
	if s.Delivery.BreakerThreshold < 0 {
		problems = append(problems, errors.New("delivery.breaker_threshold must be >= 0"))
	}
	if s.ShutdownTimeout <= 0 {
		problems = append(problems, errors.New("shutdown_timeout must be > 0"))
	}
	if s.Tracing.SampleRatio < 0 || s.Tracing.SampleRatio > 1 {
		problems = append(problems, fmt.Errorf("tracing.sample_ratio %v must be within [0, 1]", s.Tracing.SampleRatio))
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Errorf("log_format %q must be text or json", s.LogFormat))
	}
	return errors.Join(problems...)
}
