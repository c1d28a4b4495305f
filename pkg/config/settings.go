package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables read on top of the config store.
const (
	EnvUsername       = "SWITCH_USERNAME"
	EnvPassword       = "SWITCH_PASSWORD"
	EnvEnablePassword = "SWITCH_ENABLE_PASSWORD"
	EnvMaxThreads     = "MAX_THREADS"
)

const (
	DefaultMaxConcurrency     = 10
	DefaultSSHPort            = 22
	DefaultConnectTimeout     = 10 * time.Second
	DefaultCommandTimeout     = 30 * time.Second
	DefaultBreakerThreshold   = 0
	DefaultBreakerOpenTimeout = time.Minute
)

var validate = validator.New()

// Credentials used for every switch in the run.
type Credentials struct {
	Username string `yaml:"username" json:"username" bson:"username" validate:"required"`
	Password string `yaml:"password" json:"-" bson:"password" validate:"required"`
	// EnablePassword defaults to Password when empty.
	EnablePassword string `yaml:"enablePassword" json:"-" bson:"enablePassword"`
}

type SwitchSettings struct {
	Credentials    `yaml:",inline" bson:",inline"`
	Port           int           `yaml:"port" json:"port" bson:"port" validate:"min=1,max=65535"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" json:"connectTimeout" bson:"connectTimeout" validate:"gt=0"`
	CommandTimeout time.Duration `yaml:"commandTimeout" json:"commandTimeout" bson:"commandTimeout" validate:"gt=0"`
	KnownHostsFile string        `yaml:"knownHostsFile" json:"knownHostsFile" bson:"knownHostsFile"`
}

type BreakerSettings struct {
	// Threshold is the number of consecutive connect failures against one
	// switch that opens its breaker. 0, the default, disables the breaker
	// and every task gets its own connect attempt.
	Threshold   uint32        `yaml:"threshold" json:"threshold" bson:"threshold"`
	OpenTimeout time.Duration `yaml:"openTimeout" json:"openTimeout" bson:"openTimeout" validate:"gte=0"`
}

type ReportSettings struct {
	File string `yaml:"file" json:"file" bson:"file"`
}

type KafkaSettings struct {
	Brokers []string `yaml:"brokers" json:"brokers" bson:"brokers" validate:"omitempty,dive,hostname_port"`
	Topic   string   `yaml:"topic" json:"topic" bson:"topic" validate:"required_with=Brokers"`
}

func (k KafkaSettings) Enabled() bool { return len(k.Brokers) > 0 }

// Settings are resolved once at startup and never change during a run.
type Settings struct {
	Switch         SwitchSettings  `yaml:"switch" json:"switch" bson:"switch"`
	MaxConcurrency int             `yaml:"maxConcurrency" json:"maxConcurrency" bson:"maxConcurrency" validate:"min=1"`
	Breaker        BreakerSettings `yaml:"breaker" json:"breaker" bson:"breaker"`
	Report         ReportSettings  `yaml:"report" json:"report" bson:"report"`
	Kafka          KafkaSettings   `yaml:"kafka" json:"kafka" bson:"kafka"`
}

func Defaults() Settings {
	return Settings{
		Switch: SwitchSettings{
			Port:           DefaultSSHPort,
			ConnectTimeout: DefaultConnectTimeout,
			CommandTimeout: DefaultCommandTimeout,
		},
		MaxConcurrency: DefaultMaxConcurrency,
		Breaker: BreakerSettings{
			Threshold:   DefaultBreakerThreshold,
			OpenTimeout: DefaultBreakerOpenTimeout,
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is only
// an error when required is true.
func LoadDotEnv(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables looked up with
// lookup (os.LookupEnv in production).
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvUsername); ok && v != "" {
		s.Switch.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		s.Switch.Password = v
	}
	if v, ok := lookup(EnvEnablePassword); ok && v != "" {
		s.Switch.EnablePassword = v
	}
	if v, ok := lookup(EnvMaxThreads); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", EnvMaxThreads, v)
		}
		s.MaxConcurrency = n
	}
	return nil
}

// Validate reports every invalid field in one error.
func (s Settings) Validate() error {
	return check(s)
}

// Validate checks the Kafka settings on their own, for consumers that need
// no switch credentials.
func (k KafkaSettings) Validate() error {
	return check(k)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}
