package config

import (
	"strings"
	"time"

	"github.com/agubarev/ztcp/pkg/audit"
	"github.com/agubarev/ztcp/pkg/identity"
	"github.com/agubarev/ztcp/pkg/trust"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, i.e. ZTCP_SESSION_TTL
const EnvPrefix = "ZTCP"

// errors
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Log configures logging
type Log struct {
	Debug bool   `mapstructure:"debug"`
	Dir   string `mapstructure:"dir"`
}

// Identity configures the identity registry
type Identity struct {
	ValidityDays int `mapstructure:"validity_days"`
}

// Session configures trust sessions
type Session struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Trust configures the scoring model
type Trust struct {
	SuccessReward  float64          `mapstructure:"success_reward"`
	FailurePenalty float64          `mapstructure:"failure_penalty"`
	AnomalyPenalty float64          `mapstructure:"anomaly_penalty"`
	AnomalyLatency time.Duration    `mapstructure:"anomaly_latency"`
	Thresholds     trust.Thresholds `mapstructure:"thresholds"`
}

// Authorization configures communication checks
type Authorization struct {
	MinimumLevel string `mapstructure:"minimum_level"`
}

// Audit configures the audit log backend
type Audit struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// Config is the whole control plane configuration
type Config struct {
	Log           Log           `mapstructure:"log"`
	Identity      Identity      `mapstructure:"identity"`
	Session       Session       `mapstructure:"session"`
	Trust         Trust         `mapstructure:"trust"`
	Authorization Authorization `mapstructure:"authorization"`
	Audit         Audit         `mapstructure:"audit"`
}

// setDefaults registers every key with its stock value so that
// environment overrides resolve for keys absent from the file
func setDefaults(v *viper.Viper) {
	scoring := trust.DefaultScoring()

	v.SetDefault("log.debug", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("identity.validity_days", identity.DefaultValidityDays)
	v.SetDefault("session.ttl", scoring.SessionTTL)
	v.SetDefault("trust.success_reward", scoring.SuccessReward)
	v.SetDefault("trust.failure_penalty", scoring.FailurePenalty)
	v.SetDefault("trust.anomaly_penalty", scoring.AnomalyPenalty)
	v.SetDefault("trust.anomaly_latency", scoring.AnomalyLatency)
	v.SetDefault("trust.thresholds.full", scoring.Thresholds.Full)
	v.SetDefault("trust.thresholds.high", scoring.Thresholds.High)
	v.SetDefault("trust.thresholds.medium", scoring.Thresholds.Medium)
	v.SetDefault("trust.thresholds.low", scoring.Thresholds.Low)
	v.SetDefault("authorization.minimum_level", trust.LevelMedium.String())
	v.SetDefault("audit.backend", "memory")
	v.SetDefault("audit.path", "")
}

// New returns a viper instance with defaults and environment overrides
func New() *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Default returns the stock configuration
func Default() Config {
	c, err := FromViper(New())
	if err != nil {
		panic(errors.Wrap(err, "stock configuration is broken"))
	}

	return c
}

// Load reads a configuration file, its format is chosen by extension
// NOTE: an empty path yields defaults with environment overrides
func Load(path string) (Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates a configuration from a viper instance
func FromViper(v *viper.Viper) (c Config, err error) {
	if err = v.Unmarshal(&c); err != nil {
		return c, errors.Wrap(err, "failed to decode configuration")
	}

	c.Authorization.MinimumLevel = strings.ToUpper(strings.TrimSpace(c.Authorization.MinimumLevel))
	c.Audit.Backend = strings.ToLower(strings.TrimSpace(c.Audit.Backend))

	return c, c.Validate()
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if c.Identity.ValidityDays <= 0 {
		return errors.Wrap(ErrInvalidConfig, "identity.validity_days must be positive")
	}

	if err := c.Scoring().Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	if _, err := c.MinimumLevel(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	switch c.Audit.Backend {
	case "memory":
	case "badger", "sqlite", "postgres":
		if c.Audit.Path == "" {
			return errors.Wrapf(ErrInvalidConfig, "audit.path is required for the %s backend", c.Audit.Backend)
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "%s: %q", audit.ErrUnknownBackend, c.Audit.Backend)
	}

	return nil
}

// Scoring assembles the trust model
func (c Config) Scoring() trust.Scoring {
	return trust.Scoring{
		SuccessReward:  c.Trust.SuccessReward,
		FailurePenalty: c.Trust.FailurePenalty,
		AnomalyPenalty: c.Trust.AnomalyPenalty,
		AnomalyLatency: c.Trust.AnomalyLatency,
		SessionTTL:     c.Session.TTL,
		Thresholds:     c.Trust.Thresholds,
	}
}

// MinimumLevel is the lowest trust level allowed to communicate
func (c Config) MinimumLevel() (trust.Level, error) {
	return trust.ParseLevel(c.Authorization.MinimumLevel)
}
