// Package config loads the concierge configuration.
//
// Values come from an optional YAML/JSON file and from CONCIERGE_* environment
// variables, where nested keys are joined with underscores
// (CONCIERGE_CANARY_PERCENT overrides canary.percent).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/concierge/pkg/broker"
	"github.com/aretw0/concierge/pkg/canary"
	"github.com/aretw0/concierge/pkg/policy"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "CONCIERGE"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Log      LogConfig             `mapstructure:"log"`
	Canary   canary.Config         `mapstructure:"canary"`
	Pipeline PipelineConfig        `mapstructure:"pipeline"`
	Policy   PolicyConfig          `mapstructure:"policy"`
	Tool     map[string]ToolConfig `mapstructure:"tool" validate:"dive"`
	Store    StoreConfig           `mapstructure:"store"`
	Tracing  TracingConfig         `mapstructure:"tracing"`
	Planner  PlannerConfig         `mapstructure:"planner"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// MaxTextBytes bounds inbound message text.
	MaxTextBytes int `mapstructure:"max_text_bytes" validate:"gte=0"`
	// VerticalTextBytes overrides MaxTextBytes per vertical.
	VerticalTextBytes map[string]int `mapstructure:"vertical_text_bytes" validate:"dive,gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// PipelineConfig tunes the turn orchestrator.
type PipelineConfig struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	MaxFallbacks        int           `mapstructure:"max_fallbacks" validate:"gte=1"`
	MaxToolFailures     int           `mapstructure:"max_tool_failures" validate:"gte=1"`
	TurnTimeout         time.Duration `mapstructure:"turn_timeout" validate:"gt=0"`
}

// PolicyConfig points at the vertical allow-lists and overrides tier limits.
type PolicyConfig struct {
	// VerticalsFile is a policy YAML/JSON file. Empty uses the built-in catalog.
	VerticalsFile string `mapstructure:"verticals_file"`

	// Window is the quota counting window.
	Window time.Duration `mapstructure:"window" validate:"gt=0"`

	// Tiers overrides per-tier class limits, merged over the file's.
	Tiers map[string]map[policy.ToolClass]int `mapstructure:"tiers"`

	DefaultTier string `mapstructure:"default_tier" validate:"required"`
}

// ToolConfig configures one tool target.
type ToolConfig struct {
	broker.TargetConfig `mapstructure:",squash"`

	// Class overrides the quota class of the catalog entry.
	Class policy.ToolClass `mapstructure:"class"`

	// URL is the HTTP endpoint. Tools without one need an in-process target.
	URL string `mapstructure:"url" validate:"omitempty,url,excluded_with=Command"`

	// Command runs a local process instead; Command[0] is the executable.
	Command []string          `mapstructure:"command"`
	Env     map[string]string `mapstructure:"env"`
	Dir     string            `mapstructure:"dir"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory redis postgres file"`

	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`

	DSN string `mapstructure:"dsn" validate:"required_if=Driver postgres"`

	// Path is the base directory of the file driver.
	Path string `mapstructure:"path"`

	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
	LockTTL time.Duration `mapstructure:"lock_ttl" validate:"gte=0"`

	// MaskPII masks contact details in the transition log.
	MaskPII bool `mapstructure:"mask_pii"`

	// EncryptionKey is a base64 AES-256 key sealing contact slots at rest.
	EncryptionKey string `mapstructure:"encryption_key" validate:"omitempty,base64"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type PlannerConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", MaxTextBytes: 4096},
		Log:    LogConfig{Level: "info", Format: "text"},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: 0.6,
			MaxFallbacks:        3,
			MaxToolFailures:     2,
			TurnTimeout:         15 * time.Second,
		},
		Policy: PolicyConfig{Window: time.Hour, DefaultTier: "free"},
		Store: StoreConfig{
			Driver:  DriverMemory,
			Prefix:  "concierge:",
			LockTTL: 10 * time.Second,
		},
		Tracing: TracingConfig{ServiceName: "concierge", SampleRatio: 1},
		Planner: PlannerConfig{Timeout: 10 * time.Second},
	}
}

// Load reads the configuration. An empty path reads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// Tool names are only known once the file is read.
	td := broker.DefaultTargetConfig()
	for name := range v.GetStringMap("tool") {
		prefix := "tool." + name + "."
		v.SetDefault(prefix+"retry_budget", td.RetryBudget)
		v.SetDefault(prefix+"circuit_threshold", td.CircuitThreshold)
		v.SetDefault(prefix+"cooldown", td.Cooldown)
		v.SetDefault(prefix+"timeout", td.Timeout)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every scalar key so environment overrides apply
// even when the file does not mention them.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.max_text_bytes", d.Server.MaxTextBytes)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("canary.enabled", d.Canary.Enabled)
	v.SetDefault("canary.percent", d.Canary.Percent)
	v.SetDefault("pipeline.confidence_threshold", d.Pipeline.ConfidenceThreshold)
	v.SetDefault("pipeline.max_fallbacks", d.Pipeline.MaxFallbacks)
	v.SetDefault("pipeline.max_tool_failures", d.Pipeline.MaxToolFailures)
	v.SetDefault("pipeline.turn_timeout", d.Pipeline.TurnTimeout)
	v.SetDefault("policy.verticals_file", d.Policy.VerticalsFile)
	v.SetDefault("policy.window", d.Policy.Window)
	v.SetDefault("policy.default_tier", d.Policy.DefaultTier)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_password", d.Store.RedisPassword)
	v.SetDefault("store.redis_db", d.Store.RedisDB)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.prefix", d.Store.Prefix)
	v.SetDefault("store.ttl", d.Store.TTL)
	v.SetDefault("store.lock_ttl", d.Store.LockTTL)
	v.SetDefault("store.mask_pii", d.Store.MaskPII)
	v.SetDefault("store.encryption_key", d.Store.EncryptionKey)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
	v.SetDefault("planner.url", d.Planner.URL)
	v.SetDefault("planner.timeout", d.Planner.Timeout)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Canary.Enabled && c.Planner.URL == "" {
		return fmt.Errorf("%w: canary enabled without planner.url", ErrInvalid)
	}
	return nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// PolicyConfig resolves the policy catalog: the verticals file or the
// built-in one, with configured tier limits and tool classes applied.
func (c *Config) PolicyConfig() (policy.Config, error) {
	pc := policy.DefaultConfig()
	if c.Policy.VerticalsFile != "" {
		loaded, err := policy.Load(c.Policy.VerticalsFile)
		if err != nil {
			return policy.Config{}, err
		}
		pc = loaded
	}
	if pc.Tiers == nil {
		pc.Tiers = make(map[string]map[policy.ToolClass]int)
	}
	for tier, limits := range c.Policy.Tiers {
		merged := make(map[policy.ToolClass]int)
		for class, n := range pc.Tiers[tier] {
			merged[class] = n
		}
		for class, n := range limits {
			merged[class] = n
		}
		pc.Tiers[tier] = merged
	}
	for i, spec := range pc.Tools {
		if tc, ok := c.Tool[spec.Name]; ok && tc.Class != "" {
			pc.Tools[i].Class = tc.Class
		}
	}
	return pc, pc.Validate()
}

// TargetConfigs returns the broker settings per configured tool.
func (c *Config) TargetConfigs() map[string]broker.TargetConfig {
	out := make(map[string]broker.TargetConfig, len(c.Tool))
	for name, tc := range c.Tool {
		out[name] = tc.TargetConfig
	}
	return out
}
