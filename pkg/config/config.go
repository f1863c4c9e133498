package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/maestro-sys/maestro/pkg/broker"
	"github.com/maestro-sys/maestro/pkg/diff"
	"github.com/maestro-sys/maestro/pkg/health"
	"github.com/maestro-sys/maestro/pkg/scheduler"
	"github.com/maestro-sys/maestro/pkg/types"
)

const (
	envConfigPath   = "MAESTRO_CONFIG"
	envListenAddr   = "MAESTRO_LISTEN_ADDR"
	envLogLevel     = "MAESTRO_LOG_LEVEL"
	envAuditPath    = "MAESTRO_AUDIT_DB"
	envAuditEnabled = "MAESTRO_AUDIT_ENABLED"
)

const (
	defaultConfigPath = "maestro.yaml"
	defaultListenAddr = ":9464"
	defaultLogLevel   = "info"
)

// Env is process-level configuration read from the environment; a local
// .env file is merged in when present, with real environment winning.
type Env struct {
	ConfigPath   string
	ListenAddr   string
	LogLevel     string
	AuditPath    string
	AuditEnabled bool
}

// LoadEnv reads environment configuration
func LoadEnv() (Env, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Env{}, err
	}

	env := Env{
		ConfigPath: defaultConfigPath,
		ListenAddr: defaultListenAddr,
		LogLevel:   defaultLogLevel,
	}
	if v, ok := lookupTrimmed(envConfigPath); ok {
		env.ConfigPath = v
	}
	if v, ok := lookupTrimmed(envListenAddr); ok {
		env.ListenAddr = v
	}
	if v, ok := lookupTrimmed(envLogLevel); ok {
		env.LogLevel = v
	}
	if v, ok := lookupTrimmed(envAuditPath); ok {
		env.AuditPath = v
		env.AuditEnabled = true
	}
	if v, ok := lookupTrimmed(envAuditEnabled); ok {
		env.AuditEnabled = v == "true" || v == "1"
	}
	return env, nil
}

// Duration decodes YAML duration strings ("5s", "2m") and bare integers
// (seconds) into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the standard library representation
func (d Duration) Std() time.Duration { return time.Duration(d) }

// File is the YAML configuration document: pipelines with their triggers,
// per-component breaker overrides, diff key classification, and the
// broker/scheduler tunables. Reloaded atomically on file change.
type File struct {
	Pipelines []PipelineConfig         `yaml:"pipelines"`
	Breaker   BreakerConfig            `yaml:"breaker"`
	Overrides map[string]BreakerConfig `yaml:"breaker_overrides"`
	Diff      DiffConfig               `yaml:"diff"`
	Scheduler SchedulerConfig          `yaml:"scheduler"`
	Broker    BrokerConfig             `yaml:"broker"`
}

type PipelineConfig struct {
	ID       string          `yaml:"id"`
	Mode     string          `yaml:"mode"`
	Stages   []StageConfig   `yaml:"stages"`
	Triggers []TriggerConfig `yaml:"triggers"`
}

type StageConfig struct {
	Component string `yaml:"component"`
	Critical  bool   `yaml:"critical"`
}

type TriggerConfig struct {
	Event    string   `yaml:"event"`
	Interval Duration `yaml:"interval"`
}

type BreakerConfig struct {
	Threshold   int      `yaml:"threshold"`
	Cooldown    Duration `yaml:"cooldown"`
	MaxCooldown Duration `yaml:"max_cooldown"`
}

type DiffConfig struct {
	ThrottleInterval Duration `yaml:"throttle_interval"`
	CriticalKeys     []string `yaml:"critical_keys"`
	IgnorableKeys    []string `yaml:"ignorable_keys"`
	RemedyBudget     int      `yaml:"remedy_budget"`
	RemedyWindow     Duration `yaml:"remedy_window"`
}

type SchedulerConfig struct {
	StageTimeout  Duration `yaml:"stage_timeout"`
	FailureBudget int      `yaml:"failure_budget"`
}

type BrokerConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	QueueDepth     int      `yaml:"queue_depth"`
	MaxAttempts    int      `yaml:"max_attempts"`
	Cooldown       Duration `yaml:"cooldown"`
	RateInterval   Duration `yaml:"rate_interval"`
	RateBurst      int      `yaml:"rate_burst"`
	BackoffInitial Duration `yaml:"backoff_initial"`
	BackoffMax     Duration `yaml:"backoff_max"`
}

// LoadFile parses and validates the YAML configuration document
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration document
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	seen := make(map[string]bool, len(f.Pipelines))
	for _, p := range f.Pipelines {
		if p.ID == "" {
			return errors.New("pipeline with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pipeline id %q", p.ID)
		}
		seen[p.ID] = true

		switch p.Mode {
		case "", "sequential", "parallel":
		default:
			return fmt.Errorf("pipeline %q: unknown mode %q", p.ID, p.Mode)
		}
		if len(p.Stages) == 0 {
			return fmt.Errorf("pipeline %q: no stages", p.ID)
		}
		for i, st := range p.Stages {
			if st.Component == "" {
				return fmt.Errorf("pipeline %q: stage %d has no component", p.ID, i)
			}
		}
		for _, tr := range p.Triggers {
			if (tr.Event == "") == (tr.Interval <= 0) {
				return fmt.Errorf("pipeline %q: trigger must set exactly one of event or interval", p.ID)
			}
		}
	}

	for id, ov := range f.Overrides {
		if ov.Threshold < 0 || ov.Cooldown < 0 || ov.MaxCooldown < 0 {
			return fmt.Errorf("breaker override for %q: negative values", id)
		}
	}
	return nil
}

// PipelineSpecs converts the pipeline section into scheduler specs
func (f *File) PipelineSpecs() []types.PipelineSpec {
	specs := make([]types.PipelineSpec, 0, len(f.Pipelines))
	for _, p := range f.Pipelines {
		mode := types.ModeSequential
		if p.Mode == "parallel" {
			mode = types.ModeParallel
		}
		spec := types.PipelineSpec{ID: p.ID, Mode: mode}
		for _, st := range p.Stages {
			spec.Stages = append(spec.Stages, types.StageSpec{
				ComponentID: st.Component,
				Critical:    st.Critical,
			})
		}
		for _, tr := range p.Triggers {
			spec.Triggers = append(spec.Triggers, types.TriggerSpec{
				Event:    tr.Event,
				Interval: tr.Interval.Std(),
			})
		}
		specs = append(specs, spec)
	}
	return specs
}

// BreakerDefaults converts the breaker section, falling back to monitor
// defaults for unset fields
func (f *File) BreakerDefaults() health.BreakerConfig {
	return mergeBreaker(health.DefaultBreakerConfig(), f.Breaker)
}

// BreakerOverrides converts per-component overrides; unset fields inherit
// the document-level defaults
func (f *File) BreakerOverrides() map[string]health.BreakerConfig {
	base := f.BreakerDefaults()
	out := make(map[string]health.BreakerConfig, len(f.Overrides))
	for id, ov := range f.Overrides {
		out[id] = mergeBreaker(base, ov)
	}
	return out
}

func mergeBreaker(base health.BreakerConfig, over BreakerConfig) health.BreakerConfig {
	if over.Threshold > 0 {
		base.Threshold = over.Threshold
	}
	if over.Cooldown > 0 {
		base.Cooldown = over.Cooldown.Std()
	}
	if over.MaxCooldown > 0 {
		base.MaxCooldown = over.MaxCooldown.Std()
	}
	return base
}

// DiffEngineConfig converts the diff section
func (f *File) DiffEngineConfig() diff.Config {
	cfg := diff.DefaultConfig()
	if f.Diff.ThrottleInterval > 0 {
		cfg.ThrottleInterval = f.Diff.ThrottleInterval.Std()
	}
	if f.Diff.RemedyBudget > 0 {
		cfg.RemedyBudget = f.Diff.RemedyBudget
	}
	if f.Diff.RemedyWindow > 0 {
		cfg.RemedyWindow = f.Diff.RemedyWindow.Std()
	}
	for _, k := range f.Diff.CriticalKeys {
		cfg.CriticalKeys[k] = true
	}
	for _, k := range f.Diff.IgnorableKeys {
		cfg.IgnorableKeys[k] = true
	}
	return cfg
}

// SchedulerConfigValue converts the scheduler section
func (f *File) SchedulerConfigValue() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	if f.Scheduler.StageTimeout > 0 {
		cfg.StageTimeout = f.Scheduler.StageTimeout.Std()
	}
	if f.Scheduler.FailureBudget > 0 {
		cfg.FailureBudget = f.Scheduler.FailureBudget
	}
	return cfg
}

// BrokerConfigValue converts the broker section
func (f *File) BrokerConfigValue() broker.Config {
	cfg := broker.DefaultConfig()
	b := f.Broker
	if b.Concurrency > 0 {
		cfg.Concurrency = b.Concurrency
	}
	if b.QueueDepth > 0 {
		cfg.QueueDepth = b.QueueDepth
	}
	if b.MaxAttempts > 0 {
		cfg.MaxAttempts = b.MaxAttempts
	}
	if b.Cooldown > 0 {
		cfg.Cooldown = b.Cooldown.Std()
	}
	if b.RateInterval > 0 {
		cfg.RateInterval = b.RateInterval.Std()
	}
	if b.RateBurst > 0 {
		cfg.RateBurst = b.RateBurst
	}
	if b.BackoffInitial > 0 {
		cfg.BackoffInitial = b.BackoffInitial.Std()
	}
	if b.BackoffMax > 0 {
		cfg.BackoffMax = b.BackoffMax.Std()
	}
	return cfg
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}
	return err
}
