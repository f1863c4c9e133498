package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sys/maestro/pkg/types"
)

const sampleConfig = `
pipelines:
  - id: analysis
    mode: sequential
    stages:
      - component: tokenizer
        critical: true
      - component: analyzer
    triggers:
      - event: sensor.reading
      - interval: 30s
  - id: fanout
    mode: parallel
    stages:
      - component: a
      - component: b

breaker:
  threshold: 4
  cooldown: 90s

breaker_overrides:
  flappy:
    threshold: 2
    cooldown: 10s

diff:
  throttle_interval: 10s
  critical_keys: [critical_flag, status]
  ignorable_keys: [last_seen]
  remedy_budget: 2

scheduler:
  stage_timeout: 45s
  failure_budget: 4

broker:
  concurrency: 2
  queue_depth: 8
  max_attempts: 5
  cooldown: 2m
`

func TestParseSampleConfig(t *testing.T) {
	f, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	specs := f.PipelineSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, types.ModeSequential, specs[0].Mode)
	assert.True(t, specs[0].Stages[0].Critical)
	assert.False(t, specs[0].Stages[1].Critical)
	require.Len(t, specs[0].Triggers, 2)
	assert.Equal(t, "sensor.reading", specs[0].Triggers[0].Event)
	assert.Equal(t, 30*time.Second, specs[0].Triggers[1].Interval)
	assert.Equal(t, types.ModeParallel, specs[1].Mode)
}

func TestBreakerDefaultsAndOverrides(t *testing.T) {
	f, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	defaults := f.BreakerDefaults()
	assert.Equal(t, 4, defaults.Threshold)
	assert.Equal(t, 90*time.Second, defaults.Cooldown)
	// Unset fields inherit package defaults
	assert.Equal(t, 10*time.Minute, defaults.MaxCooldown)

	overrides := f.BreakerOverrides()
	require.Contains(t, overrides, "flappy")
	assert.Equal(t, 2, overrides["flappy"].Threshold)
	assert.Equal(t, 10*time.Second, overrides["flappy"].Cooldown)
	assert.Equal(t, 10*time.Minute, overrides["flappy"].MaxCooldown)
}

func TestDiffConfigConversion(t *testing.T) {
	f, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	cfg := f.DiffEngineConfig()
	assert.Equal(t, 10*time.Second, cfg.ThrottleInterval)
	assert.True(t, cfg.CriticalKeys["critical_flag"])
	assert.True(t, cfg.CriticalKeys["status"])
	assert.True(t, cfg.IgnorableKeys["last_seen"])
	assert.Equal(t, 2, cfg.RemedyBudget)
}

func TestSchedulerAndBrokerConversion(t *testing.T) {
	f, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	sc := f.SchedulerConfigValue()
	assert.Equal(t, 45*time.Second, sc.StageTimeout)
	assert.Equal(t, 4, sc.FailureBudget)

	bc := f.BrokerConfigValue()
	assert.Equal(t, 2, bc.Concurrency)
	assert.Equal(t, 8, bc.QueueDepth)
	assert.Equal(t, 5, bc.MaxAttempts)
	assert.Equal(t, 2*time.Minute, bc.Cooldown)
	// Unset tunables keep broker defaults
	assert.Equal(t, time.Second, bc.RateInterval)
	assert.Equal(t, 1, bc.RateBurst)
}

func TestValidationRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"empty pipeline id", "pipelines:\n  - id: \"\"\n    stages:\n      - component: a\n"},
		{"duplicate pipeline id", "pipelines:\n  - id: p\n    stages:\n      - component: a\n  - id: p\n    stages:\n      - component: b\n"},
		{"unknown mode", "pipelines:\n  - id: p\n    mode: zigzag\n    stages:\n      - component: a\n"},
		{"no stages", "pipelines:\n  - id: p\n    stages: []\n"},
		{"stage without component", "pipelines:\n  - id: p\n    stages:\n      - critical: true\n"},
		{"trigger with both", "pipelines:\n  - id: p\n    stages:\n      - component: a\n    triggers:\n      - event: x\n        interval: 5s\n"},
		{"trigger with neither", "pipelines:\n  - id: p\n    stages:\n      - component: a\n    triggers:\n      - {}\n"},
		{"bad duration", "diff:\n  throttle_interval: soon\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("MAESTRO_CONFIG", "")
	t.Setenv("MAESTRO_LISTEN_ADDR", "")
	t.Setenv("MAESTRO_LOG_LEVEL", "")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, defaultListenAddr, env.ListenAddr)
	assert.Equal(t, defaultLogLevel, env.LogLevel)
	assert.False(t, env.AuditEnabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAESTRO_CONFIG", "/etc/maestro/maestro.yaml")
	t.Setenv("MAESTRO_AUDIT_DB", "/var/lib/maestro/audit.db")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "/etc/maestro/maestro.yaml", env.ConfigPath)
	assert.Equal(t, "/var/lib/maestro/audit.db", env.AuditPath)
	assert.True(t, env.AuditEnabled)
}
