package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/cron"
	"github.com/goliatone/go-acommand/dispatcher"
	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/runner"
	"github.com/goliatone/go-acommand/scope"
)

const fullConfig = `
logger:
  level: debug
  format: console
runner:
  timeout: 2s
  max_retries: 3
  backoff:
    base: 100ms
    factor: 2
    max: 1s
store:
  driver: sqlite
  dsn: ":memory:"
metrics:
  enabled: true
tracing:
  enabled: true
  endpoint: localhost:4318
schedules:
  - expression: "@every 1m"
    code: noop
    params:
      source: cron
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 2*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, 3, cfg.Runner.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Runner.Backoff.Base)
	assert.Equal(t, float64(2), cfg.Runner.Backoff.Factor)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "acommand", cfg.Metrics.Namespace)
	assert.Equal(t, "acommand", cfg.Tracing.Service)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "cron", cfg.Schedules[0].Params["source"])
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
logger:
  level: loud
runner:
  max_retries: -1
store:
  driver: redis
tracing:
  enabled: true
schedules:
  - code: noop
`))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "unknown log level loud")
	assert.Contains(t, msg, "max_retries cannot be negative")
	assert.Contains(t, msg, "redis store requires an addr")
	assert.Contains(t, msg, "tracing requires an endpoint")
	assert.Contains(t, msg, "schedule requires an expression and a code")

	var cerr *errors.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, errors.CategoryBadInput, cerr.Category)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("runner: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIG_PARSE_FAILED")
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acommand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIG_READ_FAILED")
}

func TestRunnerOptionsApplyBackoff(t *testing.T) {
	cfg := RunnerConfig{MaxRetries: 2, Backoff: BackoffConfig{Base: time.Millisecond, Factor: 1}}

	calls := 0
	h := runner.NewHandler(cfg.Options()...)
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestStoreOpenDrivers(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cases := map[string]StoreConfig{
		"memory": {Driver: DriverMemory},
		"sqlite": {Driver: DriverSQLite, DSN: ":memory:"},
		"redis":  {Driver: DriverRedis, Addr: mr.Addr(), Prefix: "test:", TTL: time.Minute},
	}
	for name, sc := range cases {
		t.Run(name, func(t *testing.T) {
			s, closeFn, err := sc.Open(ctx)
			require.NoError(t, err)
			defer closeFn()

			rec := command.NewType("noop").New(nil).ToRecord()
			require.NoError(t, s.Save(ctx, "exec-1", rec))
			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"exec-1"}, ids)
		})
	}

	_, _, err := StoreConfig{Driver: DriverRedis, Addr: "127.0.0.1:1"}.Open(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_UNAVAILABLE")
}

func TestApplySchedules(t *testing.T) {
	var runs atomic.Int32
	noop := command.NewType("noop", command.OnExecute(
		func(context.Context, *command.Command, *scope.Scope) (map[string]any, error) {
			runs.Add(1)
			return nil, nil
		},
	))
	registry := command.NewRegistry().MustRegister(noop)
	d := dispatcher.NewDispatcher(registry, dispatcher.WithLogger(flow.NopLogger()))
	s := cron.NewScheduler(d, cron.WithLogger(flow.NopLogger()))

	cfg := Default()
	cfg.Schedules = []ScheduleConfig{
		{Expression: "@every 1h", Code: "noop"},
		{Expression: "@every 2h", Code: "noop"},
	}
	handles, err := cfg.ApplySchedules(s)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Len(t, s.Handles(), 2)

	cfg.Schedules = append(cfg.Schedules, ScheduleConfig{Expression: "bogus", Code: "noop"})
	_, err = cfg.ApplySchedules(s)
	require.Error(t, err)
	assert.Len(t, s.Handles(), 2)
}
