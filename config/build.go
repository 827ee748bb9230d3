package config

import (
	"context"
	"io"

	"github.com/goliatone/go-errors"
	backend "github.com/redis/go-redis/v9"

	"github.com/goliatone/go-acommand/cron"
	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/logging"
	"github.com/goliatone/go-acommand/runner"
	"github.com/goliatone/go-acommand/store"
)

// NewLogger builds the configured logger writing to w.
func (c Config) NewLogger(w io.Writer) flow.Logger {
	return logging.New(
		logging.WithWriter(w),
		logging.WithLevel(c.Logger.Level),
		logging.WithFormat(c.Logger.Format),
	)
}

// Options converts the runner section to runner options.
func (c RunnerConfig) Options() []runner.Option {
	opts := []runner.Option{runner.WithMaxRetries(c.MaxRetries)}
	if c.Timeout > 0 {
		opts = append(opts, runner.WithTimeout(c.Timeout))
	}
	if c.Backoff.Base > 0 {
		opts = append(opts, runner.WithBackoff(c.Backoff.Base, c.Backoff.Factor, c.Backoff.Max))
	}
	return opts
}

// Open builds the configured record store. The returned close function
// releases the underlying connection and is never nil.
func (c StoreConfig) Open(ctx context.Context) (store.RecordStore, func() error, error) {
	noop := func() error { return nil }

	switch c.Driver {
	case "", DriverMemory:
		return store.NewMemoryStore(), noop, nil
	case DriverSQLite:
		db, err := store.OpenSQLite(c.DSN)
		if err != nil {
			return nil, noop, err
		}
		s := store.NewSQLiteStore(db, c.Table)
		return s, s.Close, nil
	case DriverRedis:
		client := backend.NewClient(&backend.Options{Addr: c.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, errors.Wrap(err, errors.CategoryExternal, "redis ping failed").
				WithTextCode("REDIS_UNAVAILABLE").
				WithMetadata(map[string]any{"addr": c.Addr})
		}
		var opts []store.RedisOption
		if c.Prefix != "" {
			opts = append(opts, store.WithPrefix(c.Prefix))
		}
		if c.TTL > 0 {
			opts = append(opts, store.WithTTL(c.TTL))
		}
		return store.NewRedisStoreFromClient(client, opts...), client.Close, nil
	default:
		return nil, noop, errors.New("unknown store driver "+c.Driver, errors.CategoryBadInput).
			WithTextCode("CONFIG_INVALID")
	}
}

// ApplySchedules registers every configured schedule on s. On error the
// schedules added so far are canceled.
func (c Config) ApplySchedules(s *cron.Scheduler) ([]cron.Handle, error) {
	handles := make([]cron.Handle, 0, len(c.Schedules))
	for _, sc := range c.Schedules {
		h, err := s.ScheduleCron(sc.Expression, sc.Code, sc.Params)
		if err != nil {
			for _, added := range handles {
				added.Cancel()
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}
