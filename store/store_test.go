package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-errors"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/flow"
)

func sampleRecord(code string, status command.Status) command.Record {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(1500 * time.Millisecond)
	ended := started.Add(250 * time.Millisecond)
	duration := int64(250)
	idle := int64(1500)
	return command.Record{
		Code:      code,
		Status:    status,
		Params:    map[string]any{"action": "noop"},
		CreatedAt: created,
		StartedAt: &started,
		EndedAt:   &ended,
		Duration:  &duration,
		IdleTime:  &idle,
		Result:    map[string]any{"message": "done"},
		Error: &flow.ErrorRecord{
			Title:         "A-Command Execution Error",
			Description:   "command noop failed: boom",
			OriginalError: &flow.ErrorRecord{Title: "Error", Description: "boom"},
		},
	}
}

func runStoreContract(t *testing.T, s RecordStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	rec := sampleRecord("noop", command.StatusCompleted)
	require.NoError(t, s.Save(ctx, "b", rec))
	require.NoError(t, s.Save(ctx, "a", sampleRecord("echo", command.StatusFailed)))

	loaded, err := s.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "noop", loaded.Code)
	assert.Equal(t, command.StatusCompleted, loaded.Status)
	assert.True(t, rec.CreatedAt.Equal(loaded.CreatedAt))
	require.NotNil(t, loaded.StartedAt)
	assert.True(t, rec.StartedAt.Equal(*loaded.StartedAt))
	require.NotNil(t, loaded.Duration)
	assert.Equal(t, int64(250), *loaded.Duration)
	assert.Equal(t, "done", loaded.Result["message"])
	require.NotNil(t, loaded.Error)
	assert.Equal(t, "boom", loaded.Error.OriginalError.Description)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	// overwrite keeps a single entry
	require.NoError(t, s.Save(ctx, "b", sampleRecord("noop", command.StatusFailed)))
	loaded, err = s.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, command.StatusFailed, loaded.Status)

	require.NoError(t, s.Delete(ctx, "b"))
	_, err = s.Load(ctx, "b")
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	assert.Error(t, s.Save(ctx, "  ", rec))
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	s := NewSQLiteStore(db, "")
	t.Cleanup(func() { _ = s.Close() })

	runStoreContract(t, s)
}

func TestOpenSQLiteRequiresDSN(t *testing.T) {
	_, err := OpenSQLite(" ")
	require.Error(t, err)

	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "SQLITE_DSN_REQUIRED", appErr.TextCode)
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	_, client := newMiniredisClient(t)
	runStoreContract(t, NewRedisStoreFromClient(client, WithPrefix("test:")))
}

func TestRedisStoreTTL(t *testing.T) {
	mr, client := newMiniredisClient(t)
	s := NewRedisStoreFromClient(client, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "short", sampleRecord("noop", command.StatusCompleted)))
	assert.True(t, mr.Exists(defaultRedisPrefix+"short"))
	assert.Equal(t, time.Minute, mr.TTL(defaultRedisPrefix+"short"))

	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "short")
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}
