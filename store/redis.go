package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/goliatone/go-errors"
	backend "github.com/redis/go-redis/v9"

	command "github.com/goliatone/go-acommand"
)

const defaultRedisPrefix = "acommand:record:"

// RedisStore keeps records as JSON strings with an optional TTL. A sorted
// set scored by expiry indexes the stored ids.
type RedisStore struct {
	client backend.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

// WithTTL sets the expiration of stored records.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore connects to addr.
func NewRedisStore(addr string, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{Addr: addr}), opts...)
}

// NewRedisStoreFromClient builds a store on an existing client.
func NewRedisStoreFromClient(client backend.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) Save(ctx context.Context, id string, rec command.Record) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "encode command record").
			WithTextCode("RECORD_ENCODE_FAILED")
	}

	// far future score for records without expiration
	score := float64(4102444800)
	if s.ttl > 0 {
		score = float64(time.Now().Add(s.ttl).Unix())
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(id), payload, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "save command record").
			WithTextCode("RECORD_SAVE_FAILED").
			WithMetadata(map[string]any{"id": id})
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (command.Record, error) {
	id, err := normalizeID(id)
	if err != nil {
		return command.Record{}, err
	}
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return command.Record{}, ErrRecordNotFound
	}
	if err != nil {
		return command.Record{}, errors.Wrap(err, errors.CategoryExternal, "load command record").
			WithTextCode("RECORD_LOAD_FAILED").
			WithMetadata(map[string]any{"id": id})
	}
	return decodeRecord(val)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "delete command record").
			WithTextCode("RECORD_DELETE_FAILED")
	}
	return nil
}

// List prunes expired ids from the index before reading it.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("(%f", now)).Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "prune command record index").
			WithTextCode("RECORD_LIST_FAILED")
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "list command records").
			WithTextCode("RECORD_LIST_FAILED")
	}
	sort.Strings(ids)
	return ids, nil
}
