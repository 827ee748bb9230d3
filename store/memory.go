package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/goliatone/go-errors"

	command "github.com/goliatone/go-acommand"
)

// MemoryStore keeps records in process. Records are stored in their JSON
// form so loads never alias the caller's maps.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, id string, rec command.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "encode command record").
			WithTextCode("RECORD_ENCODE_FAILED")
	}
	s.mu.Lock()
	s.records[id] = payload
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (command.Record, error) {
	if err := ctx.Err(); err != nil {
		return command.Record{}, err
	}
	id, err := normalizeID(id)
	if err != nil {
		return command.Record{}, err
	}
	s.mu.RLock()
	payload, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return command.Record{}, ErrRecordNotFound
	}
	return decodeRecord(payload)
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

func decodeRecord(payload []byte) (command.Record, error) {
	var rec command.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return command.Record{}, errors.Wrap(err, errors.CategoryInternal, "decode command record").
			WithTextCode("RECORD_DECODE_FAILED")
	}
	return rec, nil
}
