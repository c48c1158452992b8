// Package memstore is an in-process Store for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pilotauth/pilot/internal/store"
)

// Store keeps every namespace in maps guarded by a single mutex, so Update
// never reports a conflict.
type Store struct {
	mu        sync.RWMutex
	customers map[string]struct{}
	records   map[string]map[string]string
	indexes   map[string]map[string]struct{}
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		customers: make(map[string]struct{}),
		records:   make(map[string]map[string]string),
		indexes:   make(map[string]map[string]struct{}),
	}
}

func (s *Store) AddCustomerKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[key] = struct{}{}
	return nil
}

func (s *Store) RemoveCustomerKey(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.customers[key]
	delete(s.customers, key)
	return ok, nil
}

func (s *Store) CustomerKeyExists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.customers[key]
	return ok, nil
}

func (s *Store) ListCustomerKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.customers))
	for k := range s.customers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[key]) > 0, nil
}

func (s *Store) GetFields(_ context.Context, key string, fields ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(fields))
	rec := s.records[key]
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

func (s *Store) GetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.records[key]))
	for f, v := range s.records[key] {
		out[f] = v
	}
	return out, nil
}

func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.records {
		if store.Match(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) IndexMembers(_ context.Context, index string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.indexes[index]))
	for m := range s.indexes[index] {
		members = append(members, m)
	}
	return members, nil
}

func (s *Store) Update(ctx context.Context, key, field string, fn store.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if store.IsIndexKey(key) {
		return store.UpdateReserved(fn)
	}

	rec := s.records[key]
	v, found := rec[field]
	change, err := fn(store.Current{Value: v, Found: found, KeyExists: len(rec) > 0})
	if err != nil || change == nil {
		return err
	}
	for _, f := range change.Absent {
		if _, ok := rec[f]; ok {
			return store.ErrFieldExists
		}
	}

	if change.DeleteKey {
		delete(s.records, key)
		rec = nil
	}
	for _, f := range change.Delete {
		delete(rec, f)
	}
	if len(change.Set) > 0 {
		if rec == nil {
			rec = make(map[string]string, len(change.Set))
		}
		for f, val := range change.Set {
			rec[f] = val
		}
	}
	if len(rec) > 0 {
		s.records[key] = rec
	} else {
		delete(s.records, key)
	}

	for _, op := range change.Index {
		set := s.indexes[op.Index]
		if op.Remove {
			delete(set, op.Member)
			if len(set) == 0 {
				delete(s.indexes, op.Index)
			}
			continue
		}
		if set == nil {
			set = make(map[string]struct{})
			s.indexes[op.Index] = set
		}
		set[op.Member] = struct{}{}
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
