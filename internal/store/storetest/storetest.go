// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotauth/pilot/internal/store"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the suite. Every subtest gets a fresh store.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CustomerKeys", testCustomerKeys},
		{"CreateAndRead", testCreateAndRead},
		{"UpdateCallbackError", testUpdateCallbackError},
		{"AbsentField", testAbsentField},
		{"DeleteKey", testDeleteKey},
		{"Scan", testScan},
		{"Index", testIndex},
		{"IndexKeysAreNotRecords", testIndexKeysAreNotRecords},
		{"ConcurrentDisjointUpdates", testConcurrentDisjointUpdates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func set(fields map[string]string, idx ...store.IndexOp) store.UpdateFunc {
	return func(store.Current) (*store.Change, error) {
		return &store.Change{Set: fields, Index: idx}, nil
	}
}

func testCustomerKeys(t *testing.T, s store.Store) {
	c := ctx(t)
	ok, err := s.CustomerKeyExists(c, "K1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddCustomerKey(c, "K1"))
	require.NoError(t, s.AddCustomerKey(c, "K1"))
	require.NoError(t, s.AddCustomerKey(c, "K0"))

	ok, err = s.CustomerKeyExists(c, "K1")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := s.ListCustomerKeys(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"K0", "K1"}, keys)

	removed, err := s.RemoveCustomerKey(c, "K1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveCustomerKey(c, "K1")
	require.NoError(t, err)
	assert.False(t, removed)

	// Customer keys and records are separate namespaces.
	ok, err = s.Exists(c, "K0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testCreateAndRead(t *testing.T, s store.Store) {
	c := ctx(t)
	ok, err := s.Exists(c, "rec")
	require.NoError(t, err)
	assert.False(t, ok)

	var seen store.Current
	require.NoError(t, s.Update(c, "rec", "a", func(cur store.Current) (*store.Change, error) {
		seen = cur
		return &store.Change{Set: map[string]string{"a": "1", "b": "2"}}, nil
	}))
	assert.False(t, seen.KeyExists)
	assert.False(t, seen.Found)

	ok, err = s.Exists(c, "rec")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetFields(c, "rec", "a", "missing")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, got)

	require.NoError(t, s.Update(c, "rec", "a", func(cur store.Current) (*store.Change, error) {
		seen = cur
		return &store.Change{Set: map[string]string{"a": cur.Value + "1"}, Delete: []string{"b"}}, nil
	}))
	assert.True(t, seen.KeyExists)
	assert.True(t, seen.Found)
	assert.Equal(t, "1", seen.Value)

	all, err := s.GetAll(c, "rec")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "11"}, all)

	empty, err := s.GetAll(c, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testUpdateCallbackError(t *testing.T, s store.Store) {
	c := ctx(t)
	sentinel := errors.New("rejected")
	err := s.Update(c, "rec", "a", func(store.Current) (*store.Change, error) {
		return nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	require.NoError(t, s.Update(c, "rec", "a", func(store.Current) (*store.Change, error) {
		return nil, nil
	}))
	ok, err := s.Exists(c, "rec")
	require.NoError(t, err)
	assert.False(t, ok, "nil change must not create the record")
}

func testAbsentField(t *testing.T, s store.Store) {
	c := ctx(t)
	require.NoError(t, s.Update(c, "rec", "old", set(map[string]string{"old": "x", "taken": "y"})))

	err := s.Update(c, "rec", "old", func(cur store.Current) (*store.Change, error) {
		return &store.Change{
			Set:    map[string]string{"taken": cur.Value},
			Delete: []string{"old"},
			Absent: []string{"taken"},
		}, nil
	})
	assert.ErrorIs(t, err, store.ErrFieldExists)

	all, err := s.GetAll(c, "rec")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"old": "x", "taken": "y"}, all, "failed move must not write")

	require.NoError(t, s.Update(c, "rec", "old", func(cur store.Current) (*store.Change, error) {
		return &store.Change{
			Set:    map[string]string{"new": cur.Value},
			Delete: []string{"old"},
			Absent: []string{"new"},
		}, nil
	}))
	all, err = s.GetAll(c, "rec")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"new": "x", "taken": "y"}, all)
}

func testDeleteKey(t *testing.T, s store.Store) {
	c := ctx(t)
	idx := store.UserIndex("alice")
	require.NoError(t, s.Update(c, "rec", "a", set(map[string]string{"a": "1", "b": "2"},
		store.IndexOp{Index: idx, Member: "rec"})))

	require.NoError(t, s.Update(c, "rec", "a", func(cur store.Current) (*store.Change, error) {
		return &store.Change{DeleteKey: true, Index: []store.IndexOp{{Index: idx, Member: "rec", Remove: true}}}, nil
	}))

	ok, err := s.Exists(c, "rec")
	require.NoError(t, err)
	assert.False(t, ok)
	members, err := s.IndexMembers(c, idx)
	require.NoError(t, err)
	assert.Empty(t, members)

	keys, err := s.Scan(c, "rec")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testScan(t *testing.T, s store.Store) {
	c := ctx(t)
	for _, k := range []string{"PilotA1-alice", "PilotB2-alice", "PilotC3-bob", "Pilot_x-alice", "x-malice"} {
		require.NoError(t, s.Update(c, k, "app_key", set(map[string]string{"app_key": k})))
	}

	keys, err := s.Scan(c, "Pilot[A-Z]*-alice")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"PilotA1-alice", "PilotB2-alice"}, keys)

	keys, err = s.Scan(c, "*-alice")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"PilotA1-alice", "PilotB2-alice", "Pilot_x-alice"}, keys)

	keys, err = s.Scan(c, "*-carol")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testIndex(t *testing.T, s store.Store) {
	c := ctx(t)
	idx := store.UserIndex("bob")
	for _, k := range []string{"app1", "app2"} {
		require.NoError(t, s.Update(c, k, "app_key", set(map[string]string{"app_key": k},
			store.IndexOp{Index: idx, Member: k})))
	}
	members, err := s.IndexMembers(c, idx)
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"app1", "app2"}, members)

	members, err = s.IndexMembers(c, store.UserIndex("nobody"))
	require.NoError(t, err)
	assert.Empty(t, members)
}

// testIndexKeysAreNotRecords checks that a populated index never reads as a
// record, whatever the backend stores it as.
func testIndexKeysAreNotRecords(t *testing.T, s store.Store) {
	c := ctx(t)
	idx := store.UserIndex("alice")
	require.NoError(t, s.Update(c, "PilotA1-alice", "app_key", set(map[string]string{"app_key": "PilotA1-alice"},
		store.IndexOp{Index: idx, Member: "PilotA1-alice"})))

	ok, err := s.Exists(c, idx)
	require.NoError(t, err)
	assert.False(t, ok)

	fields, err := s.GetFields(c, idx, "paused", "ABC")
	require.NoError(t, err)
	assert.Empty(t, fields)

	all, err := s.GetAll(c, idx)
	require.NoError(t, err)
	assert.Empty(t, all)

	var seen store.Current
	err = s.Update(c, idx, "ABC", func(cur store.Current) (*store.Change, error) {
		seen = cur
		return &store.Change{Set: map[string]string{"ABC": "{}"}}, nil
	})
	assert.ErrorIs(t, err, store.ErrReservedKey)
	assert.False(t, seen.KeyExists)

	keys, err := s.Scan(c, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"PilotA1-alice"}, keys)

	members, err := s.IndexMembers(c, idx)
	require.NoError(t, err)
	assert.Equal(t, []string{"PilotA1-alice"}, members)
}

// testConcurrentDisjointUpdates runs read-modify-write loops that each own a
// counter field. Conflicts are retried, so every increment must survive.
func testConcurrentDisjointUpdates(t *testing.T, s store.Store) {
	c := ctx(t)
	require.NoError(t, s.Update(c, "rec", "seed", set(map[string]string{"seed": "1"})))

	const workers, rounds = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		field := string(rune('a' + w))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				for {
					err := s.Update(c, "rec", field, func(cur store.Current) (*store.Change, error) {
						return &store.Change{Set: map[string]string{field: cur.Value + "x"}}, nil
					})
					if errors.Is(err, store.ErrConflict) {
						continue
					}
					if err != nil {
						errs <- err
						return
					}
					break
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := s.GetAll(c, "rec")
	require.NoError(t, err)
	for w := 0; w < workers; w++ {
		assert.Len(t, all[string(rune('a'+w))], rounds)
	}
}
