// Package store defines the keyed record store that holds customer keys,
// applications and their licenses. Backends live in the memstore, sqlstore
// and redisstore subpackages.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrConflict is returned by Update when the record changed between the
	// read and the conditional write. Callers re-run the read-modify-write.
	ErrConflict = errors.New("store: concurrent modification")
	// ErrFieldExists is returned by Update when a field listed in
	// Change.Absent is present at write time.
	ErrFieldExists = errors.New("store: field already exists")
	// ErrUnavailable wraps failures to reach the backend.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("store: timeout")
	// ErrRejected wraps a command the backend refused for the data it was
	// given, such as a type mismatch. The backend itself is healthy.
	ErrRejected = errors.New("store: command rejected")
	// ErrReservedKey is returned by Update when fn tries to write a record
	// under a key in the index namespace.
	ErrReservedKey = errors.New("store: reserved key")
)

// Store is a keyed hash-map store with two namespaces: customer keys, which
// carry no fields, and records, which map field names to string values.
// Records also feed named secondary indexes (sets of record keys). Record
// keys starting with IndexPrefix are reserved: they never exist, read as
// empty and are never returned by Scan.
//
// Absence is reported through return values, never as an error.
type Store interface {
	AddCustomerKey(ctx context.Context, key string) error
	RemoveCustomerKey(ctx context.Context, key string) (bool, error)
	CustomerKeyExists(ctx context.Context, key string) (bool, error)
	ListCustomerKeys(ctx context.Context) ([]string, error)

	// Exists reports whether the record has any fields.
	Exists(ctx context.Context, key string) (bool, error)
	// GetFields returns the requested fields that are present. A missing
	// record yields an empty map.
	GetFields(ctx context.Context, key string, fields ...string) (map[string]string, error)
	// GetAll returns every field of the record.
	GetAll(ctx context.Context, key string) (map[string]string, error)
	// Scan returns all record keys matching a glob pattern using *, ? and
	// [...] classes, in no particular order.
	Scan(ctx context.Context, pattern string) ([]string, error)
	// IndexMembers returns the members of a secondary index.
	IndexMembers(ctx context.Context, index string) ([]string, error)

	// Update performs one optimistic read-modify-write of a record. fn sees
	// the current value of field and decides what to write; the change is
	// applied only if the record did not change in between, otherwise
	// ErrConflict is returned. Errors from fn are returned unchanged. fn must
	// not call back into the store.
	Update(ctx context.Context, key, field string, fn UpdateFunc) error

	Ping(ctx context.Context) error
	Close() error
}

// UpdateFunc computes the change to apply given the current state. A nil
// Change with a nil error writes nothing.
type UpdateFunc func(cur Current) (*Change, error)

// Current is the state Update read before calling UpdateFunc.
type Current struct {
	Value     string
	Found     bool // field present
	KeyExists bool // record has any field
}

// Change is applied atomically by Update.
type Change struct {
	Set       map[string]string
	Delete    []string
	Absent    []string // fields that must not exist at write time
	DeleteKey bool     // remove the whole record before Set is applied
	Index     []IndexOp
}

// IndexOp adds a member to or removes it from a secondary index.
type IndexOp struct {
	Index  string
	Member string
	Remove bool
}

// IndexPrefix starts every secondary index name.
const IndexPrefix = "idx:"

// UserIndex names the index of application keys owned by username.
func UserIndex(username string) string {
	return IndexPrefix + "user:" + username
}

// IsIndexKey reports whether key lies in the reserved index namespace.
func IsIndexKey(key string) bool {
	return strings.HasPrefix(key, IndexPrefix)
}

// UpdateReserved is what backends run for Update on a reserved key: fn sees
// an absent record, and any write it asks for fails with ErrReservedKey.
func UpdateReserved(fn UpdateFunc) error {
	change, err := fn(Current{})
	if err != nil || change == nil {
		return err
	}
	return ErrReservedKey
}
