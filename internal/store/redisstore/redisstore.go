// Package redisstore implements store.Store on Redis. Customer keys and
// application records live in separate logical databases; records are
// hashes and secondary indexes are sets under store.IndexPrefix in the
// record database. Record operations treat that prefix as absent.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/pilotauth/pilot/internal/store"
)

// customerKeyMarker is the value stored for a provisioned customer key.
const customerKeyMarker = "1"

// Config holds connection settings. URL, when set, takes precedence over
// Addr and Password.
type Config struct {
	URL        string
	Addr       string
	Password   string
	AppDB      int
	CustomerDB int
	PoolSize   int
}

// Store is a Redis-backed store.Store.
type Store struct {
	app       *redis.Client
	customers *redis.Client
}

var _ store.Store = (*Store)(nil)

// Open connects both databases and verifies them with PING.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	appOpt, err := options(cfg, cfg.AppDB)
	if err != nil {
		return nil, err
	}
	custOpt, err := options(cfg, cfg.CustomerDB)
	if err != nil {
		return nil, err
	}

	s := New(redis.NewClient(appOpt), redis.NewClient(custOpt))
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps existing clients.
func New(app, customers *redis.Client) *Store {
	return &Store{app: app, customers: customers}
}

func options(cfg Config, db int) (*redis.Options, error) {
	var opt *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: cfg.Addr, Password: cfg.Password}
	}
	opt.DB = db
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	return opt, nil
}

// Ping checks both databases.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.app.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis app db: %w", err)
	}
	if err := s.customers.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis customer db: %w", err)
	}
	return nil
}

// Close closes both clients.
func (s *Store) Close() error {
	return errors.Join(s.app.Close(), s.customers.Close())
}

func (s *Store) AddCustomerKey(ctx context.Context, key string) error {
	if err := s.customers.Set(ctx, key, customerKeyMarker, 0).Err(); err != nil {
		return fmt.Errorf("add customer key: %w", err)
	}
	return nil
}

func (s *Store) RemoveCustomerKey(ctx context.Context, key string) (bool, error) {
	n, err := s.customers.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("remove customer key: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CustomerKeyExists(ctx context.Context, key string) (bool, error) {
	n, err := s.customers.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check customer key: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListCustomerKeys(ctx context.Context) ([]string, error) {
	keys, err := scan(ctx, s.customers, "*")
	if err != nil {
		return nil, fmt.Errorf("list customer keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if store.IsIndexKey(key) {
		return false, nil
	}
	n, err := s.app.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("check record", err)
	}
	return n > 0, nil
}

func (s *Store) GetFields(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	if len(fields) == 0 || store.IsIndexKey(key) {
		return out, nil
	}
	vals, err := s.app.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, wrap("get fields", err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[fields[i]] = str
		}
	}
	return out, nil
}

func (s *Store) GetAll(ctx context.Context, key string) (map[string]string, error) {
	if store.IsIndexKey(key) {
		return map[string]string{}, nil
	}
	m, err := s.app.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap("get record", err)
	}
	return m, nil
}

func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	keys, err := scan(ctx, s.app, pattern)
	if err != nil {
		return nil, wrap("scan records", err)
	}
	records := keys[:0]
	for _, k := range keys {
		if !store.IsIndexKey(k) {
			records = append(records, k)
		}
	}
	return records, nil
}

func scan(ctx context.Context, c *redis.Client, pattern string) ([]string, error) {
	var keys []string
	iter := c.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	members, err := s.app.SMembers(ctx, index).Result()
	if err != nil {
		return nil, wrap("index members", err)
	}
	return members, nil
}

// Update watches the record key, reads the field, and applies the change in
// a MULTI/EXEC block. A write to the key by another client between WATCH and
// EXEC aborts the transaction and is reported as store.ErrConflict.
func (s *Store) Update(ctx context.Context, key, field string, fn store.UpdateFunc) error {
	if store.IsIndexKey(key) {
		return store.UpdateReserved(fn)
	}
	err := s.app.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return wrap("check record", err)
		}
		cur := store.Current{KeyExists: n > 0}
		if cur.KeyExists {
			v, err := tx.HGet(ctx, key, field).Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return wrap("read field", err)
			default:
				cur.Value, cur.Found = v, true
			}
		}

		change, err := fn(cur)
		if err != nil || change == nil {
			return err
		}
		for _, f := range change.Absent {
			ok, err := tx.HExists(ctx, key, f).Result()
			if err != nil {
				return wrap("check field", err)
			}
			if ok {
				return store.ErrFieldExists
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if change.DeleteKey {
				pipe.Del(ctx, key)
			}
			if len(change.Delete) > 0 {
				pipe.HDel(ctx, key, change.Delete...)
			}
			if len(change.Set) > 0 {
				pipe.HSet(ctx, key, flatten(change.Set)...)
			}
			for _, op := range change.Index {
				if op.Remove {
					pipe.SRem(ctx, op.Index, op.Member)
				} else {
					pipe.SAdd(ctx, op.Index, op.Member)
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return wrap("apply change", err)
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrConflict
	}
	return err
}

// serverStateReplies prefix error replies that describe the server rather
// than the command; they count against the store's health.
var serverStateReplies = []string{
	"LOADING", "READONLY", "MASTERDOWN", "CLUSTERDOWN", "TRYAGAIN",
	"BUSY", "OOM", "NOAUTH", "WRONGPASS", "NOPERM",
}

// wrap prefixes err with op. Error replies about the command itself, such as
// WRONGTYPE, are marked store.ErrRejected.
func wrap(op string, err error) error {
	var reply redis.Error
	if !errors.As(err, &reply) || errors.Is(err, redis.Nil) || errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := reply.Error()
	for _, prefix := range serverStateReplies {
		if strings.HasPrefix(msg, prefix) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, store.ErrRejected, err)
}

func flatten(m map[string]string) []interface{} {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	args := make([]interface{}, 0, len(m)*2)
	for _, f := range fields {
		args = append(args, f, m[f])
	}
	return args
}
