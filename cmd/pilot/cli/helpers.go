package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/pilotauth/pilot/internal/config"
	"github.com/pilotauth/pilot/internal/events"
	"github.com/pilotauth/pilot/internal/license"
	"github.com/pilotauth/pilot/internal/metrics"
	"github.com/pilotauth/pilot/internal/store"
	"github.com/pilotauth/pilot/internal/store/memstore"
	"github.com/pilotauth/pilot/internal/store/redisstore"
	"github.com/pilotauth/pilot/internal/store/sqlstore"
)

// newLogger builds the process logger from the log settings. dev forces
// debug level.
func newLogger(cfg config.LogConfig, dev bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openBackend connects the configured store driver without any guard.
func openBackend(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "redis":
		return redisstore.Open(ctx, redisstore.Config{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			AppDB:      cfg.Redis.AppDB,
			CustomerDB: cfg.Redis.CustomerDB,
			PoolSize:   cfg.Redis.PoolSize,
		})
	case "sqlite", "postgres", "mysql":
		dataDir := cfg.SQL.DataDir
		if cfg.Store.Driver == "sqlite" && dataDir == "" && cfg.SQL.DSN == "" {
			dataDir = defaultDataDir()
		}
		return sqlstore.Open(sqlstore.Config{
			Driver:          cfg.Store.Driver,
			DSN:             cfg.SQL.DSN,
			DataDir:         dataDir,
			MaxOpenConns:    cfg.SQL.MaxOpenConns,
			MaxIdleConns:    cfg.SQL.MaxIdleConns,
			ConnMaxLifetime: cfg.SQL.ConnMaxLifetime,
		})
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// openStore connects the configured store and wraps it in a Guard. m may be
// nil.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*store.Guard, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	opts := []store.GuardOption{store.WithGuardLogger(logger)}
	if m != nil {
		opts = append(opts, store.WithObserver(m.ObserveStore))
	}
	return store.NewGuard(backend, store.GuardConfig{
		Timeout:          cfg.Store.Timeout,
		FailureThreshold: cfg.Store.FailureThreshold,
		OpenTimeout:      cfg.Store.OpenTimeout,
	}, opts...), nil
}

// openPublisher returns the configured event publisher.
func openPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "amqp":
		exchange := cfg.Events.Exchange
		if exchange == "" {
			exchange = events.DefaultExchange
		}
		return events.NewRabbitMQPublisher(cfg.Events.URL, exchange, logger)
	default:
		return events.NewNoopPublisher(logger), nil
	}
}

// newService builds the license service. emitter and m may be nil.
func newService(cfg *config.Config, st store.Store, emitter *events.Emitter, m *metrics.Metrics, logger *slog.Logger) *license.Service {
	opts := []license.Option{
		license.WithLogger(logger),
		license.WithConfig(license.Config{
			HWIDCooldownDays:   cfg.License.HWIDCooldownDays,
			PageSize:           cfg.License.PageSize,
			RejectPausedSignIn: cfg.License.RejectPausedSignIn,
		}),
	}
	if emitter != nil {
		opts = append(opts, license.WithEvents(emitter))
	}
	if m != nil {
		opts = append(opts, license.WithRecorder(m))
	}
	return license.NewService(st, opts...)
}

// cliEnv is what the one-shot commands work with: a guarded store, an event
// emitter and the service on top.
type cliEnv struct {
	cfg     *config.Config
	store   *store.Guard
	emitter *events.Emitter
	svc     *license.Service
	logger  *slog.Logger
}

// openEnv loads the configuration and opens everything a one-shot command
// needs. Call close when done.
func openEnv(ctx context.Context) (*cliEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, false, os.Stderr)
	if cfg.Store.Driver == "memory" {
		logger.Warn("memory store selected; changes are lost when the command exits")
	}

	st, err := openStore(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	pub, err := openPublisher(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	emitter := events.NewEmitter(pub, logger)
	return &cliEnv{
		cfg:     cfg,
		store:   st,
		emitter: emitter,
		svc:     newService(cfg, st, emitter, nil, logger),
		logger:  logger,
	}, nil
}

func (e *cliEnv) close() {
	e.emitter.Close()
	e.store.Close()
}

// defaultDataDir returns PILOT_DATA_DIR or ~/.pilot.
func defaultDataDir() string {
	if envDir := os.Getenv("PILOT_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.pilot"
}

// customerKeyFlag is shared by every command that acts for a customer.
type customerKeyFlag struct {
	value string
}

// resolve returns the flag value, then PILOT_CUSTOMER_KEY, then a no-echo
// prompt when stdin is a terminal.
func (f *customerKeyFlag) resolve() (string, error) {
	if f.value != "" {
		return f.value, nil
	}
	if v := os.Getenv("PILOT_CUSTOMER_KEY"); v != "" {
		return v, nil
	}
	return readSecret("Customer API key: ")
}

// readSecret prompts for a value without echoing it. It fails when stdin is
// not a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no value given and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", fmt.Errorf("empty value")
	}
	return v, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// describeError renders a service error for the terminal.
func describeError(err error) error {
	kind := license.KindOf(err)
	if kind == license.KindInternal {
		return err
	}
	return fmt.Errorf("%s (%s)", license.DetailOf(err), kind)
}
