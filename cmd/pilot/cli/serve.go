package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pilotauth/pilot/internal/events"
	"github.com/pilotauth/pilot/internal/metrics"
	"github.com/pilotauth/pilot/internal/server"
)

const banner = `
 ____ ___ _     ___ _____
|  _ \_ _| |   / _ \_   _|
| |_) | || |  | | | || |
|  __/| || |__| |_| || |
|_|  |___|_____\___/ |_|
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Pilot API server",
		Long:  "Start the HTTP server that exposes the license API, health probes, metrics and the OpenAPI document.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(cfg.Log, dev, os.Stderr)
	ctx := context.Background()

	// 1. Metrics registry, shared by the store guard and the service.
	m := metrics.New()

	// 2. Store, guarded by a timeout and circuit breaker.
	st, err := openStore(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	logger.Info("store opened", "driver", cfg.Store.Driver)
	if cfg.Store.Driver == "memory" {
		logger.Warn("memory store selected; provision customer keys in-process only, data is lost on exit")
	}

	// 3. Lifecycle events.
	pub, err := openPublisher(cfg, logger)
	if err != nil {
		st.Close()
		return fmt.Errorf("open event publisher: %w", err)
	}
	emitter := events.NewEmitter(pub, logger)
	logger.Info("event publisher ready", "driver", cfg.Events.Driver)

	// 4. License service.
	svc := newService(cfg, st, emitter, m, logger)

	// 5. HTTP server.
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORS.Origins,
		PublicRateLimit: cfg.Server.RateLimit.PublicPerMinute,
		AdminRateLimit:  cfg.Server.RateLimit.AdminPerMinute,
	}
	srv := server.New(srvCfg, server.Deps{
		Service: svc,
		Store:   st,
		Metrics: m,
		Version: versionString(),
		Closers: []io.Closer{emitter, st},
	}, logger)

	base := fmt.Sprintf("http://%s", cfg.Addr())
	fmt.Printf("→ Pilot %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Health:     %s/healthz\n", base)
	fmt.Printf("→ Metrics:    %s/metrics\n", base)
	fmt.Printf("→ Store:      %s\n", cfg.Store.Driver)
	fmt.Println()

	return srv.ListenAndServe()
}
