package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mini-idp/mini-idp/bootstrap"
	"github.com/mini-idp/mini-idp/clock"
	"github.com/mini-idp/mini-idp/config"
	"github.com/mini-idp/mini-idp/cryptor"
	"github.com/mini-idp/mini-idp/pkg/log"
	"github.com/mini-idp/mini-idp/server"
	sqlstore "github.com/mini-idp/mini-idp/storage/sql"
)

func commandServe() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mini-idp HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file (MINI_IDP_* env vars still take precedence)")
	return cmd
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, sqlstore.Flavor, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		raw, _, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseDSN)
		return raw, sqlstore.Postgres, err
	case "sqlite3", "":
		raw, _, err := sqlstore.OpenSQLite(ctx, cfg.DatabaseDSN)
		return raw, sqlstore.SQLite, err
	default:
		return nil, sqlstore.Flavor{}, fmt.Errorf("config: unsupported MINI_IDP_DB_DRIVER %q", cfg.DatabaseDriver)
	}
}

func runServe(configPath string) error {
	logger, err := newLogger(os.Getenv("MINI_IDP_LOG_LEVEL"), os.Getenv("MINI_IDP_LOG_FORMAT"))
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Infof("config issuer: %s", cfg.SelfRefURI)

	ctx := context.Background()

	raw, flavor, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer raw.Close()
	logger.Infof("config storage: %s", cfg.DatabaseDriver)

	crypt, err := cryptor.Load(cfg.PrivateKeyFile, cfg.PublicKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}
	if !crypt.Available() {
		logger.Warn("signing/encryption key material is not configured; token issuance and encrypted columns will fail")
	}

	bootstrapper := bootstrap.New(raw, flavor, crypt)
	bootOpts := bootstrap.Options{
		Bootstrap:     cfg.HasBootingOption(bootstrap.OptBootstrap),
		DataReset:     cfg.HasBootingOption(bootstrap.OptDataReset),
		SessionReset:  cfg.HasBootingOption(bootstrap.OptSessionReset),
		SelfRefURI:    cfg.SelfRefURI,
		OwnerID:       cfg.BootstrapOwnerID,
		OwnerUserName: cfg.BootstrapOwnerUserName,
		OwnerEmail:    cfg.BootstrapOwnerEmail,
		OwnerPassword: cfg.BootstrapOwnerPassword,
	}
	if err := bootstrapper.Run(ctx, bootOpts); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	db := sqlstore.Open(raw, flavor)
	scopes := sqlstore.NewScopeStore(db, raw)
	roles := sqlstore.NewRoleStore(db, raw)
	users := sqlstore.NewUserStore(db, raw, crypt)
	clients := sqlstore.NewClientStore(db, raw, crypt)
	policies := sqlstore.NewPolicyStore(db, raw)
	kv := sqlstore.NewKVStore(db, raw, clock.New())

	prometheusRegistry := prometheus.NewRegistry()
	if err := prometheusRegistry.Register(prometheus.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register go runtime metrics: %w", err)
	}
	if err := prometheusRegistry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("failed to register process metrics: %w", err)
	}
	serverMetrics := server.NewMetrics(prometheusRegistry)

	srv := server.New(server.Deps{
		Config:   cfg,
		Log:      logger,
		Clock:    clock.New(),
		Cryptor:  crypt,
		KV:       kv,
		Scopes:   scopes,
		Roles:    roles,
		Users:    users,
		Clients:  clients,
		Policies: policies,
		Metrics:  serverMetrics,
	})

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "storage",
			CheckFunc: func(ctx context.Context) (interface{}, error) {
				return nil, raw.PingContext(ctx)
			},
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	telemetryRouter := http.NewServeMux()
	telemetryRouter.Handle("/metrics", promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{}))
	telemetryRouter.Handle("/healthz", gosundheithttp.HandleHealthJSON(healthChecker))
	telemetryRouter.HandleFunc("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	var gr run.Group

	webSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}
	defer webSrv.Close()
	if err := addHTTPServer(&gr, "http", webSrv, logger); err != nil {
		return err
	}

	telemetrySrv := &http.Server{Addr: cfg.HealthAddr, Handler: telemetryRouter}
	defer telemetrySrv.Close()
	if err := addHTTPServer(&gr, "http/telemetry", telemetrySrv, logger); err != nil {
		return err
	}

	gr.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); !ok {
			return fmt.Errorf("run groups: %w", err)
		}
		logger.Infof("%v, shutdown now", err)
	}
	return nil
}

func addHTTPServer(gr *run.Group, name string, srv *http.Server, logger log.Logger) error {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening (%s) on %s: %w", name, srv.Addr, err)
	}
	gr.Add(func() error {
		logger.Infof("listening (%s) on %s", name, srv.Addr)
		return srv.Serve(listener)
	}, func(err error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		logger.Debugf("starting graceful shutdown (%s)", name)
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("graceful shutdown (%s): %v", name, err)
		}
	})
	return nil
}
