package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "tenancy/docs"
	"tenancy/internal/api"
	"tenancy/internal/auth"
	"tenancy/internal/config"
	"tenancy/internal/consumer"
	"tenancy/internal/manager"
	"tenancy/internal/metrics"
	"tenancy/internal/model"
	"tenancy/internal/provisioning"
	"tenancy/internal/session"
	"tenancy/internal/tenancy"
	"tenancy/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// @title Tenancy API
// @version 1.0
// @description Operator API for tenant provisioning and the tenant-scoped endpoints served on tenant domains.
// @BasePath /
// @schemes https http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "tenancy",
		Short:        "Multi-tenant provisioning and host-based tenant routing",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the YAML configuration")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newWorkerCmd(&cfgPath),
		newProvisionCmd(&cfgPath),
		newMigrateCmd(&cfgPath),
		newTokenCmd(&cfgPath),
	)
	return root
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator API and tenant domains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfgPath)
		},
	}
}

func serve(ctx context.Context, cfgPath string) (err error) {
	metrics.Init()

	a, err := bootstrap(cfgPath, "tenancy-api")
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()
	cfg, log := a.cfg, a.log

	rabbit, err := a.rabbit()
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	tm := manager.NewTenantManager(a.store, rabbit, a.progress(), a.box, a.pools, log)
	sessions := session.NewManager(session.NewRedisStore(a.redis, cfg.Redis.SessionTTL), session.Options{
		CookieName:     cfg.Session.CookieName,
		Secure:         cfg.Session.Secure,
		TTL:            cfg.Redis.SessionTTL,
		Environment:    cfg.Environment,
		KeyFingerprint: a.box.Fingerprint(),
	}, log)
	resolver := tenancy.NewResolver(a.store, cfg.CentralDomains, cfg.Routing.Mode)
	guard := tenancy.NewGuard(cfg.Routing.TenantOnly, cfg.Routing.CentralOnly, cfg.PrimaryCentralDomain(), cfg.Server.Scheme, log)

	apiHandler := api.NewAPI(tm, sessions, tenancy.NewMiddleware(resolver, a.pools, log), guard, issuer, log)
	apiHandler.Checks["database"] = a.store.DB.PingContext
	apiHandler.Checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting API server", zap.String("addr", cfg.Server.Addr), zap.Strings("central_domains", cfg.CentralDomains))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown initiated")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	log.Info("graceful shutdown complete")
	return nil
}

func newWorkerCmd(cfgPath *string) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume provisioning jobs and sweep stale tenants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, *cfgPath, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address for the Prometheus endpoint, empty to disable")
	return cmd
}

func runWorker(ctx context.Context, cfgPath, metricsAddr string) (err error) {
	metrics.Init()

	a, err := bootstrap(cfgPath, "tenancy-worker")
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()
	cfg, log := a.cfg, a.log

	rabbit, err := a.rabbit()
	if err != nil {
		return err
	}
	wf, err := a.workflow()
	if err != nil {
		return err
	}

	runner := worker.NewRunner(wf, a.store, rabbit, a.box, worker.RunnerConfig{
		Tries:   cfg.Provisioning.Tries,
		Timeout: cfg.Provisioning.Timeout,
	}, log)
	pool := worker.NewPool(cfg.Provisioning.Workers, runner.Handle, log)

	ch, err := rabbit.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	hostname, _ := os.Hostname()
	prefetch := max(cfg.RabbitMQ.Prefetch, cfg.Provisioning.Workers)
	c, err := consumer.StartConsumer(ch, rabbit.Topology().Queue, "tenancy-worker-"+hostname, prefetch, pool, log)
	if err != nil {
		return err
	}

	sweeper, err := worker.NewSweeper(a.store, rabbit, cfg.Provisioning.StaleAfter, cfg.Provisioning.SweepInterval, log)
	if err != nil {
		return multierr.Append(err, c.Stop())
	}
	sweeper.Start()

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	log.Info("worker started",
		zap.Int("workers", cfg.Provisioning.Workers),
		zap.Int("tries", cfg.Provisioning.Tries),
		zap.Duration("timeout", cfg.Provisioning.Timeout),
	)

	select {
	case <-ctx.Done():
		log.Info("shutdown initiated")
	case <-c.Done():
		log.Warn("consumer stopped unexpectedly")
		err = errors.New("provisioning consumer stopped")
	}

	// In-flight attempts finish before the channel closes.
	err = multierr.Combine(err, c.Stop(), sweeper.Stop())
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = multierr.Append(err, metricsServer.Shutdown(shutdownCtx))
	}
	log.Info("worker stopped")
	return err
}

func newProvisionCmd(cfgPath *string) *cobra.Command {
	var (
		tenantID   int64
		adminName  string
		adminEmail string
	)
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Run the provisioning workflow for one tenant in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := bootstrap(*cfgPath, "tenancy-provision")
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close()) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Provisioning.Timeout)
			defer cancel()

			tenant, err := a.store.GetTenant(ctx, tenantID)
			if err != nil {
				return err
			}
			seed := model.AdminSeed{Name: adminName, Email: adminEmail}
			if seed.Email == "" && tenant.AdminEmail != nil {
				seed.Email = *tenant.AdminEmail
			}
			if seed.Name == "" && tenant.AdminName != nil {
				seed.Name = *tenant.AdminName
			}

			wf, err := a.workflow()
			if err != nil {
				return err
			}
			res, err := wf.Provision(ctx, provisioning.Request{TenantID: tenantID, Admin: seed, Attempt: 1})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"tenant_id":          res.Tenant.ID,
				"status":             res.Tenant.Status,
				"host":               res.Host,
				"database":           res.Tenant.DatabaseName(),
				"admin_email":        res.Admin.Email,
				"password_generated": res.Admin.PasswordGenerated,
				"migrations":         res.Migrations.Applied,
				"seeded":             res.Seeded,
				"indexes":            res.Indexes,
			})
		},
	}
	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id")
	cmd.Flags().StringVar(&adminName, "admin-name", "", "super-admin name, defaults to the registered one")
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "super-admin email, defaults to the registered one")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newMigrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the central schema",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := bootstrap(*cfgPath, "tenancy-migrate")
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close()) }()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("central schema up to date")
			return nil
		},
	}
}

func newTokenCmd(cfgPath *string) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			token, err := issuer.GenerateToken(operator)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in the token")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}
