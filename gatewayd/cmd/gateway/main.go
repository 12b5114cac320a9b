// Command gateway runs the control-plane gateway: the HTTP API, the
// WebSocket fan-out hub, the notification service, and the housekeeping
// scheduler, all sharing one sqlite-backed store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/api"
	"github.com/orcabay/control-plane/gatewayd/internal/artifacts"
	"github.com/orcabay/control-plane/gatewayd/internal/auth"
	"github.com/orcabay/control-plane/gatewayd/internal/broker"
	"github.com/orcabay/control-plane/gatewayd/internal/config"
	"github.com/orcabay/control-plane/gatewayd/internal/hub"
	"github.com/orcabay/control-plane/gatewayd/internal/metrics"
	"github.com/orcabay/control-plane/gatewayd/internal/notify"
	"github.com/orcabay/control-plane/gatewayd/internal/redact"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
	"github.com/orcabay/control-plane/gatewayd/internal/sweep"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "gateway",
		Short: "control-plane gateway — HTTP broker for remote AI-worker runs",
		Long: `gateway is the central component of the control plane.
It exposes a REST+WebSocket API for operators and wrapper clients,
and owns the sqlite store every run, command, and artifact lives in.`,
	}
	config.RegisterFlags(root, cfg)

	root.AddCommand(newServeCmd(cfg))
	root.AddCommand(newMigrateCmd(cfg))
	root.AddCommand(newSeedAdminCmd(cfg))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gateway %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := config.BuildLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			st, err := store.Open(store.Config{DSN: cfg.DatabaseDSN, Logger: logger})
			if err != nil {
				return fmt.Errorf("opening store (applies schema): %w", err)
			}
			defer st.Close()

			logger.Info("schema applied", zap.String("dsn", cfg.DatabaseDSN))
			return nil
		},
	}
}

func newSeedAdminCmd(cfg *config.Config) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the first admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			logger, err := config.BuildLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			st, err := store.Open(store.Config{DSN: cfg.DatabaseDSN, Logger: logger})
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			hashed, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			user, err := st.CreateUser(cmd.Context(), email, hashed, store.RoleAdmin)
			if err != nil {
				return fmt.Errorf("creating admin user: %w", err)
			}
			fmt.Printf("admin user created: id=%s email=%s\n", user.ID, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (required)")
	return cmd
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting gateway",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("database", cfg.DatabaseDSN),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Store ---
	st, err := store.Open(store.Config{DSN: cfg.DatabaseDSN, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// --- 2. Metrics ---
	m := metrics.New()

	// --- 3. Auth ---
	authService := auth.NewService(st)

	linkManager, err := buildLinkManager(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize capability-link manager: %w", err)
	}

	// --- 4. WebSocket hub ---
	h := hub.NewHub()
	h.SetMetrics(m)
	go h.Run(ctx)

	// --- 5. Artifacts ---
	artifactStore, err := artifacts.New(cfg.ArtifactsDir, cfg.MaxArtifactSize, st, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	// --- 6. Notifications ---
	notifySvc := notify.New(st, h, logger)
	notifySvc.SetMetrics(m)

	// --- 7. Broker ---
	b := broker.New(st, redact.New(redact.DefaultPatterns), cfg.AllowedCommands(), logger)
	b.SetHub(h)
	b.SetNotifier(notifySvc)
	b.SetMetrics(m)

	// --- 8. Housekeeping scheduler ---
	sched, err := sweep.New(st, notifySvc, logger)
	if err != nil {
		return fmt.Errorf("failed to create sweep scheduler: %w", err)
	}
	sched.SetMetrics(m)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start sweep scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("sweep scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- 9. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Store:       st,
		Broker:      b,
		Artifacts:   artifactStore,
		Hub:         h,
		AuthService: authService,
		Links:       linkManager,
		Metrics:     m,
		HMACSecret:  []byte(cfg.HMACSecret),
		Logger:      logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("gateway stopped")
	return nil
}

// buildLinkManager loads RSA keys from the data directory if available, or
// generates ephemeral in-memory keys for development — mirroring the
// teacher's JWT key bootstrap.
func buildLinkManager(dataDir string, logger *zap.Logger) (*auth.LinkManager, error) {
	privPath := filepath.Join(dataDir, "link_private.pem")
	pubPath := filepath.Join(dataDir, "link_public.pem")

	if _, err := os.Stat(privPath); err == nil {
		logger.Info("loading capability-link keys from disk", zap.String("private", privPath))
		return auth.NewLinkManagerFromFiles(privPath, pubPath, "control-plane-gateway")
	}

	logger.Warn("capability-link key files not found — using ephemeral in-memory keys (links are invalidated on restart)",
		zap.String("expected_private", privPath),
	)
	return auth.NewLinkManagerGenerated("control-plane-gateway")
}
