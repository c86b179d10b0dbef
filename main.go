package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/egiraffe/egiraffe/internal/auth"
	"github.com/egiraffe/egiraffe/internal/blob"
	"github.com/egiraffe/egiraffe/internal/config"
	"github.com/egiraffe/egiraffe/internal/content"
	"github.com/egiraffe/egiraffe/internal/entitlement"
	"github.com/egiraffe/egiraffe/internal/legacy"
	"github.com/egiraffe/egiraffe/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

const usage = `usage: egiraffe [serve|import]

  serve   run the HTTP API (default)
  import  copy universities, courses and users from the legacy MySQL database`

func main() {
	// Load config first so we can set log level
	cfg, err := config.Load()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.Server.LogLevel) // validated by Load
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve":
		err = run(ctx, cfg, nil)
	case "import":
		err = runImport(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("fatal", "cmd", cmd, "err", err)
		os.Exit(1)
	}
}

// openStore connects to Postgres and applies the embedded migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.PostgresStore, error) {
	ps, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to set up postgres store: %w", err)
	}
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return ps, nil
}

// openBlobStore picks the configured content backend. The returned func releases it.
func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, func(), error) {
	switch cfg.Driver {
	case "s3":
		s, err := blob.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up s3 blob store: %w", err)
		}
		return s, func() {}, nil
	default:
		s, err := blob.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up local blob store: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer ps.Close()

	// Redis is optional; without it every validation goes to Postgres.
	var cache auth.SessionCache = store.NoopSessionCache{}
	health := &auth.HealthHandler{DB: ps}
	if cfg.Redis.URL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		rs := store.NewRedisStore(rdb)
		cache = rs
		health.Cache = rs
	} else {
		slog.Warn("redis not configured, session cache disabled")
	}

	blobs, closeBlobs, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		return err
	}
	defer closeBlobs()

	hasher, err := auth.NewHasher(auth.ParamsFromConfig(cfg.Hash))
	if err != nil {
		return fmt.Errorf("failed to set up password hasher: %w", err)
	}
	cookie, err := auth.CookieConfigFromConfig(cfg.Session)
	if err != nil {
		return fmt.Errorf("invalid session cookie config: %w", err)
	}

	sessions := &auth.SessionManager{PS: ps, RS: cache, CacheTTL: cfg.Session.CacheTTL}
	ah := &auth.AuthHandler{PS: ps, Sessions: sessions, Hasher: hasher, Cookie: cookie}
	ch := &content.Handler{
		PS: ps,
		Entitlement: &entitlement.Evaluator{
			Store:                    ps,
			PurchaseRequiresApproval: cfg.Entitlement.PurchaseRequiresApproval,
		},
		Blobs:          blobs,
		Sessions:       sessions,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(ah, ch, health, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("egiraffe listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Stops accepting, then waits for in-flight requests until the timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// runImport copies the legacy database into Postgres in one transaction.
func runImport(ctx context.Context, cfg *config.Config) error {
	if cfg.Import.LegacyDSN == "" {
		return errors.New("import.legacy_dsn is required")
	}

	ps, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer ps.Close()

	src, err := legacy.OpenSource(ctx, cfg.Import.LegacyDSN)
	if err != nil {
		return err
	}
	defer src.Close()
	slog.Info("connected to legacy database")

	snap, err := legacy.Fetch(ctx, src)
	if err != nil {
		return err
	}

	var rep legacy.Report
	err = ps.WithImportTx(ctx, func(tx *store.ImportTx) error {
		rep, err = legacy.Apply(ctx, tx, snap)
		return err
	})
	if err != nil {
		return fmt.Errorf("import failed, nothing written: %w", err)
	}

	slog.Info("import done",
		"universities", rep.Universities,
		"courses", rep.Courses,
		"users", rep.Users,
		"skipped_users", rep.SkippedUsers,
	)
	return nil
}

// buildRouter wires all routes and middleware.
// Routes are grouped by the minimum authorization level their gate enforces.
func buildRouter(ah *auth.AuthHandler, ch *content.Handler, health *auth.HealthHandler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", health.CheckHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if len(corsOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   corsOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}

		// Credential exchange; no session needed.
		r.Put("/auth/login", ah.Login)
		r.Put("/auth/logout", ah.Logout)
		r.Put("/auth/register", ah.Register)

		r.Group(func(r chi.Router) {
			r.Use(ah.Gate(auth.LevelAnonymous))
			r.Get("/get/me", ah.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(ah.Gate(auth.LevelRegularUser))
			r.Put("/auth/logout-all", ah.LogoutAll)
			r.Put("/auth/password", ah.PasswordChange)

			r.Get("/files/{fileID}/download", ch.Download)
			r.Get("/ecs/balance", ch.Balance)
			r.Put("/action/purchase", ch.Purchase)
			r.Put("/action/uploads", ch.SaveUpload)
			r.Post("/action/uploads/{uploadID}/files", ch.UploadFile)
			r.Put("/action/files/{fileID}/approval", ch.ApproveFile)
		})

		r.Group(func(r chi.Router) {
			r.Use(ah.Gate(auth.LevelModerator))
			r.Put("/mod/uploads", ch.ModSaveUpload)
			r.Put("/mod/files/{fileID}", ch.ModApproveFile)
		})

		r.Group(func(r chi.Router) {
			r.Use(ah.Gate(auth.LevelAdmin))
			r.Put("/admin/users/{userID}/role", ch.SetRole)
			r.Put("/admin/ecs/transactions", ch.SystemTransaction)
		})
	})

	return r
}
