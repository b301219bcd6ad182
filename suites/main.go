package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/verdict-ml/verdict-go/internal/artifact"
	"github.com/verdict-ml/verdict-go/internal/composer"
	"github.com/verdict-ml/verdict-go/internal/platform/auditlog"
	"github.com/verdict-ml/verdict-go/internal/platform/auth"
	"github.com/verdict-ml/verdict-go/internal/platform/env"
	"github.com/verdict-ml/verdict-go/internal/platform/httpserver"
	"github.com/verdict-ml/verdict-go/internal/platform/metrics"
	"github.com/verdict-ml/verdict-go/internal/platform/objectstore"
	"github.com/verdict-ml/verdict-go/internal/platform/postgres"
	"github.com/verdict-ml/verdict-go/internal/registry"
	repopg "github.com/verdict-ml/verdict-go/internal/repo/postgres"
	"github.com/verdict-ml/verdict-go/internal/scheduler"
	"github.com/verdict-ml/verdict-go/internal/scheduler/dryrun"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("VERDICT_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("VERDICT_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	artifactStore, err := artifact.NewMinioStore(storeClient, storeCfg.Bucket)
	if err != nil {
		logger.Error("artifact store init failed", "error", err)
		os.Exit(2)
	}
	retryAttempts, err := env.Int("VERDICT_ARTIFACT_RETRY_ATTEMPTS", 3)
	if err != nil {
		logger.Error("invalid artifact retry attempts", "error", err)
		os.Exit(2)
	}
	retryBackoff, err := env.Duration("VERDICT_ARTIFACT_RETRY_BACKOFF", 250*time.Millisecond)
	if err != nil {
		logger.Error("invalid artifact retry backoff", "error", err)
		os.Exit(2)
	}
	retryingStore := artifact.WithRetry(artifactStore, retryAttempts, retryBackoff)

	callableStore := repopg.NewCallableStore(db)
	suiteStore := repopg.NewSuiteStore(db)
	executionStore := repopg.NewExecutionStore(db)

	var refs composer.ReferenceChecker
	switch strings.ToLower(strings.TrimSpace(env.String("VERDICT_REFERENCE_CHECK", "artifact"))) {
	case "artifact":
		refs = newArtifactReferenceChecker(retryingStore)
	case "off":
		refs = allowAllReferences{}
	default:
		logger.Error("unsupported reference check mode", "env", "VERDICT_REFERENCE_CHECK")
		os.Exit(2)
	}

	reg := registry.New(callableStore)
	comp := composer.New(suiteStore, callableStore, refs)

	workers, err := env.Int("VERDICT_SCHEDULER_WORKERS", scheduler.DefaultWorkers)
	if err != nil {
		logger.Error("invalid scheduler workers", "error", err)
		os.Exit(2)
	}

	failureRate, err := env.Float("VERDICT_DRYRUN_FAILURE_RATE", 0)
	if err != nil {
		logger.Error("invalid dry run failure rate", "error", err)
		os.Exit(2)
	}

	var backend scheduler.Backend
	backendMode := strings.ToLower(strings.TrimSpace(env.String("VERDICT_EXECUTION_BACKEND", "dryrun")))
	switch backendMode {
	case "dryrun":
		backend = dryrun.NewWithFailureRate(failureRate)
	case "staging":
		backend = scheduler.NewStagingBackend(retryingStore, dryrun.NewWithFailureRate(failureRate), logger)
	default:
		logger.Error("unsupported execution backend", "mode", backendMode)
		os.Exit(2)
	}

	sched := scheduler.New(suiteStore, callableStore, executionStore, backend, logger, workers)
	if sched == nil {
		logger.Error("scheduler init failed")
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("suites"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"suites",
			httpserver.ReadinessCheck{
				Name:  "postgres",
				Check: httpserver.WithTimeout(750*time.Millisecond, db.PingContext),
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: httpserver.WithTimeout(750*time.Millisecond, func(ctx context.Context) error {
					return objectstore.CheckBucket(ctx, storeClient, storeCfg)
				}),
			},
		),
	)
	mux.Handle("GET /metrics", metrics.Handler())

	api := newSuitesAPI(logger, reg, comp, sched, suiteStore, callableStore, executionStore)
	api.register(mux)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	if err := authCfg.Validate(); err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	skipPrefixes := []string{"/healthz", "/readyz", "/metrics", "/auth/"}

	var handler http.Handler = metrics.Middleware(mux)
	if authCfg.Mode != auth.ModeDisabled {
		authenticator, err := buildAuthenticator(ctx, authCfg, mux)
		if err != nil {
			logger.Error("auth init failed", "error", err)
			os.Exit(2)
		}
		handler = auth.Middleware{
			Logger:         logger,
			Authenticator:  authenticator,
			Authorize:      suiteAuthorizer(),
			ProjectResolve: auth.RequireProjectIDResolver(skipPrefixes),
			Audit: func(ctx context.Context, event auth.DenyEvent) error {
				auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return auditlog.InsertAuthDeny(auditCtx, db, "suites", event)
			},
			SkipPrefixes: skipPrefixes,
		}.Wrap(handler)
	}

	cfg := httpserver.Config{
		Service:         "suites",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	err = httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "suites", handler))
	sched.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func buildAuthenticator(ctx context.Context, cfg auth.Config, mux *http.ServeMux) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeDev:
		return auth.NewDevAuthenticator(cfg), nil
	case auth.ModeHeaders:
		return auth.NewGatewayHeadersAuthenticator(cfg.InternalAuthSecret)
	case auth.ModeOIDC:
		svc, err := auth.NewOIDCService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		login, err := svc.LoginHandler()
		if err != nil {
			return nil, err
		}
		callback, err := svc.CallbackHandler()
		if err != nil {
			return nil, err
		}
		mux.HandleFunc("GET /auth/login", login)
		mux.HandleFunc("GET /auth/callback", callback)
		mux.HandleFunc("POST /auth/logout", svc.LogoutHandler())
		mux.HandleFunc("GET /auth/session", svc.SessionHandler())
		return svc, nil
	default:
		return nil, errors.New("unsupported auth mode")
	}
}

// suiteAuthorizer applies method-based roles, except that scheduling and
// cancelling an execution only need read access.
func suiteAuthorizer() auth.AuthorizeFunc {
	return func(r *http.Request, identity auth.Identity) error {
		required := auth.RequiredRoleForRequest(r)
		if r.Method == http.MethodPost &&
			(strings.HasSuffix(r.URL.Path, "/schedule-execution") || strings.HasSuffix(r.URL.Path, "/cancel")) {
			required = auth.RoleViewer
		}
		if auth.HasAtLeast(identity.Roles, required) {
			return nil
		}
		return auth.ErrForbidden
	}
}
