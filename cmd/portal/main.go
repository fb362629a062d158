package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/examcert/internal/contentstore"
	"github.com/jmerrifield20/examcert/internal/email"
	"github.com/jmerrifield20/examcert/internal/health"
	"github.com/jmerrifield20/examcert/internal/identity"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/portal/handler"
	"github.com/jmerrifield20/examcert/internal/reconcile"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"github.com/jmerrifield20/examcert/internal/signer"
	"github.com/jmerrifield20/examcert/internal/verify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("portal exited with error", zap.Error(err))
	}
}

// stores groups the persistence backends the portal runs on.
type stores struct {
	ledger  ledger.Ledger
	content contentstore.Store
	repo    scoring.Repository
	queue   reconcile.Queue
	ping    func(ctx context.Context) error // nil for in-memory stores
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("portal")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("portal.port", 8080)
	viper.SetDefault("portal.public_url", "")
	viper.SetDefault("portal.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("portal.rate_limit_rps", 20)
	viper.SetDefault("database.url", "")
	viper.SetDefault("identity.key_file", "keys/operator.pem")
	viper.SetDefault("identity.token_ttl_seconds", 8*3600)
	viper.SetDefault("signer.public_keys", []string{})
	viper.SetDefault("reconcile.interval", "30s")
	viper.SetDefault("reconcile.max_attempts", 10)
	viper.SetDefault("verify.cache_ttl", "10m")
	viper.SetDefault("verify.bind_hash", true)
	viper.SetDefault("health.interval", "30s")
	viper.SetDefault("health.fail_threshold", 3)
	viper.SetDefault("email.smtp_host", "")
	viper.SetDefault("email.smtp_port", 587)
	viper.SetDefault("email.smtp_username", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_address", "noreply@examcert.local")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	st, closeDB, err := openStores(ctx, viper.GetString("database.url"), logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := st.ledger.Verify(ctx); err != nil {
		logger.Warn("anchor ledger integrity check FAILED", zap.Error(err))
	} else {
		n, _ := st.ledger.Len(ctx)
		root, _ := st.ledger.Root(ctx)
		logger.Info("anchor ledger verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Identity ─────────────────────────────────────────────────────────────
	httpPort := viper.GetInt("portal.port")
	publicURL := strings.TrimRight(viper.GetString("portal.public_url"), "/")
	if publicURL == "" {
		publicURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	opKey, err := identity.LoadOrCreateKey(viper.GetString("identity.key_file"), 0)
	if err != nil {
		return fmt.Errorf("operator key: %w", err)
	}
	tokenTTL := time.Duration(viper.GetInt("identity.token_ttl_seconds")) * time.Second
	tokens := identity.NewTokenIssuer(opKey, publicURL, tokenTTL)

	signerKeys, err := signer.ParsePublicKeys(viper.GetStringSlice("signer.public_keys"))
	if err != nil {
		return fmt.Errorf("signer.public_keys: %w", err)
	}
	verifier := signer.NewVerifier(signerKeys...)
	if verifier.Len() == 0 {
		logger.Warn("no signer public keys configured; every anchor will be refused")
	}

	// ── Email ────────────────────────────────────────────────────────────────
	var mailer email.Sender
	if host := viper.GetString("email.smtp_host"); host != "" {
		mailer = email.NewSMTPSender(email.SMTPConfig{
			Host:     host,
			Port:     viper.GetInt("email.smtp_port"),
			Username: viper.GetString("email.smtp_username"),
			Password: viper.GetString("email.smtp_password"),
			From:     viper.GetString("email.from_address"),
		})
		logger.Info("SMTP email sender configured", zap.String("host", host))
	} else {
		mailer = email.NewLogSender(logger)
		logger.Info("email sender: log only (set email.smtp_host to enable SMTP)")
	}

	// ── Scoring backend + reconciliation ─────────────────────────────────────
	svc := scoring.NewService(st.repo, st.content, logger)
	svc.SetAnchorResolver(st.ledger)
	svc.SetReconcileQueue(st.queue)
	svc.SetMailer(mailer, publicURL+"/api/v1/verify")

	worker := reconcile.NewWorker(st.queue, scoring.Direct{Service: svc}, reconcile.Config{
		Interval:    viper.GetDuration("reconcile.interval"),
		MaxAttempts: viper.GetInt("reconcile.max_attempts"),
		IsPermanent: scoring.IsPermanent,
	}, logger)
	worker.SetRecorder(handler.RecordReconcile)
	go worker.Run(ctx)

	// ── Verification ─────────────────────────────────────────────────────────
	resolver := verify.New(st.ledger, st.content, verify.Config{
		CacheTTL:   viper.GetDuration("verify.cache_ttl"),
		StrictHash: true,
		BindHash:   viper.GetBool("verify.bind_hash"),
	}, logger)
	resolver.SetRecorder(func(o verify.Outcome) { handler.RecordVerification(o.String()) })
	resolver.StartCacheEviction(ctx, time.Minute)

	// ── Dependency health ────────────────────────────────────────────────────
	checker := health.New(health.Config{
		CheckInterval: viper.GetDuration("health.interval"),
		FailThreshold: viper.GetInt("health.fail_threshold"),
	}, logger)
	checker.SetMetricsRecord(handler.RecordHealthProbe)
	if st.ping != nil {
		checker.Add("database", health.Probe(st.ping))
	}
	checker.Add("ledger", func(ctx context.Context) error {
		_, err := st.ledger.Root(ctx)
		return err
	})
	go checker.Run(ctx)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("portal.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(contentstore.MaxBlobSize + 64<<10))
	if rps := viper.GetInt("portal.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		code, status := http.StatusOK, "ok"
		if !checker.Healthy() {
			code, status = http.StatusServiceUnavailable, "degraded"
		}
		c.JSON(code, gin.H{"status": status, "dependencies": checker.Snapshot()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	requireOperator := identity.RequireOperator(tokens)
	v1 := router.Group("/api/v1")
	handler.NewEnrollmentHandler(svc, logger).Register(v1, requireOperator)
	handler.NewLedgerHandler(st.ledger, verifier, logger).Register(v1)
	handler.NewVerifyHandler(resolver).Register(v1)
	handler.NewContentHandler(st.content, logger).Register(router, requireOperator)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("portal HTTP listening", zap.Int("port", httpPort), zap.String("public_url", publicURL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutting down portal...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("portal stopped")
	return nil
}

// openStores connects to PostgreSQL when dbURL is set and falls back to
// in-memory stores otherwise.
func openStores(ctx context.Context, dbURL string, logger *zap.Logger) (*stores, func(), error) {
	if dbURL == "" {
		logger.Warn("database.url not set; using in-memory stores (data is lost on restart)")
		return &stores{
			ledger:  ledger.New(),
			content: contentstore.NewMemoryStore(),
			repo:    scoring.NewMemoryRepository(),
			queue:   reconcile.NewMemoryQueue(),
		}, func() {}, nil
	}

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	return &stores{
		ledger:  ledger.NewPostgresLedger(db, logger),
		content: contentstore.NewPostgresStore(db, logger),
		repo:    scoring.NewPostgresRepository(db),
		queue:   reconcile.NewPostgresQueue(db),
		ping:    db.Ping,
	}, db.Close, nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
