package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jmerrifield20/examcert/internal/contentstore"
	"github.com/jmerrifield20/examcert/internal/health"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/portal/handler"
	"github.com/jmerrifield20/examcert/internal/verify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

const serviceName = "examcert.verifier"

// probeHash is a well-formed hash nobody anchors; resolving it exercises the
// ledger round trip without touching real data.
var probeHash = "0x" + strings.Repeat("0", 64)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("verifier exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("verifier")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("verifier.grpc_port", 9090)
	viper.SetDefault("verifier.http_port", 9091)
	viper.SetDefault("verifier.ledger_url", "http://localhost:8080")
	viper.SetDefault("verifier.gateway_url", "http://localhost:8080")
	viper.SetDefault("verifier.fetch_timeout", "10s")
	viper.SetDefault("verifier.ledger_timeout", "10s")
	viper.SetDefault("verifier.cache_ttl", "10m")
	viper.SetDefault("verifier.eviction_interval", "1m")
	viper.SetDefault("verifier.bind_hash", true)
	viper.SetDefault("verifier.rate_limit_rps", 50)
	viper.SetDefault("verifier.probe_interval", "30s")
	viper.SetDefault("verifier.gateway_health_url", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	grpcPort := viper.GetInt("verifier.grpc_port")
	httpPort := viper.GetInt("verifier.http_port")
	ledgerURL := viper.GetString("verifier.ledger_url")
	gatewayURL := viper.GetString("verifier.gateway_url")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Resolver ─────────────────────────────────────────────────────────────
	anchors := ledger.NewClient(ledgerURL, viper.GetDuration("verifier.ledger_timeout"), logger)
	fetchTimeout := viper.GetDuration("verifier.fetch_timeout")
	gateway := contentstore.NewGatewayClient(gatewayURL, fetchTimeout, logger)

	resolver := verify.New(anchors, gateway, verify.Config{
		FetchTimeout: fetchTimeout,
		CacheTTL:     viper.GetDuration("verifier.cache_ttl"),
		StrictHash:   true,
		BindHash:     viper.GetBool("verifier.bind_hash"),
	}, logger)
	resolver.SetRecorder(func(o verify.Outcome) { handler.RecordVerification(o.String()) })
	resolver.StartCacheEviction(ctx, viper.GetDuration("verifier.eviction_interval"))

	// ── gRPC server: health + reflection ─────────────────────────────────────
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)
	healthSvc := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	reflection.Register(grpcServer)

	// ── Dependency health, mirrored into the gRPC health service ─────────────
	checker := health.New(health.Config{
		CheckInterval: viper.GetDuration("verifier.probe_interval"),
	}, logger)
	checker.SetMetricsRecord(handler.RecordHealthProbe)
	checker.Add("ledger", func(ctx context.Context) error {
		// A NotAnchored answer for the probe hash means the ledger is serving.
		if _, err := anchors.Resolve(ctx, probeHash); err != nil && !errors.Is(err, ledger.ErrNotAnchored) {
			return err
		}
		return nil
	})
	if u := viper.GetString("verifier.gateway_health_url"); u != "" {
		checker.Add("gateway", health.HTTPProbe(&http.Client{Timeout: 5 * time.Second}, u))
	}
	setServing := func() {
		st := grpc_health_v1.HealthCheckResponse_SERVING
		if !checker.Healthy() {
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		healthSvc.SetServingStatus("", st)
		healthSvc.SetServingStatus(serviceName, st)
	}
	setServing()
	checker.OnChange(func(string, health.Status) { setServing() })
	go checker.Run(ctx)

	// ── HTTP/JSON on the grpc-gateway mux ────────────────────────────────────
	gwMux := runtime.NewServeMux()
	rps := viper.GetInt("verifier.rate_limit_rps")
	limiter := handler.NewIPLimiter(ctx, rps, rps*2)

	if err := gwMux.HandlePath(http.MethodGet, "/v1/verify/{hash}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if rps > 0 && !limiter.AllowRequest(r) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		res := resolver.Verify(r.Context(), params["hash"])
		if res.Outcome == verify.Verified {
			w.Header().Set("Cache-Control", "public, max-age=300")
		}
		writeJSON(w, res.Outcome.HTTPStatus(), res.Response())
	}); err != nil {
		return fmt.Errorf("register verify route: %w", err)
	}
	if err := gwMux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		code, status := http.StatusOK, "ok"
		if !checker.Healthy() {
			code, status = http.StatusServiceUnavailable, "degraded"
		}
		writeJSON(w, code, map[string]any{
			"status":        status,
			"service":       "verifier",
			"dependencies":  checker.Snapshot(),
			"cache_entries": resolver.CacheLen(),
		})
	}); err != nil {
		return fmt.Errorf("register health route: %w", err)
	}
	metrics := promhttp.Handler()
	if err := gwMux.HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		metrics.ServeHTTP(w, r)
	}); err != nil {
		return fmt.Errorf("register metrics route: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           gwMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Start both servers ───────────────────────────────────────────────────
	go func() {
		logger.Info("verifier gRPC listening",
			zap.Int("port", grpcPort),
			zap.String("ledger", ledgerURL),
			zap.String("gateway", gatewayURL),
		)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("verifier HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP serve error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutting down verifier...")
	healthSvc.Shutdown()
	grpcServer.GracefulStop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}

	logger.Info("verifier stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
