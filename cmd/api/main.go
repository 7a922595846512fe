// Package main runs the member-qa API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/member-qa/engine/index"
	"github.com/WessleyAI/member-qa/engine/qa"
	"github.com/WessleyAI/member-qa/engine/source"
	"github.com/WessleyAI/member-qa/pkg/embed"
	"github.com/WessleyAI/member-qa/pkg/fn"
	"github.com/WessleyAI/member-qa/pkg/metrics"
	"github.com/WessleyAI/member-qa/pkg/mid"
	"github.com/WessleyAI/member-qa/pkg/natsutil"
	"github.com/WessleyAI/member-qa/pkg/resilience"
)

func main() {
	cfg, cfgErr := loadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.level()}))
	slog.SetDefault(logger)
	if cfgErr != nil {
		logger.Error("invalid configuration", "err", cfgErr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// newIndex wires the data source, breaker and embedder into an index.
func newIndex(cfg Config, logger *slog.Logger) (*index.Index, error) {
	// The startup retry must exhaust its attempts before the breaker opens,
	// or the late attempts never reach the source.
	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		Name:          "source",
		FailThreshold: max(cfg.RefreshAttempts+1, 3),
		Timeout:       30 * time.Second,
		Logger:        logger,
	})
	src := source.New(
		source.Config{URL: cfg.SourceURL, Timeout: cfg.SourceTimeout},
		source.WithBreaker(breaker),
		source.WithLogger(logger),
	)
	emb, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	return index.New(src, emb, index.WithLogger(logger)), nil
}

// newEmbedder builds the configured provider. An empty EmbedModel leaves
// the choice to the provider.
func newEmbedder(cfg Config, logger *slog.Logger) (embed.Embedder, error) {
	return embed.New(cfg.EmbedProvider,
		embed.WithBaseURL(cfg.EmbedURL),
		embed.WithModel(cfg.EmbedModel),
		embed.WithAPIKey(cfg.EmbedAPIKey),
		embed.WithBatchSize(cfg.EmbedBatch),
		embed.WithLogger(logger),
	)
}

// routes builds the HTTP handler.
func routes(svc service, reg *metrics.Registry, cfg Config, logger *slog.Logger) http.Handler {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /ask", mid.RateLimit(limiter)(handleAsk(svc, logger)))
	mux.HandleFunc("GET /health", handleHealth(svc))
	mux.HandleFunc("GET /ready", handleReady(svc))
	mux.HandleFunc("POST /refresh", handleRefresh(svc, logger))
	mux.Handle("GET /metrics", reg.Handler())

	return mid.Chain(mux,
		mid.OTel("member-qa"),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(cfg.CORSOrigin),
	)
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	ix, err := newIndex(cfg, logger)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	reg := metrics.New()
	opts := []qa.Option{qa.WithMetrics(reg)}

	// --- Optional NATS wiring ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsutil.Connect(cfg.NATSURL, "member-qa", logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		opts = append(opts, qa.WithEvents(natsSink{pub: nc}))
	}

	svc := qa.New(ix, qa.Options{TopK: cfg.TopK, MinSimilarity: cfg.MinSimilarity}, logger, opts...)
	if nc != nil {
		if _, err := subscribeRefresh(nc, svc, logger); err != nil {
			return err
		}
	}
	return serve(ctx, cfg, svc, reg, logger)
}

// serve runs the HTTP server and the refresh loop until ctx is done.
func serve(ctx context.Context, cfg Config, svc service, reg *metrics.Registry, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes(svc, reg, cfg, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	// The server answers 503 on /ask until the first refresh lands.
	go refreshLoop(ctx, svc, cfg, logger)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// startupRetry is the backoff for the initial load. Attempts come from config.
var startupRetry = fn.DefaultRetry

// refreshLoop loads the corpus at startup with backoff, then refreshes on
// cfg.RefreshInterval when set.
func refreshLoop(ctx context.Context, svc service, cfg Config, logger *slog.Logger) {
	opts := startupRetry
	opts.MaxAttempts = cfg.RefreshAttempts
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("startup refresh failed, retrying", "attempt", attempt, "of", cfg.RefreshAttempts, "wait", wait, "err", err)
	}
	res := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[index.RefreshResult] {
		r, err := svc.Refresh(ctx, "startup")
		return fn.FromPair(r, err)
	})
	if loaded, err := res.Unwrap(); err != nil {
		logger.Error("startup refresh gave up; serving 503 until a refresh succeeds", "attempts", cfg.RefreshAttempts, "err", err)
	} else {
		logger.Info("member data loaded", "records", loaded.Records, "model", loaded.Model)
	}

	if cfg.RefreshInterval <= 0 {
		return
	}
	t := time.NewTicker(cfg.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := svc.Refresh(ctx, "timer"); err != nil {
				logger.Warn("periodic refresh failed", "err", err)
			}
		}
	}
}
