package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bouncer/broker/internal/account"
	"github.com/bouncer/broker/internal/api"
	"github.com/bouncer/broker/internal/audit"
	"github.com/bouncer/broker/internal/callback"
	"github.com/bouncer/broker/internal/chat"
	"github.com/bouncer/broker/internal/circuitbreaker"
	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/compliance"
	"github.com/bouncer/broker/internal/config"
	"github.com/bouncer/broker/internal/executor"
	"github.com/bouncer/broker/internal/grant"
	"github.com/bouncer/broker/internal/infra"
	"github.com/bouncer/broker/internal/metrics"
	"github.com/bouncer/broker/internal/middleware"
	"github.com/bouncer/broker/internal/pipeline"
	"github.com/bouncer/broker/internal/risk"
	"github.com/bouncer/broker/internal/store"
	"github.com/bouncer/broker/internal/trust"
	"github.com/bouncer/broker/internal/upload"
	"github.com/bouncer/broker/internal/websocket"
)

// reaperInterval is how often the background reaper sweeps expired pending
// requests, timed-out approvals and stale upload staging files (§5's
// background-reaper requirement).
const reaperInterval = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Get()
	logger.Info("bouncer: starting", "env", cfg.Server.Env, "port", cfg.Server.Port)

	st := mustStore(cfg, logger)

	safePrefixes, err := classifier.LoadTable(cfg.Classifier.SafelistPath)
	if err != nil {
		logger.Error("bouncer: loading safelist", "error", err)
		os.Exit(1)
	}
	blocked, err := classifier.LoadTable(cfg.Classifier.BlocklistPath)
	if err != nil {
		logger.Error("bouncer: loading blocklist", "error", err)
		os.Exit(1)
	}
	dangerous, err := classifier.LoadTable(cfg.Classifier.DangerousPatternPath)
	if err != nil {
		logger.Error("bouncer: loading dangerous-pattern table", "error", err)
		os.Exit(1)
	}
	trustExcl, err := classifier.LoadTrustExclusions(cfg.Classifier.TrustExclusionsPath)
	if err != nil {
		logger.Error("bouncer: loading trust exclusions", "error", err)
		os.Exit(1)
	}
	cl := classifier.New(safePrefixes, blocked, dangerous, trustExcl)
	co := compliance.New(nil)

	seq := risk.NewLookbackAnalyzer(st, 15*time.Minute)
	rs := risk.New(nil, seq)

	trustHashKey := cfg.Trust.HashKey
	if trustHashKey == "" {
		logger.Warn("bouncer: trust.hash_key unset, using a random per-process key (trust sessions will not survive a restart)")
		trustHashKey = randomHashKey()
	}
	tr := trust.NewManager(st, cl, []byte(trustHashKey))
	gr := grant.NewManager(st, cl, co, rs)

	breakers := circuitbreaker.NewBrokerCircuitBreakers()
	backend := &breakerBackend{inner: mustExecutorBackend(logger), cb: breakers.Executor}

	chatClient, err := chat.NewClient(cfg.Chat.BotToken, approverChatID(cfg), breakers.Chat, logger)
	if err != nil {
		logger.Error("bouncer: chat client init", "error", err)
		os.Exit(1)
	}

	rl := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Window:   time.Duration(cfg.Trust.RateLimitWindowSec) * time.Second,
		MaxCalls: 60,
	})

	m := metrics.New()

	p := pipeline.New(st, cl, co, rs, tr, gr, backend, chatClient, rl, pipeline.Config{
		TrustEnabled:        true,
		ApprovalTimeout:     time.Duration(cfg.Approval.TimeoutSec) * time.Second,
		SyncMaxWait:         time.Duration(cfg.Approval.MaxWaitSec) * time.Second,
		SyncPollInterval:    500 * time.Millisecond,
		MaxPendingPerSource: cfg.Trust.MaxPendingPerSource,
		ExecutorTimeout:     executor.DefaultTimeout,
	})
	p.SetMetrics(m)

	approverIDs := approverIDStrings(cfg)
	cb := callback.New(st, tr, backend, chatClient, approverIDs, time.Duration(cfg.Trust.DefaultWindowSec)*time.Second, cfg.Trust.DefaultMaxCommands)

	poller := chat.NewPoller(chatClient, cb, logger)

	acctMgr := account.New(st)
	ctx := context.Background()
	if err := acctMgr.Seed(ctx, cfg.Accounts); err != nil {
		logger.Error("bouncer: seeding accounts", "error", err)
		os.Exit(1)
	}

	upMgr := upload.New(cfg.Upload, nil, st)

	var archive audit.Archiver
	if cfg.Postgres.Enabled {
		pgStore, err := audit.NewStore(cfg.Postgres.DSN, breakers.Postgres)
		if err != nil {
			logger.Error("bouncer: connecting audit archive", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		archive = pgStore
	} else {
		logger.Info("bouncer: audit archive disabled (postgres.enabled=false)")
	}

	streamer := websocket.NewRequestStreamer()
	go streamer.Run()

	srv := api.NewServer(api.Config{
		Store:        st,
		Pipeline:     p,
		Grant:        gr,
		Trust:        tr,
		Accounts:     acctMgr,
		Upload:       upMgr,
		Classifier:   cl,
		Audit:        archive,
		Metrics:      m,
		RateLimit:    rl,
		Breakers:     breakers,
		SharedSecret: cfg.Server.SharedSecret,
		CORSOrigins:  cfg.Server.CORSAllowOrigins,
	})

	router := srv.Router()
	router.HandleFunc("/v1/stream", streamer.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.Server.Interface + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	bgCtx, cancelBG := context.WithCancel(context.Background())
	go poller.Run(bgCtx)
	go runReaper(bgCtx, st, upMgr, logger)

	go func() {
		logger.Info("bouncer: listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("bouncer: http server", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("bouncer: shutting down")
	cancelBG()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("bouncer: graceful shutdown", "error", err)
	}
}

// mustStore builds the State Store (C4). A disabled Redis is a dev/test-only
// path: RedisConfig's doc comment is explicit that Bouncer has no durable
// in-memory mode, so a real deployment running without Redis is a
// misconfiguration worth logging loudly about, not silently hiding behind
// an in-memory store that loses every pending approval on restart.
func mustStore(cfg *config.Config, logger *slog.Logger) store.Store {
	if !cfg.Redis.Enabled {
		logger.Warn("bouncer: redis disabled, falling back to in-memory store (not durable, dev/test only)")
		return store.NewMemoryStore()
	}
	rdb, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Error("bouncer: connecting to redis", "error", err)
		os.Exit(1)
	}
	return store.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
}

// mustExecutorBackend selects the Executor (C9) backend. BOUNCER_EXECUTOR_IMAGE
// opts into the sandboxed Docker backend; otherwise commands run directly on
// the host.
func mustExecutorBackend(logger *slog.Logger) executor.Backend {
	if image := os.Getenv("BOUNCER_EXECUTOR_IMAGE"); image != "" {
		backend, err := executor.NewDockerBackend(image)
		if err != nil {
			logger.Error("bouncer: docker backend init", "error", err)
			os.Exit(1)
		}
		logger.Info("bouncer: executor backend", "kind", "docker", "image", image)
		return backend
	}
	logger.Info("bouncer: executor backend", "kind", "host")
	return executor.NewHostBackend()
}

// randomHashKey generates a process-local HMAC key for dev/test runs that
// never set trust.hash_key; every restart invalidates existing trust
// sessions since the key isn't persisted.
func randomHashKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "insecure-dev-only-fallback-key"
	}
	return hex.EncodeToString(buf)
}

func approverChatID(cfg *config.Config) int64 {
	if len(cfg.Chat.ApproverChatIDs) == 0 {
		return 0
	}
	return cfg.Chat.ApproverChatIDs[0]
}

func approverIDStrings(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Chat.ApproverChatIDs))
	for _, id := range cfg.Chat.ApproverChatIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return ids
}

// runReaper sweeps expired pending requests, marks timed-out approvals and
// cleans stale upload staging files on a fixed interval (§5).
func runReaper(ctx context.Context, st store.Store, upMgr *upload.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := st.ReapExpiredRequests(ctx); err != nil {
				logger.Error("bouncer: reaping expired requests", "error", err)
			} else if n > 0 {
				logger.Info("bouncer: reaped expired requests", "count", n)
			}
			if n, err := st.MarkTimeouts(ctx); err != nil {
				logger.Error("bouncer: marking timeouts", "error", err)
			} else if n > 0 {
				logger.Info("bouncer: marked timeouts", "count", n)
			}
			if n, err := upMgr.CleanupStale(time.Hour); err != nil {
				logger.Error("bouncer: cleaning stale uploads", "error", err)
			} else if n > 0 {
				logger.Info("bouncer: cleaned stale upload files", "count", n)
			}
		}
	}
}

// breakerBackend wraps an executor.Backend with the broker's executor
// circuit breaker, so a subprocess backend wedged on a hung sandbox or a
// dead Docker daemon trips open instead of queuing every pending approval
// behind a timeout each.
type breakerBackend struct {
	inner executor.Backend
	cb    *circuitbreaker.CircuitBreaker
}

func (b *breakerBackend) Run(ctx context.Context, argv []string, env map[string]string, timeout time.Duration) (executor.Result, error) {
	return circuitbreaker.ExecuteWithFallback(b.cb,
		func() (executor.Result, error) {
			return b.inner.Run(ctx, argv, env, timeout)
		},
		func(err error) (executor.Result, error) {
			return executor.Result{}, err
		},
	)
}
