// Command gateway boots the multi-tenant LLM application gateway's HTTP
// server: it wires the Config Cache, Authorization Resolver, Tool Registry,
// Source Manager, Provider Adapters, Chat Orchestrator, Rate Limiter, and
// Admin CRUD manager into one internal/httpapi.Server and serves it until
// an interrupt signal arrives. Host/port come from flags, a .env file is
// loaded via github.com/joho/godotenv ahead of flag parsing, and shutdown
// is signal-driven through an error channel.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joho/godotenv"

	"github.com/intrafind/ihub-apps-sub002/internal/admin"
	"github.com/intrafind/ihub-apps-sub002/internal/auth"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/httpapi"
	"github.com/intrafind/ihub-apps-sub002/internal/orchestrator"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
	"github.com/intrafind/ihub-apps-sub002/internal/providers/anthropic"
	"github.com/intrafind/ihub-apps-sub002/internal/providers/azureimage"
	"github.com/intrafind/ihub-apps-sub002/internal/providers/google"
	"github.com/intrafind/ihub-apps-sub002/internal/providers/iassistant"
	"github.com/intrafind/ihub-apps-sub002/internal/providers/local"
	"github.com/intrafind/ihub-apps-sub002/internal/providers/mistral"
	openaiprovider "github.com/intrafind/ihub-apps-sub002/internal/providers/openai"
	"github.com/intrafind/ihub-apps-sub002/internal/providers/openairesponses"
	"github.com/intrafind/ihub-apps-sub002/internal/ratelimit"
	"github.com/intrafind/ihub-apps-sub002/internal/secrets"
	"github.com/intrafind/ihub-apps-sub002/internal/sources"
	"github.com/intrafind/ihub-apps-sub002/internal/store"
	"github.com/intrafind/ihub-apps-sub002/internal/stream"
	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
	"github.com/intrafind/ihub-apps-sub002/internal/toolregistry"
)

func main() {
	// .env is optional: most deployments set CONTENTS_DIR/JWT_SECRET/provider
	// keys directly in the environment, but local dev commonly keeps them in
	// a gitignored.env file.
	_ = godotenv.Load()

	var (
		addrF  = flag.String("addr", ":8080", "HTTP listen address")
		dirF   = flag.String("contents-dir", envOr("CONTENTS_DIR", "."), "root directory containing contents/ and defaults/")
		devF   = flag.Bool("dev", os.Getenv("NODE_ENV") != "production", "enable dev-mode config refresh interval")
		debugF = flag.Bool("debug", false, "enable debug-level logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debugF {
		logLevel = slog.LevelDebug
	}
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	logger := telemetry.NewSlogLogger(slogger)
	metrics := telemetry.NewOtelMetrics("ihub-gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewLoader(*dirF, logger)
	cache, err := config.NewCache(ctx, loader, logger, *devF)
	if err != nil {
		slogger.Error("initial config load failed", "err", err)
		os.Exit(1)
	}
	cache.StartBackgroundRefresh(ctx)
	if err := cache.WatchForChanges(ctx, filepath.Join(*dirF, "contents")); err != nil {
		slogger.Warn("config file watcher unavailable, relying on the timer refresh only", "err", err)
	}

	resolver := authz.NewResolver(logger)

	platformSecret := envOr("PLATFORM_SECRET", envOr("JWT_SECRET", "dev-only-insecure-secret"))
	keyCrypt := secrets.New(platformSecret)

	toolReg := toolregistry.NewRegistry()
	// Tool scripts are an opaque deployment-specific plugin surface; no
	// built-in Handler is registered here besides the ones the orchestrator
	// intercepts itself (ask_user, source_* query tools); a real deployment
	// registers its own toolregistry.Handler per configured tool id before
	// calling Load.
	if err := toolReg.Load(cache.Snapshot().ToolList(), map[string]toolregistry.Handler{}); err != nil {
		slogger.Error("tool registry load failed", "err", err)
		os.Exit(1)
	}

	sourceMgr := sources.NewManager().
		WithHandler(config.SourceTypeFilesystem, sources.NewFilesystemHandler(filepath.Join(*dirF, "contents"))).
		WithHandler(config.SourceTypeURL, sources.NewURLHandler(&http.Client{Timeout: 30 * time.Second})).
		WithHandler(config.SourceTypeIFinder, sources.NewIFinderHandler(&http.Client{Timeout: 30 * time.Second})).
		WithHandler(config.SourceTypePage, sources.NewPageHandler(filepath.Join(*dirF, "contents", "pages")))

	dataDir := filepath.Join(*dirF, "contents", "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slogger.Error("failed to create data directory", "err", err, "dir", dataDir)
		os.Exit(1)
	}
	shortLinks, err := store.NewShortLinkStore(dataDir)
	if err != nil {
		slogger.Error("short-link store load failed", "err", err)
		os.Exit(1)
	}
	usage, err := store.NewUsageTracker(dataDir)
	if err != nil {
		slogger.Error("usage tracker load failed", "err", err)
		os.Exit(1)
	}
	_ = shortLinks // wired for the admin/short-link HTTP surface, out of this gateway's documented core

	hub := stream.NewHub(logger)

	orch := orchestrator.New(orchestrator.Deps{
		Cache:             cache,
		Tools:             toolReg,
		Sources:           sourceMgr,
		Hub:               hub,
		KeyCrypt:          keyCrypt,
		Usage:             usage,
		ProviderFactories: providerFactories(ctx, logger),
		Logger:            logger,
	})

	adminMgr := admin.New(cache, keyCrypt)

	limiter := ratelimit.New(cache.Platform().RateLimits)

	var jwtSvc *auth.JWTService
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		jwtSvc = auth.NewJWTService(secret, 12*time.Hour)
	} else {
		slogger.Warn("JWT_SECRET is not set; session issuance and bearer validation are disabled")
	}

	authMode := auth.AuthMode(envOr("AUTH_MODE", string(auth.ModeAnonymous)))

	srv := httpapi.NewServer(httpapi.Server{
		Cache:        cache,
		Resolver:     resolver,
		Admin:        adminMgr,
		Orchestrator: orch,
		Hub:          hub,
		RateLimit:    limiter,
		JWT:          jwtSvc,
		AuthMode:     authMode,
		AdminSecret:  cache.Platform().AdminSecret,
		Logger:       logger,
	})

	metrics.RecordGauge("gateway.startup", 1)

	httpSrv := &http.Server{
		Addr:              *addrF,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slogger.Info("gateway listening", "addr", *addrF, "contentsDir", *dirF)
		errc <- httpSrv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			slogger.Error("server exited with error", "err", err)
		}
	case sig := <-sigc:
		slogger.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slogger.Error("graceful shutdown failed", "err", err)
		}
	}
	cancel()
}

// providerFactories builds the full config.Provider -> orchestrator.
// ProviderFactory table, one adapter per provider enum value. Adapters that
// talk a bearer-token HTTP API are constructed lazily per call (each model may
// resolve a different key); iassistant instead shares one AWS-SDK-credentialed
// Bedrock runtime client for the process lifetime, since Bedrock authenticates
// via the ambient AWS credential chain rather than a per-model API key.
func providerFactories(ctx context.Context, logger telemetry.Logger) map[config.Provider]orchestrator.ProviderFactory {
	factories := map[config.Provider]orchestrator.ProviderFactory{
		config.ProviderOpenAI: func(model config.Model, apiKey string) providers.Provider {
			return openaiprovider.NewFromAPIKey(apiKey, model.URL)
		},
		config.ProviderOpenAIResponses: func(model config.Model, apiKey string) providers.Provider {
			return openairesponses.NewFromAPIKey(apiKey)
		},
		config.ProviderAnthropic: func(model config.Model, apiKey string) providers.Provider {
			return anthropic.NewFromAPIKey(apiKey)
		},
		config.ProviderMistral: func(model config.Model, apiKey string) providers.Provider {
			return mistral.NewFromAPIKey(apiKey, model.URL)
		},
		config.ProviderLocal: func(model config.Model, apiKey string) providers.Provider {
			return local.NewFromConfig(model.URL, apiKey)
		},
		config.ProviderAzureImage: func(model config.Model, apiKey string) providers.Provider {
			return azureimage.NewFromAPIKey(apiKey, model.URL)
		},
		config.ProviderGoogle: func(model config.Model, apiKey string) providers.Provider {
			client, err := google.NewFromAPIKey(ctx, apiKey)
			if err != nil {
				logger.Error(ctx, "google provider client construction failed", "err", err, "model", model.ID)
				return nil
			}
			return client
		},
	}

	if awsCfg, err := awsconfig.LoadDefaultConfig(ctx); err != nil {
		logger.Warn(ctx, "AWS config load failed; the iassistant provider is unavailable", "err", err)
	} else {
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		factories[config.ProviderIAssistant] = func(model config.Model, apiKey string) providers.Provider {
			return iassistant.New(runtime)
		}
	}

	return factories
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
