// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jllopis/hubnet/pkg/config"
	"github.com/jllopis/hubnet/pkg/hub"
	"github.com/jllopis/hubnet/pkg/hub/httpapi"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/llm"
	"github.com/jllopis/hubnet/pkg/llm/openai"
	"github.com/jllopis/hubnet/pkg/matcher"
	"github.com/jllopis/hubnet/pkg/registry"
	"github.com/jllopis/hubnet/pkg/resilience"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

// app holds what a serving command builds from the config.
type app struct {
	cfg      *config.Config
	self     identity.Node
	store    registry.Store
	metrics  *telemetry.HubMetrics
	shutdown telemetry.ShutdownFunc
}

// setup configures logging and telemetry. Callers must call Close.
func setup(cfg *config.Config, service string) (*app, error) {
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.Init(service, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	metrics, err := telemetry.NewHubMetrics()
	if err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("telemetry metrics: %w", err)
	}
	return &app{
		cfg:      cfg,
		self:     nodeIdentity(cfg.Node),
		metrics:  metrics,
		shutdown: shutdown,
	}, nil
}

// Close releases the registry and flushes telemetry.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("registry.close.failed", slog.String("error", err.Error()))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		slog.Warn("telemetry.shutdown.failed", slog.String("error", err.Error()))
	}
}

// openStore opens the configured registry and imports its seed tables.
func (a *app) openStore(ctx context.Context) (registry.Store, error) {
	store, err := openStore(ctx, a.cfg.Registry)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func openStore(ctx context.Context, rc config.RegistryConfig) (registry.Store, error) {
	store, err := registry.Open(ctx, registry.Options{
		Backend: rc.Backend,
		Path:    rc.Path,
		Redis: registry.RedisOptions{
			Addr:      rc.RedisAddr,
			Password:  rc.RedisPassword,
			DB:        rc.RedisDB,
			KeyPrefix: rc.RedisPrefix,
		},
	})
	if err != nil {
		return nil, err
	}
	seeds := make([]registry.Seed, 0, len(rc.Seeds))
	for _, s := range rc.Seeds {
		kind, err := registry.ParseKind(s.Kind)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed %s: %w", s.Path, err)
		}
		seeds = append(seeds, registry.Seed{Path: s.Path, Kind: kind})
	}
	if err := registry.LoadSeeds(ctx, store, seeds); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// buildNode wires a hub over the runtime store with an HTTP peer client.
func (a *app) buildNode() (*hub.Node, error) {
	m, err := buildMatcher(a.cfg.Matcher, a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	hc := a.cfg.Hub
	return hub.New(a.self, a.store, m,
		hub.WithPeerClient(httpapi.NewClient(a.self)),
		hub.WithPeerTimeout(hc.PeerTimeout()),
		hub.WithRetry(resilience.DefaultRetryConfig().WithMaxAttempts(hc.RetryAttempts)),
		hub.WithBreakers(resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			FailureThreshold: hc.BreakerFailures,
			SuccessThreshold: 1,
			Timeout:          hc.BreakerCooldown(),
		})),
		hub.WithMetrics(a.metrics),
	)
}

func buildMatcher(mc config.MatcherConfig, lc config.LLMConfig) (matcher.Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(mc.Kind)) {
	case "", "keyword":
		return matcher.NewKeywordMatcher(), nil
	case "llm":
		provider, err := buildProvider(lc)
		if err != nil {
			return nil, err
		}
		return matcher.NewLLMMatcher(provider,
			matcher.WithModel(lc.Model),
			matcher.WithPrompts(
				matcher.LoadPrompt(mc.CategoriesPromptFile, ""),
				matcher.LoadPrompt(mc.MatchPromptFile, ""),
			),
			matcher.WithMaxRows(mc.MaxRows),
		), nil
	default:
		return nil, fmt.Errorf("unknown matcher kind %q", mc.Kind)
	}
}

func buildProvider(lc config.LLMConfig) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(lc.Provider)) {
	case "", "ollama":
		return llm.NewOllama(lc.BaseURL, lc.Model), nil
	case "openai":
		opts := []openai.Option{openai.WithModel(lc.Model)}
		if lc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(lc.BaseURL))
		}
		if lc.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(lc.APIKey))
		}
		return openai.New(opts...), nil
	case "mock":
		// Offline runs: every request classifies to nothing.
		return &llm.MockProvider{Response: `{"agents": []}`}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", lc.Provider)
	}
}

func nodeIdentity(nc config.NodeConfig) identity.Node {
	return identity.New(nc.Name, nc.Host, nc.Port)
}

// serve runs h on addr until ctx is done.
func serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("http.listening", slog.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	logger.Info("http.stopped", slog.String("addr", addr))
	return nil
}
