// Command gatewayd boots the memory substrate, relation graph, gardener,
// scheduler, and proactive evaluator on one process, wires them to an
// embedded event bus, and exposes a minimal HTTP control surface for
// operational visibility.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/channel"
	"github.com/memoryd/gateway/internal/config"
	"github.com/memoryd/gateway/internal/embedding"
	"github.com/memoryd/gateway/internal/eventbus"
	"github.com/memoryd/gateway/internal/facts"
	"github.com/memoryd/gateway/internal/gardener"
	"github.com/memoryd/gateway/internal/logging"
	"github.com/memoryd/gateway/internal/memorystore"
	"github.com/memoryd/gateway/internal/proactive"
	"github.com/memoryd/gateway/internal/relgraph"
	"github.com/memoryd/gateway/internal/scheduler"
	"github.com/memoryd/gateway/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to a .env file overlaying GATEWAY_* variables")
	port := flag.Int("port", 0, "Override HTTP control port (0 = use config)")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("config", *configPath).Msg("gatewayd starting")

	if dir := filepath.Dir(cfg.Storage.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create storage directory")
		}
	}
	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer db.Close()

	embedder := buildEmbeddingProvider(cfg)

	reg := channel.NewRegistry()
	sender := channel.NewSender(reg)

	natsServer, natsURL, err := eventbus.StartEmbeddedServer("127.0.0.1", cfg.Server.NATSPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start embedded nats server")
	}
	defer natsServer.Shutdown()

	bus, err := eventbus.NewNATSPublisher(natsURL, "gatewayd")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect event bus publisher")
	}
	defer bus.Close()
	log.Info().Str("url", natsURL).Msg("embedded nats ready")

	graph := relgraph.New(db, embedder, nil)
	store := memorystore.New(db, embedder, graph, nil)
	summarizer := facts.NewSummarizer(nil, db, embedder)

	gdnr := gardener.New(db, store, graph, bus, summarizer, nil, nil).WithConfig(gardener.Config{
		MinClusterSize:     cfg.Gardener.MinClusterSize,
		ArchivalThreshold:  cfg.Gardener.ArchivalThreshold,
		ArchivalMinAgeDays: cfg.Gardener.ArchivalMinAgeDays,
		ArchivalMaxPerRun:  cfg.Gardener.ArchivalMaxPerRun,
	})
	if err := gdnr.Start(cfg.Gardener.SleepCron); err != nil {
		log.Fatal().Err(err).Msg("failed to start gardener")
	}
	defer gdnr.Stop()

	sched := scheduler.New(db, resolveTimezone(db), sender, bus)
	sched.Start()
	defer sched.Stop()

	evaluator := proactive.New(db, nil, sched, bus)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: buildMux(db, evaluator),
	}
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("control surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Msg("gatewayd shutdown complete")
}

// buildEmbeddingProvider wires LM Studio-style HTTP embeddings with an
// in-memory cache and a TF-IDF fallback for when the HTTP provider is
// unreachable, since the embedding provider itself is an external
// collaborator this module does not own.
func buildEmbeddingProvider(cfg *config.Config) embedding.Provider {
	httpProvider := embedding.NewHTTPProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model, "")
	fallback := embedding.NewFallbackProvider(httpProvider, embedding.NewTFIDFProvider())
	return embedding.NewCachedProvider(fallback)
}

// resolveTimezone resolves a user's IANA timezone from their static
// profile ("timezone" key), defaulting to the server's own local zone when
// unset, per the external getTimezone callback's documented default.
func resolveTimezone(db *storage.DB) scheduler.TimezoneResolver {
	serverZone := time.Local.String()
	return func(userID string) (string, error) {
		profile, err := db.GetStaticProfile(userID)
		if err != nil {
			return "", err
		}
		for _, p := range profile {
			if p.Key == "timezone" && p.Value != "" {
				return p.Value, nil
			}
		}
		return serverZone, nil
	}
}

func buildMux(db *storage.DB, evaluator *proactive.Evaluator) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/memories", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id parameter required", http.StatusBadRequest)
			return
		}
		memories, err := db.GetMemoriesByUser(userID, storage.MemoryFilter{LatestOnly: true, Limit: 200})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, memories)
	})

	mux.HandleFunc("/api/scheduled-items", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id parameter required", http.StatusBadRequest)
			return
		}
		items, err := db.ListScheduledItemsByUser(userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, items)
	})

	mux.HandleFunc("/api/proactive/evaluate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id parameter required", http.StatusBadRequest)
			return
		}
		n, err := evaluator.Evaluate(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"nudgesEnqueued": n})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
