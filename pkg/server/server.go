// Package server provides the public entry point for initializing the
// Parley server. It wires configuration, telemetry, storage, the
// retrieval and scheduling services, and the turn pipeline into a
// ready http.Handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/parley-ai/parley/internal/api"
	"github.com/parley-ai/parley/internal/api/handlers"
	"github.com/parley-ai/parley/internal/apitools"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/embeddings"
	"github.com/parley-ai/parley/internal/events"
	"github.com/parley-ai/parley/internal/llm"
	"github.com/parley-ai/parley/internal/notify"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/internal/responder"
	"github.com/parley-ai/parley/internal/retention"
	"github.com/parley-ai/parley/internal/retrieval"
	"github.com/parley-ai/parley/internal/scheduling"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/internal/telemetry"
	"github.com/parley-ai/parley/internal/toolgw"
	"github.com/parley-ai/parley/internal/vectorstore"
	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized Parley backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("in-memory store initialized")

	if cfg.SeedFile != "" {
		if err := seed(ctx, dataStore, cfg.SeedFile); err != nil {
			return nil, fmt.Errorf("seed store: %w", err)
		}
	}

	embedder := newEmbedder(cfg.Embedding)
	vectors, err := newVectorStore(ctx, cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	modelSvc, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	knowledge := retrieval.NewService(embedder, vectors)
	fetcher := retrieval.NewFetcher(cfg.Pipeline.FetchTimeout)

	toolClient := toolgw.NewClient(cfg.Pipeline.APIToolTimeout)
	discovery := toolgw.NewDiscoveryCache(toolClient, toolgw.WithTTL(cfg.Pipeline.ToolCacheTTL))
	planner := toolgw.NewPlanner(discovery, toolClient, modelSvc, cfg.Pipeline.MaxIterations)

	invoker := apitools.NewInvoker(modelSvc, cfg.Pipeline.APIToolTimeout)

	calendar := scheduling.NewCalendarClient(cfg.Calendar, dataStore)
	scheduler := scheduling.NewComputer(calendar)

	extractor := events.NewExtractor(modelSvc, dataStore)
	respStreamer := responder.NewStreamer(modelSvc)

	var orchOpts []orchestrator.Option
	if cfg.Notify.WebhookURL != "" {
		orchOpts = append(orchOpts, orchestrator.WithNotifier(notify.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret)))
	}
	orch := orchestrator.New(dataStore, knowledge, fetcher, planner, invoker, scheduler, extractor, respStreamer, cfg.Pipeline, orchOpts...)

	if cfg.Retention.TurnTTL > 0 {
		var archiver retention.Archiver
		if cfg.Retention.ArchiveDir != "" {
			archiver = retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir)
		}
		janitor := retention.NewJanitor(dataStore, cfg.Retention.Interval, cfg.Retention.TurnTTL, archiver)
		go janitor.Start(ctx)
	}

	h := handlers.New(dataStore, orch)
	router := api.NewRouter(cfg, h)

	log.Info().
		Str("llm", cfg.LLM.Provider).
		Str("embeddings", embedder.Kind()).
		Str("vectors", vectors.Kind()).
		Msg("turn pipeline initialized")

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newEmbedder(cfg config.EmbeddingConfig) contracts.EmbeddingDriver {
	switch cfg.Provider {
	case "ollama":
		return embeddings.NewOllamaDriver(cfg.Endpoint, cfg.Model, 0)
	default:
		var opts []embeddings.OpenAIOption
		if cfg.Endpoint != "" {
			opts = append(opts, embeddings.WithOpenAIEndpoint(cfg.Endpoint))
		}
		return embeddings.NewOpenAIDriver(cfg.APIKey, cfg.Model, opts...)
	}
}

func newVectorStore(ctx context.Context, cfg config.VectorConfig) (contracts.VectorStoreDriver, error) {
	switch cfg.Backend {
	case "pgvector":
		if cfg.PgURL == "" {
			return nil, fmt.Errorf("pgvector backend requires PARLEY_PGVECTOR_URL")
		}
		return vectorstore.NewPgvectorStore(ctx, cfg.PgURL, cfg.Dimensions)
	default:
		return vectorstore.NewEmbeddedStore(), nil
	}
}

// seed loads agents and availability windows from the YAML seed file.
func seed(ctx context.Context, s store.Store, path string) error {
	sd, err := config.LoadSeed(path)
	if err != nil {
		return err
	}

	for i := range sd.Agents {
		agent := &sd.Agents[i]
		if agent.ID == "" {
			agent.ID = uuid.NewString()
		}
		if agent.CreatedAt.IsZero() {
			agent.CreatedAt = time.Now().UTC()
		}
		if err := s.CreateAgent(ctx, agent); err != nil {
			return fmt.Errorf("seed agent %q: %w", agent.Address, err)
		}
	}
	for i := range sd.Windows {
		w := &sd.Windows[i]
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		if err := s.CreateWindow(ctx, w); err != nil {
			return fmt.Errorf("seed window for agent %q: %w", w.AgentID, err)
		}
	}

	log.Info().
		Int("agents", len(sd.Agents)).
		Int("windows", len(sd.Windows)).
		Str("file", path).
		Msg("store seeded")
	return nil
}
