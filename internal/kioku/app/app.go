// Package app wires kioku together: the SQLite store, the embedding indexer
// and its queue, the summary runner, the confirmation workflow, the HTTP
// server carrying the embedding hook, and the optional Matrix transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/commands"
	"github.com/bdobrica/kioku/internal/kioku/config"
	"github.com/bdobrica/kioku/internal/kioku/confirm"
	"github.com/bdobrica/kioku/internal/kioku/matrix"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/store"
	"github.com/bdobrica/kioku/internal/kioku/webhook"
)

// Options carries pre-constructed collaborators. A nil field is built from
// the configuration.
type Options struct {
	Logger     *slog.Logger
	Embedder   memory.Embedder
	Summariser memory.Summariser
}

// App is a running kioku instance.
type App struct {
	config config.Config
	logger *slog.Logger

	store     *store.Store
	embedder  memory.Embedder
	indexer   *memory.Indexer
	queue     *memory.IndexQueue
	retriever *memory.Retriever
	trigger   *memory.Trigger
	runner    *memory.SummaryRunner
	assembler *memory.ContextAssembler
	pending   *confirm.MemoryPendingStore
	workflow  *confirm.Workflow

	hook   *webhook.Handler
	health *HealthServer
	matrix *matrix.Client
	bot    *commands.Bot

	stopOnce sync.Once
}

// Status is the memory section of GET /status.
type Status struct {
	Tables               store.Stats `json:"tables"`
	PendingConfirmations int         `json:"pending_confirmations"`
	IndexQueuePending    int         `json:"index_queue_pending"`
	IndexQueueDropped    int64       `json:"index_queue_dropped"`
}

// New opens the database and builds every component. Nothing runs until Run.
func New(cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	a := &App{config: cfg, logger: logger, store: st}
	if err := a.build(opts); err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(opts Options) error {
	cfg := a.config

	embedder := opts.Embedder
	if embedder == nil {
		var err error
		if embedder, err = NewEmbedder(cfg.Embedding, a.logger.With("component", "embedder")); err != nil {
			return fmt.Errorf("app: embedder: %w", err)
		}
	}
	summariser := opts.Summariser
	if summariser == nil {
		var err error
		if summariser, err = NewSummariser(cfg.Summariser); err != nil {
			return fmt.Errorf("app: summariser: %w", err)
		}
	}
	a.embedder = embedder

	a.indexer = memory.NewIndexer(embedder, a.store, a.logger.With("component", "indexer"))
	a.queue = memory.NewIndexQueue(a.indexer, cfg.Index.QueueSize, cfg.Index.Workers, a.logger.With("component", "index_queue"))
	a.store.SetNotifier(a.queue)

	a.retriever = memory.NewRetriever(a.store.DB(), a.logger.With("component", "retrieval"))
	a.trigger = memory.NewTrigger(a.store.DB())
	a.runner = memory.NewSummaryRunner(a.trigger, a.store, a.store, summariser,
		cfg.Summary.Threshold, cfg.Summary.Interval, a.logger.With("component", "summary"))
	a.assembler = &memory.ContextAssembler{
		Retriever: a.retriever,
		Embedder:  embedder,
		Threshold: cfg.Retrieval.Threshold,
		MaxTokens: cfg.Retrieval.MaxTokens,
		Logger:    a.logger,
	}

	a.pending = confirm.NewMemoryPendingStore(cfg.Confirm.PendingTTL)
	a.workflow = confirm.NewWorkflow(a.pending, a.store, a.logger.With("component", "confirm"))

	a.hook = webhook.New(a.indexer, webhook.Config{
		BearerToken: cfg.Hook.BearerToken,
		HMACSecret:  cfg.Hook.HMACSecret,
		RateLimit:   cfg.Hook.RateLimit,
		Logger:      a.logger.With("component", "hook"),
	})
	a.health = NewHealthServer(cfg.HTTPAddr, a, a.logger.With("component", "http"))
	a.hook.RegisterRoutes(a.health)

	if cfg.Matrix.Enabled() {
		client, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.Matrix.Rooms,
			DB:          a.store.DB(),
			Logger:      a.logger.With("component", "matrix"),
		})
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.matrix = client
		a.bot = commands.NewBot(commands.Config{
			Transport:      client,
			Store:          a.store,
			Workflow:       a.workflow,
			Searcher:       a.retriever,
			Embedder:       embedder,
			Backlog:        a.trigger,
			Assembler:      a.assembler,
			AssistantUsers: cfg.Matrix.AssistantUsers,
			Logger:         a.logger.With("component", "bot"),
		})
	}

	a.logger.Info("kioku ready",
		"db", cfg.DatabasePath,
		"embedding_provider", cfg.Embedding.Provider,
		"summariser_provider", cfg.Summariser.Provider,
		"summary_threshold", cfg.Summary.Threshold,
		"matrix", cfg.Matrix.Enabled(),
	)
	return nil
}

// Run starts every component and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start(ctx)

	if err := a.health.Start(ctx); err != nil {
		return err
	}

	if a.matrix != nil {
		if err := a.matrix.Start(ctx, a.bot); err != nil {
			return err
		}
	}

	go a.runner.Run(ctx)

	if a.config.Index.BackfillOnStart {
		go func() {
			stats, err := a.Backfill(ctx)
			if err != nil {
				a.logger.Warn("startup backfill failed", "err", err)
				return
			}
			a.logger.Info("startup backfill done",
				"embedded", stats.Embedded, "skipped", stats.Skipped, "failed", stats.Failed)
		}()
	}

	if a.config.Confirm.PendingTTL > 0 {
		go a.sweepPending(ctx)
	}

	a.logger.Info("kioku is running")
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

func (a *App) sweepPending(ctx context.Context) {
	interval := min(a.config.Confirm.PendingTTL, time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.pending.Sweep(); n > 0 {
				a.logger.Info("expired pending confirmations", "count", n)
			}
		}
	}
}

// Stop releases every component. Safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.matrix != nil {
			a.logger.Info("stopping Matrix client")
			a.matrix.Stop()
		}
		a.runner.Stop()
		a.queue.Stop()
		a.health.Stop()
		a.logger.Info("closing database")
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close database", "err", err)
		}
	})
}

// Status implements StatusSource.
func (a *App) Status(ctx context.Context) (Status, error) {
	tables, err := a.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Tables:               tables,
		PendingConfirmations: a.pending.Len(),
		IndexQueuePending:    a.queue.Pending(),
		IndexQueueDropped:    a.queue.Dropped(),
	}, nil
}

// Backfill re-offers every un-embedded row to the indexer.
func (a *App) Backfill(ctx context.Context) (memory.BackfillStats, error) {
	return memory.Backfill(ctx, a.store, a.indexer, a.config.Index.BackfillBatch, a.logger.With("component", "backfill"))
}

// SummariseOnce runs one summary pass and indexes the summaries it wrote
// before returning. Used when the background queue is not running.
func (a *App) SummariseOnce(ctx context.Context) (int, error) {
	n, err := a.runner.RunOnce(ctx)
	if err != nil {
		return n, err
	}
	a.queue.Drain(ctx)
	return n, nil
}

// Overview is what kioku remembers about one conversation.
type Overview struct {
	ConversationID int64
	RoomID         string // "" when the conversation never came through Matrix
	Thread         memory.Thread
	ThreadRoot     string
	Items          []memory.MemoryItem
	Summaries      []memory.Summary
}

// Overview lists the memory items of a conversation and the summaries of
// the exact group (conversationID, thread), with their Matrix identifiers
// when known.
func (a *App) Overview(ctx context.Context, g memory.Group) (Overview, error) {
	ov := Overview{ConversationID: g.ConversationID, Thread: g.Thread}

	room, err := a.store.RoomForConversation(ctx, g.ConversationID)
	if err != nil && !errors.Is(err, memory.ErrRowNotFound) {
		return Overview{}, err
	}
	ov.RoomID = room

	root, err := a.store.RootForThread(ctx, g.Thread)
	if err != nil && !errors.Is(err, memory.ErrRowNotFound) {
		return Overview{}, err
	}
	ov.ThreadRoot = root

	if ov.Items, err = a.store.ListMemoryItems(ctx, g.ConversationID); err != nil {
		return Overview{}, err
	}
	if ov.Summaries, err = a.store.ListSummaries(ctx, g); err != nil {
		return Overview{}, err
	}
	return ov, nil
}

// Search embeds text and runs a retrieval.
func (a *App) Search(ctx context.Context, text string, req memory.SearchRequest) ([]memory.Match, error) {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &memory.ProviderError{Op: "embed query", Err: err}
	}
	if vec == nil {
		return nil, &memory.ValidationError{Field: "embedding", Reason: "no embedding provider configured"}
	}
	req.Embedding = vec
	return a.retriever.Search(ctx, req)
}

// Store returns the underlying store.
func (a *App) Store() *store.Store { return a.store }

// Trigger returns the summarisation trigger.
func (a *App) Trigger() *memory.Trigger { return a.trigger }

// Workflow returns the confirmation workflow.
func (a *App) Workflow() *confirm.Workflow { return a.workflow }

// Summaries returns the summary runner.
func (a *App) Summaries() *memory.SummaryRunner { return a.runner }

// Handler returns the HTTP handler serving /health, /status and the hook.
func (a *App) Handler() *HealthServer { return a.health }
