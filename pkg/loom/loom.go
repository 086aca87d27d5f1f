// Package loom wires the audit log, the context orchestrator, the
// scratchpad router, and the layout store into one entry point for
// conversational working-state management.
package loom

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tapestry-ai/loom/pkg/audit"
	"github.com/tapestry-ai/loom/pkg/layout"
	"github.com/tapestry-ai/loom/pkg/metrics"
	"github.com/tapestry-ai/loom/pkg/orchestrator"
	"github.com/tapestry-ai/loom/pkg/queue"
	"github.com/tapestry-ai/loom/pkg/trace"
	"github.com/tapestry-ai/loom/pkg/validation"
)

// Config holds configuration for a Loom instance.
type Config struct {
	// DBPath is the SQLite file backing the audit log and layout store.
	// Empty means fully in-memory (tests, ephemeral sessions).
	DBPath string

	// RedisAddr is the external queue/cache address ("host:port"). Empty
	// means no external queue: routing and grabs run in degraded mode.
	RedisAddr string

	// AnchorInterval is how many entries go between automatic anchors
	// (default: 100).
	AnchorInterval uint64

	// ClusterThreshold is how many distinct suggesters flag a cross-ref
	// cluster (default: 3).
	ClusterThreshold int

	// StaleAfter is how long an unvalidated cross-ref may sit before it
	// collects the stale urgency bonus (default: 4 days).
	StaleAfter time.Duration

	// Logger receives structured logs (default: slog.Default()).
	Logger *slog.Logger

	// Metrics receives operation metrics (default: no-op collector).
	Metrics metrics.Collector

	// Tracer receives sanitized operation traces (default: none).
	Tracer trace.Exporter
}

// Loom is the main entry point for the working-state system.
type Loom struct {
	config Config
	log    *audit.Log
	orch   *orchestrator.Orchestrator
	router *queue.Router
	layout layout.Store
	queue  queue.Service
	logger *slog.Logger
}

// New creates a Loom instance from the given configuration.
func New(cfg Config) (*Loom, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	var (
		auditStore  audit.Store
		layoutStore layout.Store
	)
	if cfg.DBPath == "" {
		auditStore = audit.NewMemoryStore()
		layoutStore = layout.NewMemoryStore()
	} else {
		// Both stores share one database handle so they live in the
		// same file.
		db, err := sql.Open("sqlite", cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		auditStore, err = audit.NewSQLiteStoreFromDB(db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		layoutStore, err = layout.NewSQLiteStoreFromDB(db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open layout store: %w", err)
		}
	}

	logOpts := []audit.Option{audit.WithLogger(logger)}
	if cfg.AnchorInterval > 0 {
		logOpts = append(logOpts, audit.WithAnchorInterval(cfg.AnchorInterval))
	}
	log, err := audit.NewLog(auditStore, logOpts...)
	if err != nil {
		auditStore.Close()
		layoutStore.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	var svc queue.Service
	if cfg.RedisAddr != "" {
		svc = queue.NewRedisService(cfg.RedisAddr)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(collector),
	}
	if svc != nil {
		orchOpts = append(orchOpts, orchestrator.WithQueue(svc))
	}
	if cfg.Tracer != nil {
		orchOpts = append(orchOpts, orchestrator.WithTracer(cfg.Tracer))
	}
	if cfg.ClusterThreshold > 0 {
		orchOpts = append(orchOpts, orchestrator.WithClusterThreshold(cfg.ClusterThreshold))
	}

	return &Loom{
		config: cfg,
		log:    log,
		orch:   orchestrator.New(log, orchOpts...),
		router: queue.NewRouter(svc, queue.WithLogger(logger)),
		layout: layoutStore,
		queue:  svc,
		logger: logger,
	}, nil
}

// NewInMemory creates a fully in-memory instance backed by the given queue
// service (nil for none). Intended for tests and ephemeral sessions.
func NewInMemory(svc queue.Service) (*Loom, error) {
	log, err := audit.NewLog(audit.NewMemoryStore())
	if err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{}
	if svc != nil {
		orchOpts = append(orchOpts, orchestrator.WithQueue(svc))
	}

	return &Loom{
		log:    log,
		orch:   orchestrator.New(log, orchOpts...),
		router: queue.NewRouter(svc),
		layout: layout.NewMemoryStore(),
		queue:  svc,
		logger: slog.Default(),
	}, nil
}

// Orchestrator returns the context orchestrator.
func (l *Loom) Orchestrator() *orchestrator.Orchestrator { return l.orch }

// Router returns the scratchpad entry router.
func (l *Loom) Router() *queue.Router { return l.router }

// Layout returns the layout store.
func (l *Loom) Layout() layout.Store { return l.layout }

// Log returns the audit log.
func (l *Loom) Log() *audit.Log { return l.log }

// GetValidationPrompts ranks the unvalidated cross-refs visible from a
// context. citingRefs are target ids actively referenced this turn;
// exchangeCreatedRefs are target ids whose refs were created this turn.
func (l *Loom) GetValidationPrompts(contextID string, citingRefs, exchangeCreatedRefs []string) (validation.Prompts, error) {
	refs, err := l.orch.VisibleRefs(contextID)
	if err != nil {
		return validation.Prompts{}, err
	}
	return validation.Surface(refs, citingRefs, exchangeCreatedRefs, validation.Options{
		StaleAfter: l.config.StaleAfter,
	}), nil
}

// SaveLayoutPoint stores a board position for a context point.
func (l *Loom) SaveLayoutPoint(ctx context.Context, contextID, pointID string, p layout.Point) error {
	return l.layout.SavePoint(ctx, contextID, pointID, p)
}

// RenderYarnBoard builds the board view for a context: its own node, its
// children, and its cross-ref edges, split into positioned points and the
// unpinned cushion.
func (l *Loom) RenderYarnBoard(ctx context.Context, contextID string) (*layout.YarnBoard, error) {
	c, err := l.orch.GetContext(contextID)
	if err != nil {
		return nil, err
	}

	candidates := []string{layout.ContextPointID(c.ID)}
	for _, childID := range c.ChildIDs {
		candidates = append(candidates, layout.ContextPointID(childID))
	}
	for targetID := range c.CrossRefs {
		candidates = append(candidates, layout.CrossRefPointID(c.ID, targetID))
	}

	return layout.RenderYarnBoard(ctx, l.layout, contextID, candidates)
}

// Close releases the audit log, the layout store, and the queue client.
func (l *Loom) Close() error {
	var firstErr error
	if err := l.log.Close(); err != nil {
		firstErr = err
	}
	if err := l.layout.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if l.queue != nil {
		if err := l.queue.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
