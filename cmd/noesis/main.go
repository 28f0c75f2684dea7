// Command noesis wires the cognitive knowledge graph's storage, dissonance
// engine, self-modification framework, and background loops together and
// runs them for the life of the process. It exposes no HTTP or MCP
// surface — §1's non-goals place transport and tool-routing outside this
// system's boundary; external callers embed the internal packages
// directly or drive them from their own process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/noesis-ai/noesis/internal/budget"
	"github.com/noesis-ai/noesis/internal/config"
	"github.com/noesis-ai/noesis/internal/decay"
	"github.com/noesis-ai/noesis/internal/dissonance"
	"github.com/noesis-ai/noesis/internal/fallback"
	"github.com/noesis-ai/noesis/internal/integrity"
	"github.com/noesis-ai/noesis/internal/llm"
	"github.com/noesis-ai/noesis/internal/model"
	"github.com/noesis-ai/noesis/internal/reclassify"
	"github.com/noesis-ai/noesis/internal/resolution"
	"github.com/noesis-ai/noesis/internal/search"
	"github.com/noesis-ai/noesis/internal/smf"
	"github.com/noesis-ai/noesis/internal/storage"
	"github.com/noesis-ai/noesis/internal/telemetry"
	"github.com/noesis-ai/noesis/migrations"
)

// version is set at build time via -ldflags; left at "dev" otherwise.
var version = "dev"

const classificationService = "llm_classify"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("NOESIS_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("noesis: fatal", "error", err)
		return 1
	}
	return 0
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load() // optional .env for local runs; missing file is not an error

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("noesis: telemetry shutdown", "error", err)
		}
	}()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	decayCfg := decay.Load(logger, cfg.DecayConfigPath)

	rates, err := budget.LoadRates(cfg.BudgetRatesPath)
	if err != nil {
		return fmt.Errorf("load budget rates: %w", err)
	}
	meter := budget.NewMeter(db, logger, rates, cfg.BudgetMonthlyUSD, cfg.BudgetAlertPct)

	classifyClient, err := newClassifyClient(cfg, meter)
	if err != nil {
		return fmt.Errorf("construct classify client: %w", err)
	}

	embedder := newEmbedder(cfg, meter)

	fallbackState := fallback.New(logger)
	fallbackState.RegisterProber(classificationService, classifyProber(classifyClient))
	go fallbackState.Run(ctx)

	var qdrantIndex *search.QdrantIndex
	if cfg.QdrantURL != "" {
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, embedder, db, logger)
		if err != nil {
			return fmt.Errorf("construct qdrant index: %w", err)
		}
		defer func() {
			if err := qdrantIndex.Close(); err != nil {
				logger.Warn("noesis: qdrant close", "error", err)
			}
		}()
		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			logger.Warn("noesis: qdrant collection not ready, memory-strength lookups will best-effort fail", "error", err)
		}
	}

	var lookup dissonance.MemoryStrengthLookup
	if qdrantIndex != nil {
		lookup = qdrantIndex
	}

	engine := dissonance.New(dissonanceStore{db}, classifyClient, fallbackState, lookup, logger)
	_ = engine // embedding callers invoke engine.Check directly; constructed here so its collaborators share one process

	proposals := smf.New(db, storage.InsertAuditTx, logger)
	proposals.RegisterExecutor(model.ActionResolveDissonance, resolution.New(db))
	reclassifier := reclassify.New(db)
	proposals.RegisterExecutor(model.ActionReclassify, reclassifier)
	proposals.RegisterExecutor(model.ActionReclassifySector, reclassifier)
	_ = proposals

	_ = decayCfg // threaded into callers' QueryNeighbors calls, not consumed directly by this process

	checkpointDone := make(chan struct{})
	go runCheckpointLoop(ctx, db, logger, cfg.IntegrityProofInterval, checkpointDone)

	logger.Info("noesis: started",
		"embedding_provider", cfg.EmbeddingProvider,
		"qdrant", cfg.QdrantURL != "",
		"integrity_proof_interval", cfg.IntegrityProofInterval,
	)

	<-ctx.Done()
	logger.Info("noesis: shutting down")
	<-checkpointDone
	logger.Info("noesis: stopped")
	return nil
}

// newClassifyClient selects a dissonance-classification provider following
// the same "auto prefers local, falls back to hosted, else noop" shape the
// teacher's newEmbeddingProvider uses. llm.NoopClient is the fallback when
// no provider is configured at all.
func newClassifyClient(cfg config.Config, meter llm.CostRecorder) (llm.Client, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel, meter)
	case "ollama":
		return llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, 0, meter), nil
	case "noop":
		return llm.NoopClient{}, nil
	default: // "auto"
		if cfg.OllamaURL != "" {
			return llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, 0, meter), nil
		}
		if cfg.OpenAIAPIKey != "" {
			return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel, meter)
		}
		return llm.NoopClient{}, nil
	}
}

// newEmbedder mirrors newClassifyClient's provider selection for the
// separate text-embedding concern NearestInsightStrength depends on.
func newEmbedder(cfg config.Config, meter llm.CostRecorder) llm.Embedder {
	switch cfg.EmbeddingProvider {
	case "openai":
		return llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, meter)
	case "ollama":
		return llm.NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, meter)
	case "noop":
		return llm.NoopEmbedder{}
	default: // "auto"
		if cfg.OllamaURL != "" {
			return llm.NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, meter)
		}
		if cfg.OpenAIAPIKey != "" {
			return llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, meter)
		}
		return llm.NoopEmbedder{}
	}
}

// dissonanceStore adapts *storage.DB to internal/dissonance.Store: both
// packages declare their own narrow MemoryStrengthLookup interface to avoid
// an import cycle (internal/smf, which internal/dissonance also depends on,
// already imports internal/storage), so *storage.DB's GetMemoryStrengthForEdge
// method — typed against storage.MemoryStrengthLookup — doesn't satisfy
// dissonance.Store's method set by name alone. This adapter bridges the two
// at the one call site that needs both, relying on Go's structural
// interface assignability to convert the lookup argument.
type dissonanceStore struct {
	db *storage.DB
}

func (s dissonanceStore) ResolveNodeID(ctx context.Context, projectID uuid.UUID, nodeIDOrName string) (uuid.UUID, error) {
	return s.db.ResolveNodeID(ctx, projectID, nodeIDOrName)
}

func (s dissonanceStore) FetchEdgesForNode(ctx context.Context, projectID, nodeID uuid.UUID, scope model.FetchScope) ([]model.Edge, error) {
	return s.db.FetchEdgesForNode(ctx, projectID, nodeID, scope)
}

func (s dissonanceStore) GetNode(ctx context.Context, projectID, id uuid.UUID) (*model.Node, error) {
	return s.db.GetNode(ctx, projectID, id)
}

func (s dissonanceStore) GetMemoryStrengthForEdge(ctx context.Context, logger *slog.Logger, lookup dissonance.MemoryStrengthLookup, projectID, edgeID uuid.UUID) (float64, bool) {
	return s.db.GetMemoryStrengthForEdge(ctx, logger, lookup, projectID, edgeID)
}

func (s dissonanceStore) CreateNuanceReview(ctx context.Context, projectID uuid.UUID, d model.DissonanceResult) (*model.NuanceReview, error) {
	return s.db.CreateNuanceReview(ctx, projectID, d)
}

// classifyProber lets the Fallback State detect the classification service
// recovering: a trivial, cheap classify call against fixed input.
func classifyProber(client llm.Client) fallback.Prober {
	return func(ctx context.Context) error {
		_, err := client.Classify(ctx, llm.ClassifyInput{
			EdgeADescription: "probe",
			EdgeBDescription: "probe",
			RelationA:        "probe",
			RelationB:        "probe",
			SectorA:          model.MemorySemantic,
			SectorB:          model.MemorySemantic,
			ContextNode:      "probe",
		})
		return err
	}
}

// runCheckpointLoop periodically folds each project's audit chain into a
// Merkle checkpoint (§4.L's "periodic hash-chaining of the audit log"). It
// only computes and logs the root — there is no dedicated checkpoint table,
// so this is an attestation a verifier can recompute and compare, not a
// persisted value this process is itself responsible for storing.
func runCheckpointLoop(ctx context.Context, db *storage.DB, logger *slog.Logger, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buildCheckpoints(ctx, db, logger)
		}
	}
}

func buildCheckpoints(ctx context.Context, db *storage.DB, logger *slog.Logger) {
	projectIDs, err := db.ListProjectIDs(ctx)
	if err != nil {
		logger.Warn("noesis: checkpoint: list projects", "error", err)
		return
	}

	for _, projectID := range projectIDs {
		entries, err := db.ListAuditEntries(ctx, projectID, 1000)
		if err != nil {
			logger.Warn("noesis: checkpoint: list audit entries", "project_id", projectID, "error", err)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		// ListAuditEntries returns most-recent-first; the chain hashes in
		// insertion order, so walk the slice in reverse.
		hashes := make([]string, len(entries))
		prevHash := ""
		for i := len(entries) - 1; i >= 0; i-- {
			h := integrity.ComputeEntryHash(prevHash, entries[i])
			hashes[len(entries)-1-i] = h
			prevHash = h
		}

		checkpoint := integrity.BuildCheckpoint(hashes, 0, len(hashes)-1, time.Now())
		logger.Info("noesis: integrity checkpoint",
			"project_id", projectID,
			"root", checkpoint.Root,
			"entry_from", checkpoint.EntryFrom,
			"entry_to", checkpoint.EntryTo,
		)
	}
}
