package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/config"
	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/chunker"
	db "github.com/examsetu/examsetu/internal/core/database"
	"github.com/examsetu/examsetu/internal/core/extraction"
	"github.com/examsetu/examsetu/internal/core/generation"
	"github.com/examsetu/examsetu/internal/core/llm"
	objectclient "github.com/examsetu/examsetu/internal/core/object-client"
	"github.com/examsetu/examsetu/internal/core/orchestrator"
	"github.com/examsetu/examsetu/internal/core/retrieval"
	"github.com/examsetu/examsetu/internal/core/selection"
	"github.com/examsetu/examsetu/internal/services"
)

const (
	singleCallMaxChars = 120_000
	sweepInterval      = time.Minute
)

// App owns every long-lived component and their shutdown order.
type App struct {
	DBClient *db.DatabaseClient
	Runner   *orchestrator.Runner
	Docs     *services.DocumentService
	Server   *Server

	stopBackground context.CancelFunc
	log            *zap.SugaredLogger
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Infow("database initialized")

	objClient, err := objectclient.NewS3Client(initCtx, cfg, log)
	if err != nil {
		dbClient.Close()
		return nil, err
	}

	primary, fallback, _, err := llm.BuildProviders(initCtx, cfg, log)
	if err != nil {
		dbClient.Close()
		return nil, err
	}

	var embedder core.EmbeddingProvider
	if cfg.GeminiAPIKey != "" {
		emb, err := llm.NewGeminiEmbedder(initCtx, cfg.GeminiAPIKey, cfg.EmbedModel)
		if err != nil {
			log.Warnw("embedder unavailable, retrieval augmentation disabled", "error", err)
		} else {
			embedder = emb
		}
	}

	thresholds := extraction.DefaultThresholds()
	thresholds.MinValidTextLen = cfg.MinValidTextLen
	extractor := extraction.NewHybridExtractor(
		thresholds,
		extraction.NewTesseractEngine(cfg.OCRLanguages),
		cfg.OCRDPI, cfg.OCRDPIImageHeavy,
		log,
	)

	docs := services.NewDocumentService(dbClient, objClient, cfg.BucketName, extractor,
		services.DocumentConfig{
			MaxPDFPages:     cfg.MaxPDFPages,
			MinValidTextLen: cfg.MinValidTextLen,
			Workers:         2,
		}, log)

	retriever := retrieval.NewRetriever(dbClient, embedder, primary,
		retrieval.Config{
			Enabled:          cfg.RAGEnabled,
			MinChunks:        cfg.RAGMinChunks,
			TopK:             cfg.RAGTopK,
			OutlineMaxChunks: cfg.RAGOutlineMaxChunks,
		}, log)

	chunkOpts := chunker.Options{
		Mode:            cfg.ChunkMode,
		Size:            cfg.ChunkSize,
		OverlapFraction: cfg.ChunkOverlap,
	}
	generator := generation.NewGenerator(primary, fallback, retriever, chunkOpts,
		generation.Config{
			Workers:            cfg.MCQWorkers,
			CandidateExtra:     cfg.MCQCandidateExtra,
			SingleCallMaxChars: singleCallMaxChars,
			MaxTotalChars:      cfg.MaxChunkedChars,
		}, log)

	selCfg := selection.DefaultConfig()
	selCfg.ValidationWorkers = cfg.MCQWorkers
	selector := selection.NewSelector(primary, selCfg, log)

	runner := orchestrator.NewRunner(dbClient, generator, selector,
		orchestrator.Config{
			MaxConcurrent:      cfg.MaxConcurrentGenerations,
			BaseTimeout:        time.Duration(cfg.BaseStaleTimeoutSec) * time.Second,
			PerTenChunksExtra:  time.Minute,
			HeartbeatInterval:  time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
			ChunkSizeEstimate:  cfg.ChunkSize,
			MinExtractionWords: cfg.MinExtractionWords,
		}, log)

	server := NewServer(cfg, dbClient, docs, runner, log)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	docs.Start(bgCtx)
	runner.Resume(bgCtx)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				runner.SweepStale(bgCtx)
			}
		}
	}()

	return &App{
		DBClient:       dbClient,
		Runner:         runner,
		Docs:           docs,
		Server:         server,
		stopBackground: stopBackground,
		log:            log,
	}, nil
}

func (a *App) Close() {
	if a.stopBackground != nil {
		a.stopBackground()
	}
	if a.DBClient != nil {
		if err := a.DBClient.Close(); err != nil {
			a.log.Warnw("database close", "error", err)
		}
	}
}
