package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"golang.org/x/sync/errgroup"

	"github.com/applyline/applyline/internal/blobstore"
	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/docanalysis"
	"github.com/applyline/applyline/internal/export"
	"github.com/applyline/applyline/internal/ingest"
	"github.com/applyline/applyline/internal/llm/openai"
	"github.com/applyline/applyline/internal/pipeline"
	"github.com/applyline/applyline/internal/queue"
	"github.com/applyline/applyline/internal/repository"
	"github.com/applyline/applyline/internal/server"
	"github.com/applyline/applyline/internal/worker"
)

const shutdownGrace = 30 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("pipelined exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("pipelined stopped")
}

func run(ctx context.Context, cfg *common.Config, log *slog.Logger) error {
	var (
		repo repository.ApplicationRepository
		q    queue.Queue
	)

	switch cfg.Database.Driver {
	case "postgres":
		pool, err := repository.Open(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := repository.HealthCheck(ctx, pool, log); err != nil {
			return err
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		pq := queue.NewPostgresQueue(pool, log)
		if err := pq.EnsureSchema(ctx); err != nil {
			return err
		}
		repo = repository.NewApplicationRepository(pool, log)
		q = pq

	case "sqlite":
		path := filepath.Join(cfg.Database.SQLitePath, "applyline.db")
		sr, err := repository.OpenSQLiteRepository(path, log)
		if err != nil {
			return err
		}
		defer sr.Close()
		sq, err := queue.OpenSQLiteQueue(path, log)
		if err != nil {
			return err
		}
		defer sq.Close()
		repo = sr
		q = sq
	}

	var blobs blobstore.Store
	var analyzer docanalysis.Analyzer
	if cfg.AWS.Bucket != "" {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWS.Region)})
		if err != nil {
			return err
		}
		blobs = blobstore.NewS3Store(sess, cfg.AWS.Bucket, log)
		analyzer = docanalysis.NewTextractAnalyzer(sess, cfg.AWS.Bucket, log)
	} else {
		log.Warn("no S3 bucket configured, document analysis will fail until one is set",
			"blob_dir", cfg.Ingest.BlobDir)
		blobs = blobstore.LocalFS{Root: cfg.Ingest.BlobDir}
		analyzer = docanalysis.NoopAnalyzer{}
	}

	llmClient := openai.NewClient(openai.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		Timeout:        cfg.LLM.Timeout,
	}, log)

	executor := pipeline.NewExecutor(repo, q, blobs, analyzer, llmClient, llmClient, log,
		pipeline.WithMaxAttempts(cfg.Queue.MaxAttempts),
		pipeline.WithBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffCap),
		pipeline.WithStageTimeout(cfg.Queue.StageTimeout),
		pipeline.WithPollBudget(cfg.Queue.PollBudget),
	)

	pool := worker.NewPool(q, executor, log,
		worker.WithWorkers(cfg.Queue.Workers),
		worker.WithLease(cfg.Queue.LeaseDuration),
		worker.WithBlockTimeout(cfg.Queue.BlockTimeout),
	)

	intake := ingest.NewService(repo, q, blobs, log)
	exporter := export.NewService(repo, log)

	httpServer := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.NewHandler(server.Deps{
			Intake:        intake,
			Repo:          repo,
			Export:        exporter,
			Logger:        log,
			MaxUploadSize: cfg.Server.MaxUploadSize,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	pool.Start()
	log.Info("worker pool started", "workers", cfg.Queue.Workers)

	g.Go(func() error {
		log.Info("http listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Ingest.WatchDir != "" {
		watcher := ingest.NewWatcher(intake, ingest.WatchConfig{
			Dir:         cfg.Ingest.WatchDir,
			InitialScan: true,
		}, log)
		g.Go(func() error {
			log.Info("watching drop folder", "dir", cfg.Ingest.WatchDir)
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown", "error", err)
		}
		pool.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}
