package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finconv/internal/config"
	"finconv/internal/intake"
	"finconv/internal/job"
	"finconv/internal/metrics"
	"finconv/internal/parser"
	"finconv/internal/storage"
	"finconv/internal/taxonomy"
	"finconv/internal/web"
)

func main() {
	cfg, err := config.Load()
	must(err)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	blobs, err := storage.NewBlobStore(cfg.RawDocDir, cfg.OutputDir)
	must(err)

	metrics.Init()

	concepts, err := db.ListConcepts()
	must(err)
	if len(concepts) == 0 {
		concepts = taxonomy.CoreConcepts()
		log.Printf("no taxonomy in database, using the built-in core set (%d concepts)", len(concepts))
	}
	learned, err := db.ListLearnedMappings()
	must(err)

	var scorer taxonomy.Scorer
	if cfg.GeminiAPIKey != "" {
		scorer = taxonomy.NewGeminiScorer(cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	matcher := taxonomy.NewMatcher(cfg, concepts, learned, scorer)

	registry := parser.Default()
	orch := job.NewOrchestrator(cfg, db, blobs, registry, matcher, job.TimerScheduler{}, log.Default())
	worker := job.NewWorker(orch, cfg, log.Default())
	in := intake.NewService(db, blobs, registry, log.Default())
	server := web.NewServer(cfg, db, blobs, in, orch, log.Default())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server: %v", err)
			cancel()
		}
	}()

	must(worker.Run(ctx))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	must(server.Shutdown(shutdownCtx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
