package job

import (
	"context"
	"log"
	"time"

	"finconv/internal/config"
)

// Worker polls for pending jobs and drives them through the orchestrator.
type Worker struct {
	orch   *Orchestrator
	cfg    config.Config
	logger *log.Logger
}

func NewWorker(orch *Orchestrator, cfg config.Config, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{orch: orch, cfg: cfg, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.runCycle(ctx); err != nil {
			w.logger.Printf("worker cycle error: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(w.cfg.WorkerIntervalSec) * time.Second):
		}
	}
}

func (w *Worker) runCycle(ctx context.Context) error {
	jobs, err := w.orch.store.ListPendingJobs(w.cfg.WorkerBatch)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := w.orch.Process(ctx, j.ID); err != nil {
			w.logger.Printf("job %s: %v", j.ID, err)
		}
	}
	return nil
}
