package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"finconv/internal"
	"finconv/internal/config"
	"finconv/internal/intake"
	"finconv/internal/job"
	"finconv/internal/parser"
	"finconv/internal/storage"
	"finconv/internal/taxonomy"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	blobs, err := storage.NewBlobStore(cfg.RawDocDir, cfg.OutputDir)
	must(err)

	cmd := os.Args[1]
	switch cmd {
	case "taxonomy:seed":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		csvPath := fs.String("csv", "", "taxonomy csv path (optional, defaults to the built-in core set)")
		_ = fs.Parse(os.Args[2:])

		var concepts []internal.TaxonomyConcept
		if strings.TrimSpace(*csvPath) != "" {
			raw, err := os.ReadFile(*csvPath)
			must(err)
			concepts, err = taxonomy.LoadConceptsCSV(raw)
			must(err)
		} else {
			concepts = taxonomy.CoreConcepts()
		}
		must(db.UpsertConcepts(concepts))
		fmt.Printf("taxonomy seeded: %d concepts\n", len(concepts))
	case "ingest":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "document file path")
		eml := fs.String("eml", "", "raw email (.eml) path")
		_ = fs.Parse(os.Args[2:])

		svc := intake.NewService(db, blobs, parser.Default(), nil)
		switch {
		case strings.TrimSpace(*file) != "":
			raw, err := os.ReadFile(*file)
			must(err)
			doc, err := svc.RegisterFile(filepath.Base(*file), "", raw)
			must(err)
			fmt.Printf("document registered id=%s format=%s\n", doc.ID, doc.Format)
		case strings.TrimSpace(*eml) != "":
			raw, err := os.ReadFile(*eml)
			must(err)
			docs, err := svc.IngestEmail(raw)
			must(err)
			for _, doc := range docs {
				fmt.Printf("document registered id=%s format=%s file=%s\n", doc.ID, doc.Format, doc.FileName)
			}
			if len(docs) == 0 {
				fmt.Println("no usable documents in message")
			}
		default:
			must(fmt.Errorf("--file or --eml is required"))
		}
	case "convert":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		documentID := fs.String("document", "", "registered document id")
		file := fs.String("file", "", "document file path (registers, then converts)")
		_ = fs.Parse(os.Args[2:])

		id := strings.TrimSpace(*documentID)
		if id == "" {
			if strings.TrimSpace(*file) == "" {
				must(fmt.Errorf("--document or --file is required"))
			}
			raw, err := os.ReadFile(*file)
			must(err)
			svc := intake.NewService(db, blobs, parser.Default(), nil)
			doc, err := svc.RegisterFile(filepath.Base(*file), "", raw)
			must(err)
			id = doc.ID
		}

		orch, err := buildOrchestrator(cfg, db, blobs, job.ImmediateScheduler{})
		must(err)
		j, err := orch.Initiate(id)
		must(err)

		// The immediate scheduler ran the job inline; report the outcome.
		final, err := db.GetJob(j.ID)
		must(err)
		if final == nil {
			must(fmt.Errorf("job %s disappeared", j.ID))
		}
		if final.Status == internal.JobCompleted && final.OutputRef != nil {
			fmt.Printf("job %s completed output=%s\n", final.ID, *final.OutputRef)
			return
		}
		msg := "unknown error"
		if final.Error != nil {
			msg = *final.Error
		}
		must(fmt.Errorf("job %s %s: %s", final.ID, final.Status, msg))
	case "jobs:process-pending":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		batch := fs.Int("batch", cfg.WorkerBatch, "max jobs to process")
		_ = fs.Parse(os.Args[2:])

		orch, err := buildOrchestrator(cfg, db, blobs, job.ImmediateScheduler{})
		must(err)
		jobs, err := db.ListPendingJobs(*batch)
		must(err)
		for _, j := range jobs {
			if err := orch.Process(context.Background(), j.ID); err != nil {
				fmt.Printf("job %s failed: %v\n", j.ID, err)
			}
		}
		fmt.Printf("processed %d pending jobs\n", len(jobs))
	case "jobs:status":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		jobID := fs.String("job", "", "job id")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*jobID) == "" {
			must(fmt.Errorf("--job is required"))
		}
		j, err := db.GetJob(*jobID)
		must(err)
		if j == nil {
			must(fmt.Errorf("job not found: %s", *jobID))
		}
		fmt.Printf("job %s status=%s progress=%d retries=%d\n", j.ID, j.Status, j.Progress, j.RetryCount)
		entries, err := db.GetJobLog(j.ID)
		must(err)
		for _, e := range entries {
			fmt.Printf("  %s %-9s %-9s %s\n", e.At.Format("15:04:05"), e.Step, e.Status, e.Detail)
		}
	case "jobs:retry":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		jobID := fs.String("job", "", "job id")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*jobID) == "" {
			must(fmt.Errorf("--job is required"))
		}
		orch, err := buildOrchestrator(cfg, db, blobs, job.ImmediateScheduler{})
		must(err)
		j, err := orch.Retry(*jobID)
		must(err)
		fmt.Printf("job %s retried\n", j.ID)
	case "jobs:cancel":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		jobID := fs.String("job", "", "job id")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*jobID) == "" {
			must(fmt.Errorf("--job is required"))
		}
		orch, err := buildOrchestrator(cfg, db, blobs, job.TimerScheduler{})
		must(err)
		j, err := orch.Cancel(*jobID)
		must(err)
		fmt.Printf("job %s cancelled\n", j.ID)
	default:
		usage()
		os.Exit(1)
	}
}

func buildOrchestrator(cfg config.Config, db *storage.DB, blobs *storage.BlobStore, sched job.Scheduler) (*job.Orchestrator, error) {
	concepts, err := db.ListConcepts()
	if err != nil {
		return nil, err
	}
	if len(concepts) == 0 {
		concepts = taxonomy.CoreConcepts()
	}
	learned, err := db.ListLearnedMappings()
	if err != nil {
		return nil, err
	}

	var scorer taxonomy.Scorer
	if cfg.GeminiAPIKey != "" {
		scorer = taxonomy.NewGeminiScorer(cfg.GeminiAPIKey, cfg.GeminiModel)
	}

	matcher := taxonomy.NewMatcher(cfg, concepts, learned, scorer)
	return job.NewOrchestrator(cfg, db, blobs, parser.Default(), matcher, sched, log.Default()), nil
}

func usage() {
	fmt.Println("usage: finconv <command>")
	fmt.Println("commands:")
	fmt.Println("  taxonomy:seed [--csv=./taxonomy.csv]")
	fmt.Println("  ingest --file=./report.xlsx | --eml=./message.eml")
	fmt.Println("  convert --document=<id> | --file=./report.csv")
	fmt.Println("  jobs:process-pending [--batch=10]")
	fmt.Println("  jobs:status --job=<id>")
	fmt.Println("  jobs:retry --job=<id>")
	fmt.Println("  jobs:cancel --job=<id>")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
