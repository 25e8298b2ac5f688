package job

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"finconv/internal"
	"finconv/internal/config"
	"finconv/internal/export"
	"finconv/internal/metrics"
	"finconv/internal/parser"
	"finconv/internal/taxonomy"
	"finconv/internal/xbrl"
)

// Store is the persistence surface the orchestrator needs. *storage.DB
// satisfies it; tests swap in fakes.
type Store interface {
	GetDocument(id string) (*internal.DocumentRow, error)
	CreateJob(documentID string) (internal.ConversionJob, error)
	GetJob(id string) (*internal.ConversionJob, error)
	UpdateJob(job internal.ConversionJob) error
	ListPendingJobs(limit int) ([]internal.ConversionJob, error)
	AppendJobLog(jobID string, entry internal.JobLogEntry) error
	InsertRun(jobID string, timings map[string]float64, counts internal.RunStats) error
}

// Blobs reads raw document bytes and writes generated instance documents.
type Blobs interface {
	ReadBlob(ref string) ([]byte, error)
	SaveOutput(jobID string, data []byte) (string, error)
}

// Orchestrator drives one conversion job through resolve, parse, match,
// generate and persist, checkpointing progress after each step so a
// restarted process can report where a job stopped.
type Orchestrator struct {
	cfg     config.Config
	store   Store
	blobs   Blobs
	parsers *parser.Registry
	matcher *taxonomy.Matcher
	gen     *xbrl.Generator
	sched   Scheduler
	logger  *log.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewOrchestrator(cfg config.Config, store Store, blobs Blobs, parsers *parser.Registry, matcher *taxonomy.Matcher, sched Scheduler, logger *log.Logger) *Orchestrator {
	if parsers == nil {
		parsers = parser.Default()
	}
	if sched == nil {
		sched = TimerScheduler{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		parsers:  parsers,
		matcher:  matcher,
		gen:      xbrl.NewGenerator(),
		sched:    sched,
		logger:   logger,
		inFlight: map[string]bool{},
	}
}

// Initiate creates a pending job for a document and returns immediately;
// the conversion itself runs asynchronously. The document is not checked
// here: a missing document fails the job at the resolve step.
func (o *Orchestrator) Initiate(documentID string) (internal.ConversionJob, error) {
	job, err := o.store.CreateJob(documentID)
	if err != nil {
		return internal.ConversionJob{}, err
	}
	o.sched.Schedule(0, func() {
		if err := o.Process(context.Background(), job.ID); err != nil {
			o.logger.Printf("job %s: %v", job.ID, err)
		}
	})
	return job, nil
}

// Process runs one pending job to completion or failure. Jobs in any other
// state are skipped, which makes concurrent pollers safe against the
// scheduler firing for the same id.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	if !o.claim(jobID) {
		return nil
	}
	defer o.release(jobID)

	current, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}
	job := *current
	if job.Status != internal.JobPending {
		return nil
	}

	started := time.Now()
	startedAt := started.UTC()
	job.Status = internal.JobProcessing
	job.StartedAt = &startedAt
	job.CompletedAt = nil
	job.Error = nil
	job.Progress = 0
	if err := o.store.UpdateJob(job); err != nil {
		return err
	}

	timings := map[string]float64{}
	var stats internal.RunStats

	// Resolve: locate the raw bytes and a parser for them.
	stepStart := time.Now()
	doc, err := o.store.GetDocument(job.DocumentID)
	if err != nil {
		return o.fail(job, started, err, false)
	}
	if doc == nil {
		// A precondition failure, not a transient one: retrying cannot
		// make the document appear.
		return o.fail(job, started, fmt.Errorf("document not found: %s", job.DocumentID), true)
	}
	raw, err := o.blobs.ReadBlob(doc.RawRef)
	if err != nil {
		return o.fail(job, started, err, false)
	}
	var contentType string
	if doc.ContentType != nil {
		contentType = *doc.ContentType
	}
	p, ok := o.parsers.Resolve(string(doc.Format), contentType, doc.FileName)
	if !ok {
		return o.fail(job, started, fmt.Errorf("no parser for format %q (%s)", doc.Format, doc.FileName), true)
	}
	timings["resolve"] = msSince(stepStart)
	job, ok = o.checkpoint(job, 10, "resolve", fmt.Sprintf("format=%s file=%s", p.Format(), doc.FileName))
	if !ok {
		return nil
	}

	// Parse into the canonical model.
	stepStart = time.Now()
	report := p.Parse(raw, doc.FileName)
	if report.HasCriticalError() {
		metrics.ObserveParse(string(p.Format()), metrics.ResultError, time.Since(stepStart))
		return o.fail(job, started, fmt.Errorf("parse failed: %s", firstCritical(report)), false)
	}
	metrics.ObserveParse(string(p.Format()), metrics.ResultSuccess, time.Since(stepStart))
	stats.Extracted = report.ItemCount()
	timings["parse"] = msSince(stepStart)
	job, ok = o.checkpoint(job, 30, "parse", fmt.Sprintf("statements=%d items=%d warnings=%d", len(report.Statements), stats.Extracted, len(report.Meta.Warnings)))
	if !ok {
		return nil
	}

	// Match labels to taxonomy concepts, statement by statement so the
	// statement kind scopes the candidate set.
	stepStart = time.Now()
	for si := range report.Statements {
		stmt := &report.Statements[si]
		stmt.Items = o.matcher.MatchAll(ctx, stmt.Items, taxonomy.MatchContext{StatementKind: stmt.Kind})
		for _, item := range stmt.Items {
			if item.Match != nil {
				stats.Matched++
				metrics.IncItemMatched(string(item.Match.Method))
			} else {
				stats.Unmapped++
				metrics.IncItemMatched("")
			}
		}
	}
	timings["match"] = msSince(stepStart)
	job, ok = o.checkpoint(job, 60, "match", fmt.Sprintf("matched=%d unmapped=%d", stats.Matched, stats.Unmapped))
	if !ok {
		return nil
	}

	// Generate the instance document.
	stepStart = time.Now()
	currency := report.Currency
	if currency == "" {
		currency = o.cfg.TargetCurrency
	}
	result := o.gen.Generate(report.Statements, xbrl.Options{
		Framework:  internal.Framework(o.cfg.TargetFramework),
		Currency:   currency,
		EntityName: report.CompanyName,
	})
	stats.Facts = result.Metadata.Facts
	stats.Skipped = len(result.Metadata.Skipped)
	metrics.AddFacts(stats.Facts, stats.Skipped)
	timings["generate"] = msSince(stepStart)
	job, ok = o.checkpoint(job, 80, "generate", fmt.Sprintf("facts=%d contexts=%d skipped=%d issues=%d", stats.Facts, result.Metadata.Contexts, stats.Skipped, len(result.Metadata.Issues)))
	if !ok {
		return nil
	}

	// Persist output and run accounting.
	ref, err := o.blobs.SaveOutput(job.ID, result.Document)
	if err != nil {
		return o.fail(job, started, err, false)
	}
	if o.cfg.ReviewExport {
		reviewPath := strings.TrimSuffix(ref, ".xbrl.xml") + ".review.xlsx"
		if err := export.WriteReviewXLSX(export.ReviewRows(report.Statements), reviewPath); err != nil {
			o.logger.Printf("job %s: review export failed: %v", job.ID, err)
		}
	}
	if err := o.store.InsertRun(job.ID, timings, stats); err != nil {
		o.logger.Printf("job %s: run accounting failed: %v", job.ID, err)
	}

	// A cancel can land between the last checkpoint and here; it must not
	// be overwritten by the completed state.
	if latest, err := o.store.GetJob(job.ID); err == nil && latest != nil && isCancelled(*latest) {
		o.logger.Printf("job %s cancelled during persist", job.ID)
		return nil
	}

	completedAt := time.Now().UTC()
	job.Status = internal.JobCompleted
	job.Progress = 100
	job.CompletedAt = &completedAt
	job.OutputRef = &ref
	if err := o.store.UpdateJob(job); err != nil {
		return err
	}
	o.logStep(job.ID, "persist", "completed", fmt.Sprintf("output=%s", ref))
	metrics.ObserveJob(metrics.ResultSuccess, time.Since(started))
	o.logger.Printf("job %s completed doc=%s facts=%d unmapped=%d in %s", job.ID, job.DocumentID, stats.Facts, stats.Unmapped, time.Since(started).Round(time.Millisecond))
	return nil
}

// Retry resets a failed, non-terminal job back to pending. Cancelled jobs
// and jobs that exhausted the retry budget are rejected.
func (o *Orchestrator) Retry(jobID string) (internal.ConversionJob, error) {
	current, err := o.store.GetJob(jobID)
	if err != nil {
		return internal.ConversionJob{}, err
	}
	if current == nil {
		return internal.ConversionJob{}, fmt.Errorf("job not found: %s", jobID)
	}
	job := *current
	if job.Status != internal.JobFailed {
		return internal.ConversionJob{}, fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, job.Status)
	}
	if isCancelled(job) {
		return internal.ConversionJob{}, fmt.Errorf("job %s was cancelled and cannot be retried", jobID)
	}
	if job.RetryCount >= internal.MaxRetries {
		return internal.ConversionJob{}, fmt.Errorf("job %s exceeded the retry limit of %d", jobID, internal.MaxRetries)
	}

	job = o.resetToPending(job)
	if err := o.store.UpdateJob(job); err != nil {
		return internal.ConversionJob{}, err
	}
	o.logStep(job.ID, "retry", "pending", fmt.Sprintf("manual retry, attempt %d", job.RetryCount+1))
	metrics.IncJobRetry()
	o.sched.Schedule(0, func() {
		if err := o.Process(context.Background(), job.ID); err != nil {
			o.logger.Printf("job %s: %v", job.ID, err)
		}
	})
	return job, nil
}

// Cancel forces a job into a terminal failed state with a sentinel message.
// Completed and already-terminal jobs are rejected.
func (o *Orchestrator) Cancel(jobID string) (internal.ConversionJob, error) {
	current, err := o.store.GetJob(jobID)
	if err != nil {
		return internal.ConversionJob{}, err
	}
	if current == nil {
		return internal.ConversionJob{}, fmt.Errorf("job not found: %s", jobID)
	}
	job := *current
	if job.Terminal() {
		return internal.ConversionJob{}, fmt.Errorf("job %s already finished", jobID)
	}

	msg := internal.CancelledMessage
	now := time.Now().UTC()
	job.Status = internal.JobFailed
	job.Error = &msg
	job.CompletedAt = &now
	job.RetryCount = internal.MaxRetries
	if err := o.store.UpdateJob(job); err != nil {
		return internal.ConversionJob{}, err
	}
	o.logStep(job.ID, "cancel", "failed", msg)
	return job, nil
}

func (o *Orchestrator) fail(job internal.ConversionJob, started time.Time, cause error, permanent bool) error {
	msg := cause.Error()
	now := time.Now().UTC()
	job.Status = internal.JobFailed
	job.Error = &msg
	job.CompletedAt = &now
	if permanent {
		job.RetryCount = internal.MaxRetries
	} else {
		job.RetryCount++
	}
	if err := o.store.UpdateJob(job); err != nil {
		return err
	}
	o.logStep(job.ID, "fail", "failed", msg)
	metrics.ObserveJob(metrics.ResultError, time.Since(started))

	if job.Terminal() {
		o.logger.Printf("job %s permanently failed: %v", job.ID, cause)
		return cause
	}

	attempt := job.RetryCount
	delay := time.Duration(o.cfg.RetryBaseDelaySec) * time.Second * time.Duration(attempt)
	o.logger.Printf("job %s failed (attempt %d/%d), retrying in %s: %v", job.ID, attempt, internal.MaxRetries, delay, cause)
	// A synchronous scheduler re-enters Process from Schedule, so the claim
	// must be free before the retry fires.
	o.release(job.ID)
	o.sched.Schedule(delay, func() { o.autoRetry(job.ID) })
	return cause
}

// autoRetry requeues a job after its backoff delay. The job may have been
// cancelled or manually retried meanwhile; both make this a no-op.
func (o *Orchestrator) autoRetry(jobID string) {
	current, err := o.store.GetJob(jobID)
	if err != nil || current == nil {
		return
	}
	job := *current
	if job.Status != internal.JobFailed || job.Terminal() || isCancelled(job) {
		return
	}

	job = o.resetToPending(job)
	if err := o.store.UpdateJob(job); err != nil {
		o.logger.Printf("job %s: requeue failed: %v", job.ID, err)
		return
	}
	o.logStep(job.ID, "retry", "pending", fmt.Sprintf("automatic retry, attempt %d", job.RetryCount+1))
	metrics.IncJobRetry()
	o.sched.Schedule(0, func() {
		if err := o.Process(context.Background(), job.ID); err != nil {
			o.logger.Printf("job %s: %v", job.ID, err)
		}
	})
}

// checkpoint advances progress and appends a log entry, unless the job was
// cancelled since the last step.
func (o *Orchestrator) checkpoint(job internal.ConversionJob, progress int, step, detail string) (internal.ConversionJob, bool) {
	current, err := o.store.GetJob(job.ID)
	if err == nil && current != nil && isCancelled(*current) {
		o.logger.Printf("job %s cancelled during %s", job.ID, step)
		return job, false
	}

	job.Progress = progress
	if err := o.store.UpdateJob(job); err != nil {
		o.logger.Printf("job %s: progress update failed: %v", job.ID, err)
	}
	o.logStep(job.ID, step, "done", detail)
	return job, true
}

func (o *Orchestrator) resetToPending(job internal.ConversionJob) internal.ConversionJob {
	job.Status = internal.JobPending
	job.Progress = 0
	job.StartedAt = nil
	job.CompletedAt = nil
	job.Error = nil
	return job
}

func (o *Orchestrator) logStep(jobID, step, status, detail string) {
	entry := internal.JobLogEntry{Step: step, Status: status, At: time.Now().UTC(), Detail: detail}
	if err := o.store.AppendJobLog(jobID, entry); err != nil {
		o.logger.Printf("job %s: log append failed: %v", jobID, err)
	}
}

func (o *Orchestrator) claim(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[jobID] {
		return false
	}
	o.inFlight[jobID] = true
	return true
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, jobID)
}

func isCancelled(job internal.ConversionJob) bool {
	return job.Status == internal.JobFailed && job.Error != nil && *job.Error == internal.CancelledMessage
}

func firstCritical(report *internal.CanonicalReport) string {
	for _, e := range report.Meta.Errors {
		if e.Severity == internal.SeverityCritical {
			return e.Message
		}
	}
	return "unknown parse error"
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
