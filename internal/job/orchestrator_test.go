package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"finconv/internal"
	"finconv/internal/config"
	"finconv/internal/taxonomy"
)

type fakeStore struct {
	docs map[string]internal.DocumentRow
	jobs map[string]internal.ConversionJob
	logs map[string][]internal.JobLogEntry
	runs int
	seq  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs: map[string]internal.DocumentRow{},
		jobs: map[string]internal.ConversionJob{},
		logs: map[string][]internal.JobLogEntry{},
	}
}

func (s *fakeStore) GetDocument(id string) (*internal.DocumentRow, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *fakeStore) CreateJob(documentID string) (internal.ConversionJob, error) {
	s.seq++
	job := internal.ConversionJob{
		ID:         fmt.Sprintf("job-%d", s.seq),
		DocumentID: documentID,
		Status:     internal.JobPending,
		CreatedAt:  time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *fakeStore) GetJob(id string) (*internal.ConversionJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *fakeStore) UpdateJob(job internal.ConversionJob) error {
	if _, ok := s.jobs[job.ID]; !ok {
		return errors.New("job not found")
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeStore) ListPendingJobs(limit int) ([]internal.ConversionJob, error) {
	out := []internal.ConversionJob{}
	for _, job := range s.jobs {
		if job.Status == internal.JobPending && len(out) < limit {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *fakeStore) AppendJobLog(jobID string, entry internal.JobLogEntry) error {
	s.logs[jobID] = append(s.logs[jobID], entry)
	return nil
}

func (s *fakeStore) InsertRun(string, map[string]float64, internal.RunStats) error {
	s.runs++
	return nil
}

type fakeBlobs struct {
	data      map[string][]byte
	failReads int
	outputs   map[string][]byte
	onSave    func()
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{data: map[string][]byte{}, outputs: map[string][]byte{}}
}

func (b *fakeBlobs) ReadBlob(ref string) ([]byte, error) {
	if b.failReads > 0 {
		b.failReads--
		return nil, errors.New("blob store offline")
	}
	raw, ok := b.data[ref]
	if !ok {
		return nil, fmt.Errorf("no blob %s", ref)
	}
	return raw, nil
}

func (b *fakeBlobs) SaveOutput(jobID string, data []byte) (string, error) {
	if b.onSave != nil {
		b.onSave()
	}
	ref := jobID + ".xbrl.xml"
	b.outputs[ref] = data
	return ref, nil
}

// fakeSched queues callbacks so tests control when deferred work runs.
type fakeSched struct {
	delays []time.Duration
	queue  []func()
}

func (s *fakeSched) Schedule(delay time.Duration, fn func()) func() {
	s.delays = append(s.delays, delay)
	s.queue = append(s.queue, fn)
	return func() {}
}

func (s *fakeSched) drain() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

func testJobCfg() config.Config {
	return config.Config{
		TargetFramework:   "us-gaap",
		TargetCurrency:    "USD",
		ExactThreshold:    95,
		FuzzyThreshold:    80,
		AssistThreshold:   70,
		FallbackFloor:     60,
		MatchBatchSize:    50,
		RetryBaseDelaySec: 1,
	}
}

func newTestOrchestrator(store *fakeStore, blobs *fakeBlobs, sched Scheduler) *Orchestrator {
	cfg := testJobCfg()
	matcher := taxonomy.NewMatcher(cfg, taxonomy.CoreConcepts(), nil, nil)
	logger := log.New(io.Discard, "", 0)
	return NewOrchestrator(cfg, store, blobs, nil, matcher, sched, logger)
}

func seedDocument(store *fakeStore, blobs *fakeBlobs) string {
	raw := "Currency,EUR\nPeriod End,2023-12-31\nTotal Assets,\"5,000,000\"\nTotal Liabilities,\"2,000,000\"\n"
	blobs.data["doc-1.csv"] = []byte(raw)
	store.docs["doc-1"] = internal.DocumentRow{
		ID:       "doc-1",
		FileName: "balance.csv",
		Format:   internal.FormatCSV,
		RawRef:   "doc-1.csv",
	}
	return "doc-1"
}

func TestProcessCompletesJob(t *testing.T) {
	store, blobs, sched := newFakeStore(), newFakeBlobs(), &fakeSched{}
	orch := newTestOrchestrator(store, blobs, sched)
	docID := seedDocument(store, blobs)

	job, err := orch.Initiate(docID)
	if err != nil {
		t.Fatal(err)
	}
	sched.drain()

	final, _ := store.GetJob(job.ID)
	if final.Status != internal.JobCompleted {
		t.Fatalf("status = %s (error %v), want completed", final.Status, final.Error)
	}
	if final.Progress != 100 {
		t.Fatalf("progress = %d, want 100", final.Progress)
	}
	if final.OutputRef == nil || blobs.outputs[*final.OutputRef] == nil {
		t.Fatal("output not persisted")
	}
	if !strings.Contains(string(blobs.outputs[*final.OutputRef]), "us-gaap:Assets") {
		t.Fatal("generated document should carry matched facts")
	}
	if store.runs != 1 {
		t.Fatalf("runs recorded = %d, want 1", store.runs)
	}

	steps := map[string]bool{}
	for _, entry := range store.logs[job.ID] {
		steps[entry.Step] = true
	}
	for _, step := range []string{"resolve", "parse", "match", "generate", "persist"} {
		if !steps[step] {
			t.Fatalf("missing log step %q in %v", step, store.logs[job.ID])
		}
	}
}

func TestProcessUnknownDocumentFailsPermanently(t *testing.T) {
	store, blobs, sched := newFakeStore(), newFakeBlobs(), &fakeSched{}
	orch := newTestOrchestrator(store, blobs, sched)

	job, err := orch.Initiate("missing-doc")
	if err != nil {
		t.Fatal(err)
	}
	sched.drain()

	final, _ := store.GetJob(job.ID)
	if final.Status != internal.JobFailed || !final.Terminal() {
		t.Fatalf("missing document should fail terminally: %+v", final)
	}
	if final.Error == nil || !strings.Contains(*final.Error, "document not found") {
		t.Fatalf("error = %v", final.Error)
	}

	if _, err := orch.Retry(job.ID); err == nil {
		t.Fatal("terminal job must not be retryable")
	}
}

func TestProcessRetriesTransientFailureWithLinearBackoff(t *testing.T) {
	store, blobs, sched := newFakeStore(), newFakeBlobs(), &fakeSched{}
	orch := newTestOrchestrator(store, blobs, sched)
	docID := seedDocument(store, blobs)
	blobs.failReads = 100

	job, err := orch.Initiate(docID)
	if err != nil {
		t.Fatal(err)
	}
	sched.drain()

	final, _ := store.GetJob(job.ID)
	if final.Status != internal.JobFailed || !final.Terminal() {
		t.Fatalf("exhausted retries should be terminal: %+v", final)
	}
	if final.RetryCount != internal.MaxRetries {
		t.Fatalf("retry count = %d, want %d", final.RetryCount, internal.MaxRetries)
	}

	backoffs := []time.Duration{}
	for _, d := range sched.delays {
		if d > 0 {
			backoffs = append(backoffs, d)
		}
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(backoffs) != len(want) {
		t.Fatalf("backoffs = %v, want %v", backoffs, want)
	}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Fatalf("backoffs = %v, want %v", backoffs, want)
		}
	}
}

func TestProcessRecoversAfterTransientFailure(t *testing.T) {
	store, blobs, sched := newFakeStore(), newFakeBlobs(), &fakeSched{}
	orch := newTestOrchestrator(store, blobs, sched)
	docID := seedDocument(store, blobs)
	blobs.failReads = 1

	job, err := orch.Initiate(docID)
	if err != nil {
		t.Fatal(err)
	}
	sched.drain()

	final, _ := store.GetJob(job.ID)
	if final.Status != internal.JobCompleted {
		t.Fatalf("status = %s, want completed after one retry", final.Status)
	}
	if final.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", final.RetryCount)
	}
}

func TestProcessRetriesInlineWithImmediateScheduler(t *testing.T) {
	store, blobs := newFakeStore(), newFakeBlobs()
	orch := newTestOrchestrator(store, blobs, ImmediateScheduler{})
	docID := seedDocument(store, blobs)
	blobs.failReads = 1

	// The whole retry chain runs synchronously inside Initiate here, so
	// the claim must not block the nested re-processing.
	job, err := orch.Initiate(docID)
	if err != nil {
		t.Fatal(err)
	}

	final, _ := store.GetJob(job.ID)
	if final.Status != internal.JobCompleted {
		t.Fatalf("status = %s (error %v), want completed after inline retry", final.Status, final.Error)
	}
	if final.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", final.RetryCount)
	}
	if final.OutputRef == nil || blobs.outputs[*final.OutputRef] == nil {
		t.Fatal("output not persisted")
	}
}

func TestCancelDuringPersistWins(t *testing.T) {
	store, blobs, sched := newFakeStore(), newFakeBlobs(), &fakeSched{}
	orch := newTestOrchestrator(store, blobs, sched)
	docID := seedDocument(store, blobs)

	job, err := orch.Initiate(docID)
	if err != nil {
		t.Fatal(err)
	}
	blobs.onSave = func() {
		if _, err := orch.Cancel(job.ID); err != nil {
			t.Fatal(err)
		}
	}
	sched.drain()

	final, _ := store.GetJob(job.ID)
	if final.Status != internal.JobFailed || !final.Terminal() {
		t.Fatalf("cancel landing during persist must stick: %+v", final)
	}
	if final.Error == nil || *final.Error != internal.CancelledMessage {
		t.Fatalf("error = %v, want %q", final.Error, internal.CancelledMessage)
	}
	if final.OutputRef != nil {
		t.Fatal("cancelled job must not carry an output ref")
	}
}

func TestCancelMakesJobTerminal(t *testing.T) {
	store, blobs, sched := newFakeStore(), newFakeBlobs(), &fakeSched{}
	orch := newTestOrchestrator(store, blobs, sched)
	docID := seedDocument(store, blobs)

	job, err := orch.Initiate(docID)
	if err != nil {
		t.Fatal(err)
	}
	// Cancel before the scheduler runs the job.
	if _, err := orch.Cancel(job.ID); err != nil {
		t.Fatal(err)
	}
	sched.drain()

	final, _ := store.GetJob(job.ID)
	if final.Status != internal.JobFailed || !final.Terminal() {
		t.Fatalf("cancelled job should be terminally failed: %+v", final)
	}
	if final.Error == nil || *final.Error != internal.CancelledMessage {
		t.Fatalf("error = %v, want %q", final.Error, internal.CancelledMessage)
	}

	if _, err := orch.Retry(job.ID); err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("cancelled job must not be retryable, got %v", err)
	}
	if _, err := orch.Cancel(job.ID); err == nil {
		t.Fatal("double cancel must be rejected")
	}
}

func TestRetryRejectsNonFailedJobs(t *testing.T) {
	store, blobs, sched := newFakeStore(), newFakeBlobs(), &fakeSched{}
	orch := newTestOrchestrator(store, blobs, sched)
	docID := seedDocument(store, blobs)

	job, err := orch.Initiate(docID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Retry(job.ID); err == nil {
		t.Fatal("pending job must not be retryable")
	}
	sched.drain()
	if _, err := orch.Retry(job.ID); err == nil {
		t.Fatal("completed job must not be retryable")
	}
	if _, err := orch.Retry("nope"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unknown job error wrong: %v", err)
	}
}

func TestProcessSkipsNonPendingJobs(t *testing.T) {
	store, blobs, sched := newFakeStore(), newFakeBlobs(), &fakeSched{}
	orch := newTestOrchestrator(store, blobs, sched)
	docID := seedDocument(store, blobs)

	job, _ := store.CreateJob(docID)
	job.Status = internal.JobProcessing
	if err := store.UpdateJob(job); err != nil {
		t.Fatal(err)
	}
	if err := orch.Process(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	after, _ := store.GetJob(job.ID)
	if after.Status != internal.JobProcessing {
		t.Fatalf("non-pending job must not be touched, got %s", after.Status)
	}
}
