package storage

import (
	"path/filepath"
	"testing"
	"time"

	"finconv/internal"
	"finconv/internal/util"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDocumentRoundTrip(t *testing.T) {
	db := openTestDB(t)

	ct := "text/csv"
	doc := internal.DocumentRow{
		ID:          "doc-1",
		FileName:    "balance.csv",
		Format:      internal.FormatCSV,
		ContentType: &ct,
		RawRef:      "/raw/doc-1.csv",
	}
	if err := db.InsertDocument(doc); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetDocument("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.FileName != "balance.csv" || got.Format != internal.FormatCSV {
		t.Fatalf("round trip wrong: %+v", got)
	}
	if got.ContentType == nil || *got.ContentType != "text/csv" {
		t.Fatalf("content type wrong: %v", got.ContentType)
	}

	missing, err := db.GetDocument("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("unknown id should return nil, got %+v", missing)
	}

	docs, err := db.ListDocuments(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}
}

func TestJobLifecycle(t *testing.T) {
	db := openTestDB(t)

	if err := db.InsertDocument(internal.DocumentRow{ID: "doc-1", FileName: "a.csv", Format: internal.FormatCSV, RawRef: "r"}); err != nil {
		t.Fatal(err)
	}
	job, err := db.CreateJob("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != internal.JobPending || job.ID == "" {
		t.Fatalf("new job wrong: %+v", job)
	}

	pending, err := db.ListPendingJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != job.ID {
		t.Fatalf("pending list wrong: %+v", pending)
	}

	started := time.Now().UTC()
	errMsg := "parse failed"
	job.Status = internal.JobFailed
	job.Progress = 30
	job.StartedAt = &started
	job.Error = &errMsg
	job.RetryCount = 1
	if err := db.UpdateJob(job); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != internal.JobFailed || got.Progress != 30 || got.RetryCount != 1 {
		t.Fatalf("updated job wrong: %+v", got)
	}
	if got.Error == nil || *got.Error != "parse failed" {
		t.Fatalf("error not persisted: %v", got.Error)
	}
	if got.StartedAt == nil {
		t.Fatal("startedAt not persisted")
	}

	if pending, _ := db.ListPendingJobs(10); len(pending) != 0 {
		t.Fatalf("failed job still pending: %+v", pending)
	}

	if err := db.UpdateJob(internal.ConversionJob{ID: "nope"}); err == nil {
		t.Fatal("updating an unknown job should fail")
	}
	if missing, err := db.GetJob("nope"); err != nil || missing != nil {
		t.Fatalf("unknown job should be nil, got %v %v", missing, err)
	}
}

func TestJobLogOrdering(t *testing.T) {
	db := openTestDB(t)
	job, err := db.CreateJob("doc-1")
	if err != nil {
		t.Fatal(err)
	}

	at := time.Now().UTC()
	for _, step := range []string{"resolve", "parse", "match"} {
		if err := db.AppendJobLog(job.ID, internal.JobLogEntry{Step: step, Status: "done", At: at}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := db.GetJobLog(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, step := range []string{"resolve", "parse", "match"} {
		if entries[i].Step != step {
			t.Fatalf("entry %d = %q, want %q", i, entries[i].Step, step)
		}
	}
}

func TestConceptsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	kind := "balance_sheet"
	concepts := []internal.TaxonomyConcept{
		{ID: 1, Tag: "us-gaap:Assets", Label: "Total Assets", Framework: internal.FrameworkUSGAAP, StatementKind: &kind, Synonyms: []string{"Assets"}},
		{ID: 2, Tag: "us-gaap:Revenues", Label: "Total Revenue", Framework: internal.FrameworkUSGAAP},
	}
	if err := db.UpsertConcepts(concepts); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListConcepts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("concepts = %d, want 2", len(got))
	}

	// Re-seeding with a changed label updates in place.
	concepts[0].Label = "Assets, Total"
	if err := db.UpsertConcepts(concepts[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = db.ListConcepts()
	found := false
	for _, c := range got {
		if c.ID == 1 {
			found = true
			if c.Label != "Assets, Total" {
				t.Fatalf("label not updated: %q", c.Label)
			}
			if len(c.Synonyms) != 1 || c.Synonyms[0] != "Assets" {
				t.Fatalf("synonyms wrong: %v", c.Synonyms)
			}
		}
	}
	if !found {
		t.Fatal("concept 1 missing after upsert")
	}
}

func TestUpsertLearnedMappingKeepsHigherConfidence(t *testing.T) {
	db := openTestDB(t)

	base := internal.LearnedMapping{
		Label:      "Net Rev",
		Tag:        "us-gaap:Revenues",
		Framework:  internal.FrameworkUSGAAP,
		Confidence: 90,
		Method:     internal.MethodManual,
	}
	if err := db.UpsertLearnedMapping(base); err != nil {
		t.Fatal(err)
	}

	lower := base
	lower.Tag = "us-gaap:NetIncomeLoss"
	lower.Confidence = 70
	if err := db.UpsertLearnedMapping(lower); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListLearnedMappings()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("mappings = %d, want 1", len(got))
	}
	if got[0].Tag != "us-gaap:Revenues" || got[0].Confidence != 90 {
		t.Fatalf("lower-confidence upsert must not overwrite: %+v", got[0])
	}

	higher := base
	higher.Tag = "us-gaap:RevenueFromContractWithCustomerExcludingAssessedTax"
	higher.Confidence = 95
	if err := db.UpsertLearnedMapping(higher); err != nil {
		t.Fatal(err)
	}
	got, _ = db.ListLearnedMappings()
	if got[0].Confidence != 95 {
		t.Fatalf("higher-confidence upsert should overwrite: %+v", got[0])
	}

	scoped := base
	scoped.Sector = util.StringPtr("retail")
	if err := db.UpsertLearnedMapping(scoped); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.ListLearnedMappings(); len(got) != 2 {
		t.Fatalf("scoped mapping should be a separate row, got %d", len(got))
	}
}

func TestInsertRun(t *testing.T) {
	db := openTestDB(t)
	job, err := db.CreateJob("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	err = db.InsertRun(job.ID, map[string]float64{"parse": 12.5}, internal.RunStats{Extracted: 3, Matched: 2, Unmapped: 1, Facts: 2})
	if err != nil {
		t.Fatal(err)
	}
}
