package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"finconv/internal"
	"finconv/internal/config"
	"finconv/internal/intake"
	"finconv/internal/job"
	"finconv/internal/storage"
	"finconv/internal/taxonomy"
)

const uploadCSVBody = "Currency,EUR\nPeriod End,2023-12-31\nTotal Assets,\"5,000,000\"\nTotal Liabilities,\"2,000,000\"\n"

func newTestServer(t *testing.T) (*Server, *storage.DB) {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	blobs, err := storage.NewBlobStore(filepath.Join(dir, "raw"), filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{
		TargetFramework:   "us-gaap",
		TargetCurrency:    "USD",
		ExactThreshold:    95,
		FuzzyThreshold:    80,
		AssistThreshold:   70,
		FallbackFloor:     60,
		MatchBatchSize:    50,
		RetryBaseDelaySec: 1,
	}
	logger := log.New(io.Discard, "", 0)
	matcher := taxonomy.NewMatcher(cfg, taxonomy.CoreConcepts(), nil, nil)
	// ImmediateScheduler makes conversions synchronous for assertions.
	orch := job.NewOrchestrator(cfg, db, blobs, nil, matcher, job.ImmediateScheduler{}, logger)
	in := intake.NewService(db, blobs, nil, logger)

	return NewServer(cfg, db, blobs, in, orch, logger), db
}

func doJSON(t *testing.T, router http.Handler, method, path string, body io.Reader, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.Contains(rec.Header().Get("Content-Type"), "json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func uploadDocument(t *testing.T, router http.Handler, name, content string) string {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	_ = mw.Close()

	rec, out := doJSON(t, router, http.MethodPost, "/api/documents", body, mw.FormDataContentType())
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := out["documentId"].(string)
	if id == "" {
		t.Fatalf("no documentId in %s", rec.Body.String())
	}
	return id
}

func TestUploadConvertAndDownload(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	docID := uploadDocument(t, router, "balance.csv", uploadCSVBody)

	rec, out := doJSON(t, router, http.MethodPost, "/api/documents/"+docID+"/convert", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("convert status = %d: %s", rec.Code, rec.Body.String())
	}
	jobID, _ := out["id"].(string)
	if jobID == "" {
		t.Fatalf("no job id in %s", rec.Body.String())
	}

	rec, out = doJSON(t, router, http.MethodGet, "/api/jobs/"+jobID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	jobObj, _ := out["job"].(map[string]any)
	if jobObj["status"] != string(internal.JobCompleted) {
		t.Fatalf("job not completed: %v", jobObj)
	}
	if jobObj["progress"] != float64(100) {
		t.Fatalf("progress = %v, want 100", jobObj["progress"])
	}
	if entries, _ := out["log"].([]any); len(entries) == 0 {
		t.Fatal("job log empty")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID+"/output", nil)
	outRec := httptest.NewRecorder()
	router.ServeHTTP(outRec, req)
	if outRec.Code != http.StatusOK {
		t.Fatalf("output status = %d: %s", outRec.Code, outRec.Body.String())
	}
	if ct := outRec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(outRec.Body.String(), "us-gaap:Assets") {
		t.Fatal("output is not the generated instance document")
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/api/documents", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "balance.csv") {
		t.Fatalf("document list wrong: %d %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, _ := mw.CreateFormFile("file", "archive.zip")
	_, _ = fw.Write([]byte("PK\x03\x04"))
	_ = mw.Close()

	rec, _ := doJSON(t, router, http.MethodPost, "/api/documents", body, mw.FormDataContentType())
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestJobEndpointsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec, _ := doJSON(t, router, http.MethodGet, "/api/jobs/nope", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	rec, _ = doJSON(t, router, http.MethodPost, "/api/jobs/nope/retry", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("retry status = %d, want 404", rec.Code)
	}
	rec, _ = doJSON(t, router, http.MethodGet, "/api/jobs/nope/output", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("output status = %d, want 404", rec.Code)
	}
}

func TestRetryCompletedJobConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	docID := uploadDocument(t, router, "balance.csv", uploadCSVBody)
	_, out := doJSON(t, router, http.MethodPost, "/api/documents/"+docID+"/convert", nil, "")
	jobID, _ := out["id"].(string)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/jobs/"+jobID+"/retry", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry status = %d, want 409", rec.Code)
	}
	rec, _ = doJSON(t, router, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel status = %d, want 409", rec.Code)
	}
}

func TestCreateMapping(t *testing.T) {
	srv, db := newTestServer(t)
	router := srv.Router()

	payload := `{"label":"Net Rev","tag":"us-gaap:Revenues"}`
	rec, _ := doJSON(t, router, http.MethodPost, "/api/mappings", strings.NewReader(payload), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	mappings, err := db.ListLearnedMappings()
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 1 || mappings[0].Tag != "us-gaap:Revenues" || mappings[0].Method != internal.MethodManual {
		t.Fatalf("mapping not stored: %+v", mappings)
	}
	if mappings[0].Framework != internal.Framework("us-gaap") {
		t.Fatalf("framework should default to target: %s", mappings[0].Framework)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/api/mappings", strings.NewReader(`{"label":""}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}
