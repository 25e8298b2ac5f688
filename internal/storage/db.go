package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"finconv/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  fileName TEXT NOT NULL,
  format TEXT NOT NULL,
  contentType TEXT,
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  documentId TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  progress INTEGER NOT NULL DEFAULT 0,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  startedAt TEXT,
  completedAt TEXT,
  error TEXT,
  retryCount INTEGER NOT NULL DEFAULT 0,
  outputRef TEXT,
  FOREIGN KEY(documentId) REFERENCES documents(id)
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS job_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  jobId TEXT NOT NULL,
  step TEXT NOT NULL,
  status TEXT NOT NULL,
  detail TEXT,
  at TEXT NOT NULL,
  FOREIGN KEY(jobId) REFERENCES jobs(id)
);
CREATE INDEX IF NOT EXISTS idx_job_log_job ON job_log(jobId);

CREATE TABLE IF NOT EXISTS taxonomy_concepts (
  id INTEGER PRIMARY KEY,
  tag TEXT NOT NULL UNIQUE,
  label TEXT NOT NULL,
  framework TEXT NOT NULL,
  sector TEXT,
  statementKind TEXT,
  parentTag TEXT,
  synonyms TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_concepts_label ON taxonomy_concepts(label);

CREATE TABLE IF NOT EXISTS learned_mappings (
  label TEXT NOT NULL,
  sector TEXT NOT NULL DEFAULT '',
  statementKind TEXT NOT NULL DEFAULT '',
  tag TEXT NOT NULL,
  framework TEXT NOT NULL,
  confidence REAL NOT NULL,
  method TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(label, sector, statementKind)
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  jobId TEXT NOT NULL,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(jobId) REFERENCES jobs(id)
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) InsertDocument(doc internal.DocumentRow) error {
	_, err := d.conn.Exec(`
INSERT INTO documents (id, fileName, format, contentType, rawRef)
VALUES (?, ?, ?, ?, ?)
`, doc.ID, doc.FileName, string(doc.Format), doc.ContentType, doc.RawRef)
	return err
}

// GetDocument returns nil (no error) when the id is unknown.
func (d *DB) GetDocument(id string) (*internal.DocumentRow, error) {
	var row internal.DocumentRow
	var format string
	err := d.conn.QueryRow(`
SELECT id, fileName, format, contentType, rawRef, createdAt
FROM documents WHERE id = ?
`, id).Scan(&row.ID, &row.FileName, &format, &row.ContentType, &row.RawRef, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.Format = internal.DocumentFormat(format)
	return &row, nil
}

func (d *DB) ListDocuments(limit int) ([]internal.DocumentRow, error) {
	rows, err := d.conn.Query(`
SELECT id, fileName, format, contentType, rawRef, createdAt
FROM documents ORDER BY createdAt DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.DocumentRow
	for rows.Next() {
		var row internal.DocumentRow
		var format string
		if err := rows.Scan(&row.ID, &row.FileName, &format, &row.ContentType, &row.RawRef, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Format = internal.DocumentFormat(format)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) CreateJob(documentID string) (internal.ConversionJob, error) {
	job := internal.ConversionJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     internal.JobPending,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := d.conn.Exec(`
INSERT INTO jobs (id, documentId, status, progress, createdAt)
VALUES (?, ?, ?, 0, ?)
`, job.ID, job.DocumentID, string(job.Status), job.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return internal.ConversionJob{}, err
	}
	return job, nil
}

func (d *DB) GetJob(id string) (*internal.ConversionJob, error) {
	row := d.conn.QueryRow(`
SELECT id, documentId, status, progress, createdAt, startedAt, completedAt, error, retryCount, outputRef
FROM jobs WHERE id = ?
`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (d *DB) UpdateJob(job internal.ConversionJob) error {
	res, err := d.conn.Exec(`
UPDATE jobs SET status = ?, progress = ?, startedAt = ?, completedAt = ?, error = ?, retryCount = ?, outputRef = ?
WHERE id = ?
`, string(job.Status), job.Progress, timeString(job.StartedAt), timeString(job.CompletedAt), job.Error, job.RetryCount, job.OutputRef, job.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("job not found: %s", job.ID)
	}
	return err
}

func (d *DB) ListPendingJobs(limit int) ([]internal.ConversionJob, error) {
	rows, err := d.conn.Query(`
SELECT id, documentId, status, progress, createdAt, startedAt, completedAt, error, retryCount, outputRef
FROM jobs WHERE status = ? ORDER BY createdAt ASC LIMIT ?
`, string(internal.JobPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ConversionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (internal.ConversionJob, error) {
	var job internal.ConversionJob
	var status, createdAt string
	var startedAt, completedAt *string
	if err := r.Scan(
		&job.ID, &job.DocumentID, &status, &job.Progress, &createdAt,
		&startedAt, &completedAt, &job.Error, &job.RetryCount, &job.OutputRef,
	); err != nil {
		return internal.ConversionJob{}, err
	}
	job.Status = internal.JobStatus(status)
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.StartedAt = parseTime(startedAt)
	job.CompletedAt = parseTime(completedAt)
	return job, nil
}

func (d *DB) AppendJobLog(jobID string, entry internal.JobLogEntry) error {
	var detail *string
	if entry.Detail != "" {
		detail = &entry.Detail
	}
	_, err := d.conn.Exec(`
INSERT INTO job_log (jobId, step, status, detail, at)
VALUES (?, ?, ?, ?, ?)
`, jobID, entry.Step, entry.Status, detail, entry.At.Format(time.RFC3339))
	return err
}

func (d *DB) GetJobLog(jobID string) ([]internal.JobLogEntry, error) {
	rows, err := d.conn.Query(`
SELECT step, status, detail, at FROM job_log WHERE jobId = ? ORDER BY id ASC
`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.JobLogEntry
	for rows.Next() {
		var entry internal.JobLogEntry
		var detail *string
		var at string
		if err := rows.Scan(&entry.Step, &entry.Status, &detail, &at); err != nil {
			return nil, err
		}
		if detail != nil {
			entry.Detail = *detail
		}
		entry.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (d *DB) UpsertConcepts(concepts []internal.TaxonomyConcept) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO taxonomy_concepts (id, tag, label, framework, sector, statementKind, parentTag, synonyms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  tag=excluded.tag,
  label=excluded.label,
  framework=excluded.framework,
  sector=excluded.sector,
  statementKind=excluded.statementKind,
  parentTag=excluded.parentTag,
  synonyms=excluded.synonyms
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range concepts {
		synonymsJSON, _ := json.Marshal(c.Synonyms)
		if _, err := stmt.Exec(c.ID, c.Tag, c.Label, string(c.Framework), c.Sector, c.StatementKind, c.ParentTag, string(synonymsJSON)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListConcepts() ([]internal.TaxonomyConcept, error) {
	rows, err := d.conn.Query(`
SELECT id, tag, label, framework, sector, statementKind, parentTag, synonyms
FROM taxonomy_concepts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.TaxonomyConcept
	for rows.Next() {
		var c internal.TaxonomyConcept
		var framework, synonymsJSON string
		if err := rows.Scan(&c.ID, &c.Tag, &c.Label, &framework, &c.Sector, &c.StatementKind, &c.ParentTag, &synonymsJSON); err != nil {
			return nil, err
		}
		c.Framework = internal.Framework(framework)
		_ = json.Unmarshal([]byte(synonymsJSON), &c.Synonyms)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertLearnedMapping records a confirmed mapping. Conflicts on the same
// label and scope keep the row with the higher confidence.
func (d *DB) UpsertLearnedMapping(lm internal.LearnedMapping) error {
	_, err := d.conn.Exec(`
INSERT INTO learned_mappings (label, sector, statementKind, tag, framework, confidence, method)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(label, sector, statementKind) DO UPDATE SET
  tag=excluded.tag,
  framework=excluded.framework,
  confidence=excluded.confidence,
  method=excluded.method,
  updatedAt=CURRENT_TIMESTAMP
WHERE excluded.confidence > learned_mappings.confidence
`, lm.Label, derefOr(lm.Sector), derefOr(lm.StatementKind), lm.Tag, string(lm.Framework), lm.Confidence, string(lm.Method))
	return err
}

func (d *DB) ListLearnedMappings() ([]internal.LearnedMapping, error) {
	rows, err := d.conn.Query(`
SELECT label, sector, statementKind, tag, framework, confidence, method FROM learned_mappings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.LearnedMapping
	for rows.Next() {
		var lm internal.LearnedMapping
		var sector, kind, framework, method string
		if err := rows.Scan(&lm.Label, &sector, &kind, &lm.Tag, &framework, &lm.Confidence, &method); err != nil {
			return nil, err
		}
		if sector != "" {
			lm.Sector = &sector
		}
		if kind != "" {
			lm.StatementKind = &kind
		}
		lm.Framework = internal.Framework(framework)
		lm.Method = internal.MatchMethod(method)
		out = append(out, lm)
	}
	return out, rows.Err()
}

func (d *DB) InsertRun(jobID string, timings map[string]float64, counts internal.RunStats) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (jobId, timingsJson, countsJson) VALUES (?, ?, ?)`,
		jobID, string(timingsJSON), string(countsJSON))
	return err
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}

func derefOr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
