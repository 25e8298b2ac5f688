package internal

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// MaxRetries is the retry ceiling; a job that fails this many times is
// permanently failed.
const MaxRetries = 3

// CancelledMessage is the sentinel error recorded when a job is cancelled.
const CancelledMessage = "cancelled by user"

type ConversionJob struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"documentId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       *string    `json:"error,omitempty"`
	RetryCount  int        `json:"retryCount"`
	OutputRef   *string    `json:"outputRef,omitempty"`
}

func (j ConversionJob) Terminal() bool {
	if j.Status == JobCompleted {
		return true
	}
	return j.Status == JobFailed && j.RetryCount >= MaxRetries
}

type JobLogEntry struct {
	Step   string    `json:"step"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

type DocumentRow struct {
	ID          string
	FileName    string
	Format      DocumentFormat
	ContentType *string
	RawRef      string
	CreatedAt   string
}

type RunStats struct {
	Extracted int `json:"extracted"`
	Matched   int `json:"matched"`
	Unmapped  int `json:"unmapped"`
	Facts     int `json:"facts"`
	Skipped   int `json:"skipped"`
}
