package intake

import (
	"bytes"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"finconv/internal"
	"finconv/internal/parser"
	"finconv/internal/storage"
)

// Service registers incoming documents: direct uploads and email
// attachments. Registration stores the raw bytes and records a document
// row; conversion happens later under a job.
type Service struct {
	db     *storage.DB
	blobs  *storage.BlobStore
	reg    *parser.Registry
	logger *log.Logger
}

func NewService(db *storage.DB, blobs *storage.BlobStore, reg *parser.Registry, logger *log.Logger) *Service {
	if reg == nil {
		reg = parser.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{db: db, blobs: blobs, reg: reg, logger: logger}
}

// RegisterFile stores one raw document and returns its row. Files no parser
// claims are rejected.
func (s *Service) RegisterFile(fileName, contentType string, raw []byte) (internal.DocumentRow, error) {
	if len(raw) == 0 {
		return internal.DocumentRow{}, fmt.Errorf("empty document: %s", fileName)
	}
	p, ok := s.reg.Resolve("", contentType, fileName)
	if !ok {
		return internal.DocumentRow{}, fmt.Errorf("unsupported document type: %s (%s)", fileName, contentType)
	}

	id := uuid.NewString()
	ref, err := s.blobs.SaveDocument(id, fileName, raw)
	if err != nil {
		return internal.DocumentRow{}, err
	}

	row := internal.DocumentRow{
		ID:       id,
		FileName: fileName,
		Format:   p.Format(),
		RawRef:   ref,
	}
	if contentType != "" {
		ct := contentType
		row.ContentType = &ct
	}
	if err := s.db.InsertDocument(row); err != nil {
		return internal.DocumentRow{}, err
	}
	return row, nil
}

// IngestEmail registers every usable attachment of a raw RFC 822 message.
// When a message carries no usable attachment, its text body is registered
// as a plain-text document instead.
func (s *Service) IngestEmail(raw []byte) ([]internal.DocumentRow, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var docs []internal.DocumentRow
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		row, err := s.RegisterFile(filename, att.ContentType, att.Content)
		if err != nil {
			s.logger.Printf("intake: skipping attachment %s: %v", filename, err)
			continue
		}
		docs = append(docs, row)
	}

	if len(docs) == 0 && strings.TrimSpace(env.Text) != "" {
		name := sanitizeFileName(env.GetHeader("Subject"))
		if name == "" {
			name = "mail-body"
		}
		row, err := s.RegisterFile(name+".txt", "text/plain", []byte(env.Text))
		if err != nil {
			return nil, err
		}
		docs = append(docs, row)
	}

	return docs, nil
}

func sanitizeFileName(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_")
	out := repl.Replace(strings.TrimSpace(input))
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}
