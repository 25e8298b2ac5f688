package web

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"finconv/internal"
)

const maxUploadBytes = 32 << 20

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "reading upload failed")
		return
	}
	if len(raw) > maxUploadBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}

	fileName := filepath.Base(header.Filename)
	contentType := header.Header.Get("Content-Type")

	doc, err := s.intake.RegisterFile(fileName, contentType, raw)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"documentId": doc.ID,
		"fileName":   doc.FileName,
		"format":     doc.Format,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, _ *http.Request) {
	docs, err := s.db.ListDocuments(200)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]any{
			"documentId": d.ID,
			"fileName":   d.FileName,
			"format":     d.Format,
			"createdAt":  d.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	j, err := s.orch.Initiate(documentID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	j, err := s.db.GetJob(jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if j == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	entries, err := s.db.GetJobLog(jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job": j,
		"log": entries,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	j, err := s.orch.Retry(jobID)
	if err != nil {
		status := http.StatusConflict
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	j, err := s.orch.Cancel(jobID)
	if err != nil {
		status := http.StatusConflict
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	j, err := s.db.GetJob(jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if j == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if j.Status != internal.JobCompleted || j.OutputRef == nil {
		s.writeError(w, http.StatusConflict, "job has no output yet")
		return
	}
	data, err := s.blobs.ReadBlob(*j.OutputRef)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.xbrl.xml"`)
	_, _ = w.Write(data)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

type mappingRequest struct {
	Label         string  `json:"label"`
	Tag           string  `json:"tag"`
	Framework     string  `json:"framework"`
	Sector        *string `json:"sector,omitempty"`
	StatementKind *string `json:"statementKind,omitempty"`
}

// handleCreateMapping records an operator-confirmed label-to-tag mapping.
// TODO: reload the matcher's learned mappings without a process restart.
func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Label) == "" || strings.TrimSpace(req.Tag) == "" {
		s.writeError(w, http.StatusBadRequest, "label and tag are required")
		return
	}
	framework := internal.Framework(req.Framework)
	if framework == "" {
		framework = internal.Framework(s.cfg.TargetFramework)
	}

	lm := internal.LearnedMapping{
		Label:         req.Label,
		Sector:        req.Sector,
		StatementKind: req.StatementKind,
		Tag:           req.Tag,
		Framework:     framework,
		Confidence:    100,
		Method:        internal.MethodManual,
	}
	if err := s.db.UpsertLearnedMapping(lm); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, lm)
}
