package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/orchestrator"
	"github.com/joeumn/etsy-gen-sub000/internal/store"
)

const (
	settingsKey  = "settings"
	apiKeyPrefix = "apikey:"
	maxBodyBytes = 1 << 20
)

// handleRunStage triggers a manual run of one stage. With ?chain=true the
// remaining pipeline follows on success.
func (s *Server) handleRunStage(w http.ResponseWriter, r *http.Request) {
	stage, err := domain.ParseStage(r.PathValue("stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := orchestrator.Options{Manual: true, Trigger: "admin"}
	var job *domain.Job
	if r.URL.Query().Get("chain") == "true" {
		job, err = s.orch.ChainPipelineFrom(r.Context(), stage, opts)
	} else {
		job, err = s.orch.RunStage(r.Context(), stage, opts)
	}
	if err != nil {
		s.logger.Error("manual stage trigger failed", "stage", stage, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue stage run")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.jobs.FindByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	stage, err := domain.ParseStage(r.PathValue("stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.dlq.List(r.Context(), domain.QueueName(stage))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if entries == nil {
		entries = []domain.DeadLetterEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Settings are an opaque JSON document owned by the dashboard; the pipeline
// only stores and returns it.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	raw, ok, err := s.cache.Get(r.Context(), settingsKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if !ok {
		raw = []byte("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "settings must be valid JSON")
		return
	}
	if err := s.cache.Set(r.Context(), settingsKey, body, 0); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type putKeyRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type keyMeta struct {
	Name   string `json:"name"`
	Masked string `json:"masked"`
}

func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	var req putKeyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse request body")
		return
	}
	if req.Name == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "name and value are required")
		return
	}
	if err := s.cache.Set(r.Context(), apiKeyPrefix+req.Name, []byte(req.Value), 0); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleKeysMeta lists stored API keys with masked values. Secrets never
// leave the cache unmasked.
func (s *Server) handleKeysMeta(w http.ResponseWriter, r *http.Request) {
	names, err := s.cache.Keys(r.Context(), apiKeyPrefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}

	metas := make([]keyMeta, 0, len(names))
	for _, full := range names {
		name := strings.TrimPrefix(full, apiKeyPrefix)
		raw, ok, err := s.cache.Get(r.Context(), full)
		if err != nil || !ok {
			continue
		}
		metas = append(metas, keyMeta{Name: name, Masked: maskSecret(string(raw))})
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": metas})
}

func maskSecret(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to read request body")
		}
		return nil, err
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
