package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/aliexpress-credential-scraper/internal/credential-api/jobs"
	"github.com/maltedev/aliexpress-credential-scraper/internal/database"
)

type Handlers struct {
	repo   *database.CredentialRepository
	jobs   *jobs.Manager
	logger *slog.Logger
}

func NewHandlers(repo *database.CredentialRepository, jobs *jobs.Manager, logger *slog.Logger) *Handlers {
	return &Handlers{
		repo:   repo,
		jobs:   jobs,
		logger: logger,
	}
}

// CreateJobRequest asks for a batch of stores to be scraped.
type CreateJobRequest struct {
	StoreIDs []string `json:"store_ids"`
}

type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateJob handles new scrape job creation
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.StoreIDs) == 0 {
		h.respondError(w, http.StatusBadRequest, "store_ids is required")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req.StoreIDs)
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

// GetJob handles job status retrieval
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs handles listing all jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

// GetJobTargets handles retrieving the per-store progress of a job
func (h *Handlers) GetJobTargets(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	targets, err := h.jobs.GetJobTargets(r.Context(), jobID)
	if err != nil {
		h.logger.Error("failed to get job targets", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get targets")
		return
	}

	h.respondJSON(w, http.StatusOK, targets)
}

// GetResult handles retrieving a store's captured credentials
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if storeID == "" {
		h.respondError(w, http.StatusBadRequest, "store ID is required")
		return
	}

	result, err := h.repo.GetResult(r.Context(), storeID)
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "no result for store")
		return
	}
	if err != nil {
		h.logger.Error("failed to get result", "store_id", storeID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// ListResults handles listing recent results
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := h.repo.ListResults(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list results", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	h.respondJSON(w, http.StatusOK, results)
}

// GetStats handles statistics retrieval
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
