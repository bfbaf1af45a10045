package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/model"
	"jobradar/internal/orchestrator"
	"jobradar/internal/store"
)

// stopMessage is the canonical error recorded on hard-stopped runs.
const stopMessage = "stopped by operator"

const (
	defaultRunPageSize = 50
	maxRunPageSize     = store.PageSize
)

type runRequest struct {
	Source       string     `json:"source"`
	SearchText   string     `json:"search_text"`
	LocationText string     `json:"location_text"`
	JobTypeID    *uuid.UUID `json:"job_type_id"`
	LookbackDays *int       `json:"lookback_days"`
}

type runResponse struct {
	ID            uuid.UUID         `json:"id"`
	QueryID       *uuid.UUID        `json:"query_id,omitempty"`
	JobTypeID     *uuid.UUID        `json:"job_type_id,omitempty"`
	SearchText    string            `json:"search_text"`
	LocationText  string            `json:"location_text"`
	Source        model.Source      `json:"source"`
	Status        model.RunStatus   `json:"status"`
	Trigger       model.TriggerKind `json:"trigger"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	JobsFound     int               `json:"jobs_found"`
	JobsNew       int               `json:"jobs_new"`
	JobsUpdated   int               `json:"jobs_updated"`
	Error         *string           `json:"error,omitempty"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	OriginalRunID *uuid.UUID        `json:"original_run_id,omitempty"`
	NextRetryAt   *time.Time        `json:"next_retry_at,omitempty"`
	Archived      bool              `json:"archived"`
	Metadata      model.RunMetadata `json:"metadata"`
}

func toRunResponse(run model.ScrapeRun) runResponse {
	return runResponse{
		ID:            run.ID,
		QueryID:       run.QueryID,
		JobTypeID:     run.JobTypeID,
		SearchText:    run.SearchText,
		LocationText:  run.LocationText,
		Source:        run.Source,
		Status:        run.Status,
		Trigger:       run.Trigger,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		JobsFound:     run.JobsFound,
		JobsNew:       run.JobsNew,
		JobsUpdated:   run.JobsUpdated,
		Error:         run.Error,
		RetryCount:    run.RetryCount,
		MaxRetries:    run.MaxRetries,
		OriginalRunID: run.OriginalRunID,
		NextRetryAt:   run.NextRetryAt,
		Archived:      run.Archived,
		Metadata:      run.Metadata,
	}
}

// triggerRun starts a scrape run in the background and returns immediately.
// The run row shows up in GET /v1/runs once the orchestrator has created it.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	src := model.Source(req.Source)
	if !src.Valid() {
		writeError(w, http.StatusBadRequest, "source must be linkedin or indeed")
		return
	}
	if req.SearchText == "" {
		writeError(w, http.StatusBadRequest, "search_text required")
		return
	}

	s.checkDailyQuota(r.Context())

	params := orchestrator.Params{
		SearchText:   req.SearchText,
		LocationText: req.LocationText,
		Source:       src,
		Trigger:      model.TriggerAPI,
		JobTypeID:    req.JobTypeID,
		LookbackDays: req.LookbackDays,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.runBudget)
		defer cancel()
		result, err := s.runner.ExecuteScrapeRun(ctx, params)
		if err != nil {
			s.logger.Error("manual run failed before start", zap.Error(err))
			return
		}
		s.logger.Info("manual run finished",
			zap.String("run_id", result.RunID.String()),
			zap.String("status", string(result.Status)),
			zap.Int("jobs_found", result.JobsFound),
		)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// checkDailyQuota logs when the configured vendor trigger quota for the
// current UTC day is already spent. Accounting only; the trigger proceeds.
func (s *Server) checkDailyQuota(ctx context.Context) {
	quota := s.cfg.Vendor.DailyQuota
	if quota <= 0 {
		return
	}
	now := s.clock.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	n, err := s.store.CountTriggersSince(ctx, midnight)
	if err != nil {
		s.logger.Warn("trigger quota check failed", zap.Error(err))
		return
	}
	if n >= quota {
		s.logger.Warn("daily trigger quota exceeded",
			zap.Int("triggers_today", n), zap.Int("quota", quota))
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	limit, offset := parseLimitOffset(r, defaultRunPageSize, maxRunPageSize)
	runs, err := s.store.ListRuns(r.Context(), includeArchived, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   out,
		"offset": offset,
		"limit":  limit,
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "run_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load run failed")
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// stopRun transitions a run to failed immediately. The in-flight task is not
// interrupted; its late completion patch is ignored because the row is
// already terminal.
func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "run_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load run failed")
		return
	}
	if run.Status == model.RunCompleted || run.Status == model.RunFailed {
		writeError(w, http.StatusConflict, "run already finished")
		return
	}
	now := s.clock.Now()
	status := model.RunFailed
	msg := stopMessage
	patch := store.RunPatch{
		Status:      &status,
		CompletedAt: &now,
		Error:       &msg,
		ClearRetry:  true,
	}
	if err := s.store.UpdateRun(r.Context(), id, patch); err != nil {
		writeError(w, http.StatusInternalServerError, "stop run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": string(model.RunFailed),
	})
}

func (s *Server) archiveRun(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "run_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	archived := true
	err = s.store.UpdateRun(r.Context(), id, store.RunPatch{Archived: &archived})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "archive run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": "archived",
	})
}
