package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/model"
	"jobradar/internal/scheduler"
	"jobradar/internal/store"
)

type queryRequest struct {
	Source       string         `json:"source"`
	SearchText   string         `json:"search_text"`
	LocationText string         `json:"location_text"`
	JobTypeID    *uuid.UUID     `json:"job_type_id"`
	LookbackDays *int           `json:"lookback_days"`
	IsActive     *bool          `json:"is_active"`
	Schedule     model.Schedule `json:"schedule"`
}

type queryResponse struct {
	ID           uuid.UUID      `json:"id"`
	Source       model.Source   `json:"source"`
	SearchText   string         `json:"search_text"`
	LocationText string         `json:"location_text"`
	JobTypeID    *uuid.UUID     `json:"job_type_id,omitempty"`
	LookbackDays *int           `json:"lookback_days,omitempty"`
	IsActive     bool           `json:"is_active"`
	Schedule     model.Schedule `json:"schedule"`
	LastRunAt    *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time     `json:"next_run_at,omitempty"`
}

func toQueryResponse(q model.SearchQuery) queryResponse {
	return queryResponse{
		ID:           q.ID,
		Source:       q.Source,
		SearchText:   q.SearchText,
		LocationText: q.LocationText,
		JobTypeID:    q.JobTypeID,
		LookbackDays: q.LookbackDays,
		IsActive:     q.IsActive,
		Schedule:     q.Schedule,
		LastRunAt:    q.LastRunAt,
		NextRunAt:    q.NextRunAt,
	}
}

func (s *Server) validateQuery(req queryRequest) (model.SearchQuery, error) {
	src := model.Source(req.Source)
	if !src.Valid() {
		return model.SearchQuery{}, errors.New("source must be linkedin or indeed")
	}
	if req.SearchText == "" {
		return model.SearchQuery{}, errors.New("search_text required")
	}
	if req.Schedule.Enabled {
		if _, err := scheduler.CronSpec(req.Schedule); err != nil {
			return model.SearchQuery{}, err
		}
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return model.SearchQuery{
		Source:       src,
		SearchText:   req.SearchText,
		LocationText: req.LocationText,
		JobTypeID:    req.JobTypeID,
		LookbackDays: req.LookbackDays,
		IsActive:     active,
		Schedule:     req.Schedule,
	}, nil
}

func (s *Server) createQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	q, err := s.validateQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.ID = uuid.New()
	if err := s.store.CreateQuery(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, "create query failed")
		return
	}
	s.registerQuery(r, q)
	writeJSON(w, http.StatusCreated, toQueryResponse(q))
}

func (s *Server) updateQuery(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "query_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	existing, err := s.store.GetQuery(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load query failed")
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	q, err := s.validateQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.ID = existing.ID
	q.LastRunAt = existing.LastRunAt
	if err := s.store.UpdateQuery(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, "update query failed")
		return
	}
	s.registerQuery(r, q)
	writeJSON(w, http.StatusOK, toQueryResponse(q))
}

func (s *Server) deleteQuery(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "query_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteQuery(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete query failed")
		return
	}
	if s.sched != nil {
		s.sched.Deregister(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": "deleted"})
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "query_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := s.store.GetQuery(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load query failed")
		return
	}
	writeJSON(w, http.StatusOK, toQueryResponse(q))
}

func (s *Server) listQueries(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	queries, err := s.store.ListQueries(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list queries failed")
		return
	}
	out := make([]queryResponse, 0, len(queries))
	for _, q := range queries {
		out = append(out, toQueryResponse(q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": out})
}

// registerQuery keeps the scheduler in sync after a create or update. Sync
// failures are logged, not surfaced: the row is already persisted and the
// scheduler reconciles on next reload.
func (s *Server) registerQuery(r *http.Request, q model.SearchQuery) {
	if s.sched == nil {
		return
	}
	if err := s.sched.Register(r.Context(), q); err != nil {
		s.logger.Warn("scheduler registration failed",
			zap.String("query_id", q.ID.String()), zap.Error(err))
	}
}
