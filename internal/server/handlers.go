package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobradar/internal/model"
	"github.com/sells-group/jobradar/internal/pipeline"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.store.Query(r.Context(), f)
	if err != nil {
		zap.L().Error("server: job query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "error fetching jobs")
		return
	}
	if rows == nil {
		rows = []model.AnalyzedPost{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		zap.L().Error("server: job read failed", zap.String("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "error fetching job")
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		zap.L().Error("server: stats read failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "error fetching stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Start(s.runCtx, s.trigger)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			respondError(w, http.StatusConflict, "a run is already active")
			return
		}
		zap.L().Error("server: run start failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "error starting run")
		return
	}

	info := run.Info()
	respondJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     info.ID,
		"status":     info.Status,
		"started_at": info.StartedAt,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runner.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, run.Info())
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runner.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	if err := run.Cancel(); err != nil {
		if errors.Is(err, pipeline.ErrRunNotRunning) {
			respondError(w, http.StatusConflict, "run is not running")
			return
		}
		zap.L().Error("server: run cancel failed", zap.String("run_id", run.ID()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "error canceling run")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID(),
		"status": "canceling",
	})
}

func (s *Server) handlePurgeJobs(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.RetentionDays
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			respondError(w, http.StatusBadRequest, "invalid older_than_days")
			return
		}
		days = v
	}

	deleted, err := s.store.PurgeOlderThan(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		zap.L().Error("server: purge failed", zap.Int("days", days), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "error during cleanup")
		return
	}

	zap.L().Info("server: purge complete", zap.Int64("deleted", deleted), zap.Int("days", days))
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted_jobs":   deleted,
		"retention_days": days,
	})
}

// parseFilters maps query parameters onto Filters. Unset parameters keep
// their zero value; range clamping happens in Normalize at query time.
func parseFilters(q url.Values) (model.Filters, error) {
	var f model.Filters
	var err error

	if f.HoursBack, err = intParam(q, "hours_back"); err != nil {
		return f, err
	}
	if f.WorthCheckingOnly, err = boolParam(q, "worth_checking_only"); err != nil {
		return f, err
	}
	if f.MinConfidence, err = floatParam(q, "min_confidence"); err != nil {
		return f, err
	}
	if f.RemoteOnly, err = boolParam(q, "remote_only"); err != nil {
		return f, err
	}
	if f.CompensationOnly, err = boolParam(q, "compensation_mentioned_only"); err != nil {
		return f, err
	}

	if raw := strings.TrimSpace(q.Get("experience_level")); raw != "" {
		el := model.ExperienceLevel(raw)
		if !model.ValidExperienceLevel(el) {
			return f, eris.Errorf("unknown experience_level %q", raw)
		}
		f.ExperienceLevel = el
	}
	if raw := strings.TrimSpace(q.Get("job_type")); raw != "" {
		jt := model.JobType(raw)
		if !model.ValidJobType(jt) {
			return f, eris.Errorf("unknown job_type %q", raw)
		}
		f.JobType = jt
	}

	f.SearchTerms = q.Get("search_terms")

	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, eris.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

func floatParam(q url.Values, key string) (float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

func boolParam(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, eris.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}
