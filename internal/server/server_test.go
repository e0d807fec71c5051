package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobradar/internal/model"
	"github.com/sells-group/jobradar/internal/pipeline"
	"github.com/sells-group/jobradar/internal/store"
)

// stubStore answers only the read paths the API needs; anything
// unstubbed panics through the embedded nil interface.
type stubStore struct {
	store.Store
	queryFn func(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error)
	getFn   func(ctx context.Context, id string) (*model.AnalyzedPost, error)
	statsFn func(ctx context.Context) (*model.Stats, error)
	purgeFn func(ctx context.Context, retention time.Duration) (int64, error)
}

func (s *stubStore) Query(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error) {
	return s.queryFn(ctx, f)
}

func (s *stubStore) Get(ctx context.Context, id string) (*model.AnalyzedPost, error) {
	return s.getFn(ctx, id)
}

func (s *stubStore) Stats(ctx context.Context) (*model.Stats, error) {
	return s.statsFn(ctx)
}

func (s *stubStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return s.purgeFn(ctx, retention)
}

func quickRun(ctx context.Context) (*model.RunSummary, error) {
	return &model.RunSummary{}, nil
}

func newTestServer(st store.Store, rn *pipeline.Runner, trigger pipeline.RunFunc) http.Handler {
	if rn == nil {
		rn = pipeline.NewRunner()
	}
	if trigger == nil {
		trigger = quickRun
	}
	return New(context.Background(), st, rn, trigger, Config{}).Router()
}

func doRequest(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func analyzedRow(id string) model.AnalyzedPost {
	return model.AnalyzedPost{
		Post: model.Post{
			ID:        id,
			URL:       "https://www.reddit.com/r/forhire/comments/" + id + "/",
			Title:     "[Hiring] Go developer",
			PostedRaw: "2 hr. ago",
			Subreddit: "forhire",
		},
		Verdict: &model.Verdict{
			PostID:        id,
			WorthChecking: true,
			Confidence:    85,
			JobType:       model.JobTypeContract,
		},
		DisplayTime: "2 hrs ago",
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(&stubStore{}, nil, nil)

	rr := doRequest(h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListJobs_PassesFilters(t *testing.T) {
	var got model.Filters
	st := &stubStore{
		queryFn: func(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error) {
			got = f
			return []model.AnalyzedPost{analyzedRow("a1"), analyzedRow("a2")}, nil
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodGet,
		"/api/jobs?hours_back=48&worth_checking_only=true&min_confidence=60"+
			"&remote_only=1&compensation_mentioned_only=true&experience_level=senior"+
			"&job_type=contract&search_terms=golang+remote&limit=10&offset=5")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, 48, got.HoursBack)
	assert.True(t, got.WorthCheckingOnly)
	assert.InDelta(t, 60.0, got.MinConfidence, 0.001)
	assert.True(t, got.RemoteOnly)
	assert.True(t, got.CompensationOnly)
	assert.Equal(t, model.ExperienceSenior, got.ExperienceLevel)
	assert.Equal(t, model.JobTypeContract, got.JobType)
	assert.Equal(t, "golang remote", got.SearchTerms)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 5, got.Offset)

	var rows []model.AnalyzedPost
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "a1", rows[0].ID)
}

func TestListJobs_EmptyResultIsArray(t *testing.T) {
	st := &stubStore{
		queryFn: func(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error) {
			return nil, nil
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodGet, "/api/jobs")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestListJobs_InvalidParam(t *testing.T) {
	h := newTestServer(&stubStore{}, nil, nil)

	rr := doRequest(h, http.MethodGet, "/api/jobs?hours_back=soon")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid hours_back")

	rr = doRequest(h, http.MethodGet, "/api/jobs?worth_checking_only=maybe")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid worth_checking_only")
}

func TestListJobs_UnknownEnumRejected(t *testing.T) {
	h := newTestServer(&stubStore{}, nil, nil)

	rr := doRequest(h, http.MethodGet, "/api/jobs?job_type=gig")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown job_type")

	rr = doRequest(h, http.MethodGet, "/api/jobs?experience_level=wizard")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown experience_level")
}

func TestListJobs_StoreError(t *testing.T) {
	st := &stubStore{
		queryFn: func(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error) {
			return nil, eris.New("sqlite: database locked")
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodGet, "/api/jobs")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "error fetching jobs")
}

func TestGetJob(t *testing.T) {
	st := &stubStore{
		getFn: func(ctx context.Context, id string) (*model.AnalyzedPost, error) {
			if id == "a1" {
				row := analyzedRow("a1")
				return &row, nil
			}
			return nil, nil
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodGet, "/api/jobs/a1")
	require.Equal(t, http.StatusOK, rr.Code)
	var row model.AnalyzedPost
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &row))
	assert.Equal(t, "a1", row.ID)
	require.NotNil(t, row.Verdict)
	assert.True(t, row.Verdict.WorthChecking)

	rr = doRequest(h, http.MethodGet, "/api/jobs/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "job not found")
}

func TestStats(t *testing.T) {
	st := &stubStore{
		statsFn: func(ctx context.Context) (*model.Stats, error) {
			return &model.Stats{TotalPosts: 12, AnalyzedPosts: 9, WorthChecking: 4}, nil
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rr.Code)

	var stats model.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 12, stats.TotalPosts)
	assert.Equal(t, 4, stats.WorthChecking)
}

func TestStartRun_ConflictWhileActive(t *testing.T) {
	rn := pipeline.NewRunner()
	release := make(chan struct{})
	trigger := func(ctx context.Context) (*model.RunSummary, error) {
		<-release
		return &model.RunSummary{}, nil
	}
	h := newTestServer(&stubStore{}, rn, trigger)

	rr := doRequest(h, http.MethodPost, "/api/runs")
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	runID, _ := resp["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, string(model.RunStatusRunning), resp["status"])

	rr = doRequest(h, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "already active")

	close(release)
	run, ok := rn.Get(runID)
	require.True(t, ok)
	<-run.Done()

	rr = doRequest(h, http.MethodGet, "/api/runs/"+runID)
	require.Equal(t, http.StatusOK, rr.Code)
	var info model.RunInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, model.RunStatusCompleted, info.Status)
}

func TestGetRun_Unknown(t *testing.T) {
	h := newTestServer(&stubStore{}, nil, nil)

	rr := doRequest(h, http.MethodGet, "/api/runs/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "run not found")
}

func TestCancelRun(t *testing.T) {
	rn := pipeline.NewRunner()
	started := make(chan struct{})
	trigger := func(ctx context.Context) (*model.RunSummary, error) {
		close(started)
		<-ctx.Done()
		return &model.RunSummary{}, ctx.Err()
	}
	h := newTestServer(&stubStore{}, rn, trigger)

	rr := doRequest(h, http.MethodPost, "/api/runs")
	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	runID := resp["run_id"].(string)
	<-started

	rr = doRequest(h, http.MethodPost, "/api/runs/"+runID+"/cancel")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), "canceling")

	run, ok := rn.Get(runID)
	require.True(t, ok)
	<-run.Done()
	assert.Equal(t, model.RunStatusCanceled, run.Info().Status)

	rr = doRequest(h, http.MethodPost, "/api/runs/"+runID+"/cancel")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "not running")

	rr = doRequest(h, http.MethodPost, "/api/runs/nope/cancel")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPurgeJobs_DefaultRetention(t *testing.T) {
	var gotRetention time.Duration
	st := &stubStore{
		purgeFn: func(ctx context.Context, retention time.Duration) (int64, error) {
			gotRetention = retention
			return 7, nil
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodDelete, "/api/jobs")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 14*24*time.Hour, gotRetention)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.EqualValues(t, 7, resp["deleted_jobs"])
	assert.EqualValues(t, 14, resp["retention_days"])
}

func TestPurgeJobs_CustomDays(t *testing.T) {
	var gotRetention time.Duration
	st := &stubStore{
		purgeFn: func(ctx context.Context, retention time.Duration) (int64, error) {
			gotRetention = retention
			return 0, nil
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodDelete, "/api/jobs?older_than_days=30")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 30*24*time.Hour, gotRetention)

	rr = doRequest(h, http.MethodDelete, "/api/jobs?older_than_days=0")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(h, http.MethodDelete, "/api/jobs?older_than_days=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPurgeJobs_StoreError(t *testing.T) {
	st := &stubStore{
		purgeFn: func(ctx context.Context, retention time.Duration) (int64, error) {
			return 0, eris.New("sqlite: database locked")
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodDelete, "/api/jobs")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "error during cleanup")
}

func TestPanicInHandlerRecovered(t *testing.T) {
	st := &stubStore{
		queryFn: func(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error) {
			panic("query exploded")
		},
	}
	h := newTestServer(st, nil, nil)

	rr := doRequest(h, http.MethodGet, "/api/jobs")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCORSHeaders(t *testing.T) {
	h := newTestServer(&stubStore{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
