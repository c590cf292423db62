package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/cache"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/evaluator"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/matcher"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
	"github.com/LuizLemos21/FileExplorer/pkg/metrics"
)

type response struct {
	Query      string             `json:"query"`
	Volume     string             `json:"volume"`
	Generation uint64             `json:"generation"`
	Returned   int                `json:"returned"`
	CacheHit   bool               `json:"cache_hit"`
	Results    []evaluator.Result `json:"results"`
}

func testState() *fsindex.State {
	s := fsindex.NewState()
	s.PublishVolume("C", fsindex.NewVolumeBuilder().
		Add("report.pdf", fsindex.File(`C:\x\report.pdf`)).
		Add("report_final.pdf", fsindex.File(`C:\y\report_final.pdf`)).
		Add("Reports", fsindex.Directory(`C:\Reports`)).
		Build())
	s.PublishVolume("/", fsindex.NewVolumeBuilder().
		Add("notes.txt", fsindex.File("/home/ana/notes.txt")).
		Add("notes.txt", fsindex.File("/srv/notes.txt")).
		Build())
	return s
}

func searchConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxResults:           100,
		Timeout:              time.Second,
		MaxConcurrentQueries: 4,
		Workers:              1,
	}
}

func newHandler(state *fsindex.State, qc *cache.QueryCache, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	return New(state, evaluator.New(state, nil, cfg), qc, nil, m, cfg)
}

func serve(t *testing.T, h *Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestVolumeFromPath(t *testing.T) {
	v, err := VolumeFromPath(`C:\Users\ana`)
	require.NoError(t, err)
	assert.Equal(t, "C", v)

	v, err = VolumeFromPath("/home/ana")
	require.NoError(t, err)
	assert.Equal(t, "/", v)

	v, err = VolumeFromPath("Ärger/x")
	require.NoError(t, err)
	assert.Equal(t, "Ä", v)

	_, err = VolumeFromPath("")
	assert.Error(t, err)
}

func TestSearchReturnsRankedResults(t *testing.T) {
	h := newHandler(testState(), nil, nil, searchConfig())

	rec := serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:%5CUsers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode(t, rec)
	assert.Equal(t, "report", resp.Query)
	assert.Equal(t, "C", resp.Volume)
	assert.Equal(t, 3, resp.Returned)
	assert.False(t, resp.CacheHit)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, evaluator.FileResult("report.pdf", `C:\x\report.pdf`), resp.Results[0])
}

func TestSearchFilters(t *testing.T) {
	h := newHandler(testState(), nil, nil, searchConfig())

	resp := decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:&ext=.pdf&dirs=false"))
	assert.Equal(t, 2, resp.Returned)
	for _, r := range resp.Results {
		assert.True(t, r.IsFile())
	}

	resp = decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:&files=0"))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, evaluator.DirectoryResult("Reports", `C:\Reports`), resp.Results[0])

	resp = decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:&limit=1"))
	assert.Len(t, resp.Results, 1)
}

func TestSearchEmptyResultsEncodeAsArray(t *testing.T) {
	h := newHandler(testState(), nil, nil, searchConfig())

	for _, target := range []string{
		"/api/v1/search?q=report&dir=Z:",
		"/api/v1/search?q=&dir=C:",
		"/api/v1/search?q=report&dir=C:&files=false&dirs=false",
	} {
		rec := serve(t, h, http.MethodGet, target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Contains(t, rec.Body.String(), `"results":[]`, target)
	}
}

func TestSearchRejectsBadParameters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHandler(testState(), nil, m, searchConfig())

	for _, target := range []string{
		"/api/v1/search?q=report",
		"/api/v1/search?q=report&dir=",
		"/api/v1/search?q=report&dir=C:&files=maybe",
		"/api/v1/search?q=report&dir=C:&dirs=2",
		"/api/v1/search?q=report&dir=C:&limit=0",
		"/api/v1/search?q=report&dir=C:&limit=ten",
	} {
		rec := serve(t, h, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), `"error"`, target)
	}
	assert.Equal(t, 6.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues(metrics.ResultBadRequest)))
}

func TestSearchLimitIsCapped(t *testing.T) {
	cfg := searchConfig()
	cfg.MaxResults = 2
	h := newHandler(testState(), nil, nil, cfg)

	resp := decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:&limit=50"))
	assert.Len(t, resp.Results, 2)

	resp = decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:"))
	assert.Len(t, resp.Results, 2)
}

func TestSearchScopeToDirectory(t *testing.T) {
	cfg := searchConfig()
	h := newHandler(testState(), nil, nil, cfg)
	resp := decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=notes&dir=/home"))
	assert.Len(t, resp.Results, 2)

	cfg.ScopeToDirectory = true
	h = newHandler(testState(), nil, nil, cfg)
	resp = decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=notes&dir=/home"))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "/home/ana/notes.txt", resp.Results[0].Path)
}

func TestSearchUsesCache(t *testing.T) {
	state := testState()
	qc := cache.New(nil, config.RedisConfig{CacheTTL: time.Minute}, 16, nil)
	h := newHandler(state, qc, nil, searchConfig())

	first := decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:"))
	second := decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:"))
	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)

	state.PublishVolume("C", fsindex.NewVolumeBuilder().
		Add("report.pdf", fsindex.File(`D:\moved\report.pdf`)).
		Build())
	third := decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:"))
	assert.False(t, third.CacheHit)
	assert.Greater(t, third.Generation, first.Generation)
	require.Len(t, third.Results, 1)
	assert.Equal(t, `D:\moved\report.pdf`, third.Results[0].Path)
}

func TestSharedScanSurvivesCancelledRequest(t *testing.T) {
	state := testState()
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := matcher.ScoreFunc(func(string, string) (int, bool) {
		once.Do(func() { close(started) })
		<-release
		return 100, true
	})
	cfg := searchConfig()
	qc := cache.New(nil, config.RedisConfig{CacheTTL: time.Minute}, 16, nil)
	h := New(state, evaluator.New(state, blocking, cfg), qc, nil, nil, cfg)

	target := "/api/v1/search?q=zzz&dir=C:"
	ctx, cancel := context.WithCancel(context.Background())
	first := httptest.NewRecorder()
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		h.Search(first, httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx))
	}()
	<-started

	second := httptest.NewRecorder()
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		h.Search(second, httptest.NewRequest(http.MethodGet, target, nil))
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-firstDone
	assert.Equal(t, http.StatusServiceUnavailable, first.Code)

	close(release)
	<-secondDone
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	resp := decode(t, second)
	assert.Len(t, resp.Results, 3)
	assert.False(t, resp.CacheHit)
}

func TestSearchTimeout(t *testing.T) {
	state := testState()
	slow := matcher.ScoreFunc(func(candidate, query string) (int, bool) {
		time.Sleep(50 * time.Millisecond)
		return 100, true
	})
	cfg := searchConfig()
	cfg.Timeout = 10 * time.Millisecond
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := New(state, evaluator.New(state, slow, cfg), nil, nil, m, cfg)

	rec := serve(t, h, http.MethodGet, "/api/v1/search?q=zzz&dir=C:")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues(metrics.ResultTimeout)))
}

func TestSearchCancelledRequest(t *testing.T) {
	h := newHandler(testState(), nil, nil, searchConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=report&dir=C:", nil).WithContext(ctx)
	h.Search(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHandler(testState(), nil, m, searchConfig())

	serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:")
	serve(t, h, http.MethodGet, "/api/v1/search?q=qqqq&dir=C:")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues(metrics.ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues(metrics.ResultZero)))
}

func TestVolumes(t *testing.T) {
	h := newHandler(testState(), nil, nil, searchConfig())

	rec := serve(t, h, http.MethodGet, "/api/v1/volumes")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Generation uint64       `json:"generation"`
		Volumes    []volumeInfo `json:"volumes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(2), body.Generation)
	assert.ElementsMatch(t, []volumeInfo{
		{ID: "C", Filenames: 3, Entries: 3},
		{ID: "/", Filenames: 1, Entries: 2},
	}, body.Volumes)
}

func TestCacheEndpoints(t *testing.T) {
	h := newHandler(testState(), nil, nil, searchConfig())
	rec := serve(t, h, http.MethodGet, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")
	rec = serve(t, h, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	qc := cache.New(nil, config.RedisConfig{CacheTTL: time.Minute}, 16, nil)
	h = newHandler(testState(), qc, nil, searchConfig())
	serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:")
	serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:")

	rec = serve(t, h, http.MethodGet, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hit_rate":"50.0%"`)

	rec = serve(t, h, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, serve(t, h, http.MethodGet, "/api/v1/search?q=report&dir=C:"))
	assert.False(t, resp.CacheHit)
}
