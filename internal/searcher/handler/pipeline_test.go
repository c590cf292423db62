package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LuizLemos21/FileExplorer/internal/analytics"
	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	"github.com/LuizLemos21/FileExplorer/internal/fsindex/snapshot"
	"github.com/LuizLemos21/FileExplorer/internal/refresh"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/cache"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/evaluator"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
	"github.com/LuizLemos21/FileExplorer/pkg/kafka"
	"github.com/LuizLemos21/FileExplorer/pkg/metrics"
	"github.com/LuizLemos21/FileExplorer/pkg/middleware"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []analytics.SearchEvent
}

func (p *capturePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range events {
		p.events = append(p.events, e.Value.(analytics.SearchEvent))
	}
	return nil
}

func get(t *testing.T, base string, params url.Values, requestID string) response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, base+"/api/v1/search?"+params.Encode(), nil)
	require.NoError(t, err)
	req.Header.Set(middleware.RequestIDHeader, requestID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, requestID, resp.Header.Get(middleware.RequestIDHeader))

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSnapshotToSearchPipeline(t *testing.T) {
	dir := t.TempDir()
	w := snapshot.NewWriter(dir)
	_, err := w.Write("C", fsindex.NewVolumeBuilder().
		Add("report.pdf", fsindex.File(`C:\x\report.pdf`)).
		Add("report_final.pdf", fsindex.File(`C:\y\report_final.pdf`)).
		Add("Reports", fsindex.Directory(`C:\Reports`)).
		Build())
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	cfg := searchConfig()
	state := fsindex.NewState()
	refresher := refresh.New(state, config.IndexConfig{ReloadAttempts: 1}, m)
	_, err = refresher.LoadAll(dir)
	require.NoError(t, err)

	pub := &capturePublisher{}
	collector := analytics.NewCollector(pub, 64, m)
	collector.Start(context.Background())

	qc := cache.New(nil, config.RedisConfig{CacheTTL: time.Minute}, 64, m)
	h := New(state, evaluator.New(state, nil, cfg), qc, collector, m, cfg)
	mux := http.NewServeMux()
	h.Register(mux)
	var chain http.Handler = mux
	chain = middleware.Timeout(5 * time.Second)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	srv := httptest.NewServer(chain)
	defer srv.Close()

	params := url.Values{"q": {"report"}, "dir": {`C:\Users`}}
	first := get(t, srv.URL, params, "req-1")
	require.Len(t, first.Results, 3)
	assert.Equal(t, "report.pdf", first.Results[0].Name)
	assert.False(t, first.CacheHit)

	second := get(t, srv.URL, params, "req-2")
	assert.True(t, second.CacheHit)

	// A new snapshot for C replaces the volume and bypasses cached results.
	name, err := w.Write("C", fsindex.NewVolumeBuilder().
		Add("report.pdf", fsindex.File(`C:\archive\report.pdf`)).
		Build())
	require.NoError(t, err)
	_, err = refresher.Apply(context.Background(), refresh.SnapshotEvent{
		VolumeID: "C",
		Path:     filepath.Join(dir, name),
	})
	require.NoError(t, err)

	third := get(t, srv.URL, params, "req-3")
	assert.False(t, third.CacheHit)
	require.Len(t, third.Results, 1)
	assert.Equal(t, `C:\archive\report.pdf`, third.Results[0].Path)

	collector.Close()
	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 3)
	assert.Equal(t, "req-1", pub.events[0].RequestID)
	assert.Equal(t, analytics.EventCacheMiss, pub.events[0].Type)
	assert.Equal(t, 2, pub.events[0].Files)
	assert.Equal(t, 1, pub.events[0].Directories)
	assert.Equal(t, analytics.EventCacheHit, pub.events[1].Type)
	assert.Equal(t, third.Generation, pub.events[2].Generation)
}
