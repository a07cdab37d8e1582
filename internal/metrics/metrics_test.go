package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/sift/internal/cache"
	"github.com/standardbeagle/sift/internal/config"
	"github.com/standardbeagle/sift/internal/fileservice"
	"github.com/standardbeagle/sift/internal/matcher"
	"github.com/standardbeagle/sift/internal/search"
	"github.com/standardbeagle/sift/internal/types"
)

// value returns the value of the metric with the given name and labels.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestCollector_Observer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewWithRegistry(reg)

	c.RunStarted(cache.OriginNarrowed, types.ModeText)
	c.FileScanned(nil)
	c.FileScanned(nil)
	c.FileScanned(errors.New("boom"))
	assert.Equal(t, 1.0, value(t, reg, "sift_active_runs", nil))

	c.RunFinished(search.StateDone, 20*time.Millisecond)

	assert.Equal(t, 1.0, value(t, reg, "sift_runs_started_total", map[string]string{"origin": "narrowed", "mode": "text"}))
	assert.Equal(t, 2.0, value(t, reg, "sift_files_scanned_total", map[string]string{"status": "ok"}))
	assert.Equal(t, 1.0, value(t, reg, "sift_files_scanned_total", map[string]string{"status": "error"}))
	assert.Equal(t, 1.0, value(t, reg, "sift_runs_finished_total", map[string]string{"state": "done"}))
	assert.Equal(t, 1.0, value(t, reg, "sift_run_duration_seconds", map[string]string{"state": "done"}))
	assert.Equal(t, 0.0, value(t, reg, "sift_active_runs", nil))
}

func TestCollector_WatchesOrchestrator(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha beta\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("gamma\n"), 0o644))

	reg := prometheus.NewRegistry()
	c := NewWithRegistry(reg)
	svc := fileservice.NewService(root)
	m := matcher.New()
	defer m.Close()
	o := search.New(search.Deps{
		Enumerator: fileservice.NewScanner(config.Default(root)),
		Reader:     svc,
		Matcher:    m,
		Refiner:    matcher.NewRefiner(m),
	}, search.WithObserver(c))
	defer o.Close()
	c.WatchCache(o)
	c.WatchRegexCache(m.RegexStats)

	for _, q := range []types.QueryParams{
		{FindText: "al", Mode: types.ModeRegex},
		{FindText: "alp", Mode: types.ModeRegex},
	} {
		r, err := o.Search(context.Background(), q)
		require.NoError(t, err)
		for range r.Events() {
		}
	}

	assert.Equal(t, 1.0, value(t, reg, "sift_runs_started_total", map[string]string{"origin": "fresh", "mode": "regex"}))
	assert.Equal(t, 1.0, value(t, reg, "sift_runs_started_total", map[string]string{"origin": "narrowed", "mode": "regex"}))
	assert.Equal(t, 2.0, value(t, reg, "sift_files_scanned_total", map[string]string{"status": "ok"}))
	assert.Equal(t, 2.0, value(t, reg, "sift_cache_nodes", nil))
	assert.Equal(t, 2.0, value(t, reg, "sift_cache_results", nil))
	assert.Positive(t, value(t, reg, "sift_regex_cache_misses_total", nil))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sift_runs_finished_total")
}
