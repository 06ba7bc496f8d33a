package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestNilMetricsIsNoOp verifies every method tolerates a nil receiver.
func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.SetQueue(1, 2)
	m.AddPops(ModeHinted, 3)
	m.AddStaleHints(1)
	m.AddEvictions(4)
	m.FileIndexed(SourceCached, 10)
	m.DirectoryListed()
	m.Error("list")
	m.WatcherEvent("create")
	if m.Registry() != nil {
		t.Error("Registry() on nil Metrics should be nil")
	}
	if _, err := m.Serve(context.Background(), "127.0.0.1:0", nil); err == nil {
		t.Error("Serve() on nil Metrics should fail")
	}
}

// TestCounters verifies values land on the right labels.
func TestCounters(t *testing.T) {
	m := New()
	m.SetQueue(5, 8)
	m.AddPops(ModeHinted, 3)
	m.AddPops(ModeRandom, 2)
	m.AddPops(ModeRandom, 0)
	m.AddStaleHints(2)
	m.AddEvictions(7)
	m.FileIndexed(SourceExtracted, 100)
	m.FileIndexed(SourceCached, 50)
	m.FileIndexed(SourceCached, 50)
	m.DirectoryListed()
	m.Error("extract")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"queue_length", testutil.ToFloat64(m.QueueLength), 5},
		{"queue_backing_length", testutil.ToFloat64(m.QueueBackingLength), 8},
		{"pops hinted", testutil.ToFloat64(m.QueuePops.WithLabelValues(ModeHinted)), 3},
		{"pops random", testutil.ToFloat64(m.QueuePops.WithLabelValues(ModeRandom)), 2},
		{"stale_hints", testutil.ToFloat64(m.StaleHints), 2},
		{"evictions", testutil.ToFloat64(m.Evictions), 7},
		{"files extracted", testutil.ToFloat64(m.FilesIndexed.WithLabelValues(SourceExtracted)), 1},
		{"files cached", testutil.ToFloat64(m.FilesIndexed.WithLabelValues(SourceCached)), 2},
		{"bytes", testutil.ToFloat64(m.BytesIndexed), 200},
		{"directories", testutil.ToFloat64(m.DirectoriesListed), 1},
		{"errors extract", testutil.ToFloat64(m.Errors.WithLabelValues("extract")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

// TestRegistriesAreIndependent verifies two instances do not share state.
func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.DirectoryListed()
	if got := testutil.ToFloat64(b.DirectoriesListed); got != 0 {
		t.Errorf("second instance sees %v directories", got)
	}
	if n := testutil.CollectAndCount(a.QueuePops); n != 0 {
		t.Errorf("unused vec has %d series", n)
	}
}

// TestServe verifies /metrics is served and stops with the context.
func TestServe(t *testing.T) {
	m := New()
	m.FileIndexed(SourceExtracted, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := m.Serve(ctx, "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Serve() failed: %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if !strings.Contains(string(body), `indexdog_files_indexed_total{source="extracted"} 1`) {
		t.Errorf("metrics output missing files counter:\n%s", body)
	}
}

// TestServeBindError verifies bind failures are returned synchronously.
func TestServeBindError(t *testing.T) {
	m := New()
	if _, err := m.Serve(context.Background(), "256.0.0.1:bad", nil); err == nil {
		t.Error("Serve() on an invalid address should fail")
	}
}
