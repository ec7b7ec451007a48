package observability

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	obs := NewPromObs()

	obs.IncCounter("pvsnap_pvs_saved_total", 5)
	if got := testutil.ToFloat64(obs.counters["pvsnap_pvs_saved_total"]); got != 5 {
		t.Fatalf("expected saved counter 5, got %f", got)
	}

	obs.SetGauge("pvsnap_operation_pvs", 42)
	if got := testutil.ToFloat64(obs.gauges["pvsnap_operation_pvs"]); got != 42 {
		t.Fatalf("expected pvs gauge 42, got %f", got)
	}

	obs.ObserveLatency("pvsnap_pv_connect_seconds", 0.5)
	hCollector := obs.histos["pvsnap_pv_connect_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected connect histogram to record 1 sample, got %d", samples)
	}

	// unknown names are ignored
	obs.IncCounter("nope", 1)
	obs.SetGauge("nope", 1)
	obs.ObserveLatency("nope", 1)
}

func TestPromObsRecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(WithRegistry(reg))

	start := time.Unix(100, 0)
	obs.RecordOperation(&domain.Report{
		Kind:     domain.OpRestore,
		Started:  start,
		Finished: start.Add(2 * time.Second),
		Err:      "incomplete restore",
		Results: []domain.PVResult{
			{Name: "a", Status: domain.StatusOK},
			{Name: "b", Status: domain.StatusOK},
			{Name: "c", Status: domain.StatusTimeout},
			{Name: "d", Status: domain.StatusEqual},
		},
	})

	if got := testutil.ToFloat64(obs.operations.WithLabelValues("restore")); got != 1 {
		t.Fatalf("expected 1 restore operation, got %f", got)
	}
	if got := testutil.ToFloat64(obs.opFailures.WithLabelValues("restore")); got != 1 {
		t.Fatalf("expected 1 failed restore, got %f", got)
	}
	if got := testutil.ToFloat64(obs.pvFailures.WithLabelValues("restore", "timeout")); got != 1 {
		t.Fatalf("expected 1 timeout, got %f", got)
	}
	if got := testutil.ToFloat64(obs.counters["pvsnap_pvs_restored_total"]); got != 2 {
		t.Fatalf("expected 2 restored pvs, got %f", got)
	}

	obs.RecordOperation(&domain.Report{
		Kind:    domain.OpSave,
		Err:     "incomplete connection",
		Results: []domain.PVResult{{Name: "a", Status: domain.StatusOK}},
	})
	if got := testutil.ToFloat64(obs.counters["pvsnap_pvs_saved_total"]); got != 0 {
		t.Fatalf("failed save must not count saved pvs, got %f", got)
	}
}

func TestPromObsWriteTextfile(t *testing.T) {
	obs := NewPromObs()
	obs.IncCounter("pvsnap_pvs_saved_total", 3)

	path := filepath.Join(t.TempDir(), "pvsnap.prom")
	if err := obs.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "pvsnap_pvs_saved_total 3") {
		t.Fatalf("textfile missing counter:\n%s", data)
	}
}

func TestPromObsLogging(t *testing.T) {
	var buf bytes.Buffer
	obs := NewPromObs(WithLogger(NewLogger("pvsnap", "debug", true, &buf)))

	obs.LogInfo("save_complete", ports.Field{Key: "pvs", Value: 2})
	obs.LogError("save_failed", errors.New("boom"))
	obs.LogCritical("journal_append_failed", errors.New("disk full"))

	out := buf.String()
	for _, want := range []string{`"@message":"save_complete"`, `"pvs":2`, `"error":"boom"`, `"critical":true`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	l := NewLogger("x", "verbose", false, &bytes.Buffer{})
	if !l.IsInfo() || l.IsDebug() {
		t.Fatalf("expected info level fallback")
	}
}
