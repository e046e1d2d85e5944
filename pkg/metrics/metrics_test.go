package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordDropped(t *testing.T) {
	c := NewCollector("tod_test")

	c.RecordDropped("speed_bounds", 3)
	c.RecordDropped("speed_bounds", 2)
	c.RecordDropped("excluded", 0)

	if got := testutil.ToFloat64(c.ObservationsDroppedTotal.WithLabelValues("speed_bounds")); got != 5 {
		t.Errorf("speed_bounds dropped = %v, want 5", got)
	}
	if got := testutil.CollectAndCount(c.ObservationsDroppedTotal); got != 1 {
		t.Errorf("dropped series = %d, want 1 (zero counts are not recorded)", got)
	}
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// Two collectors with the same namespace must not panic on duplicate registration.
	a := NewCollector("tod_test")
	b := NewCollector("tod_test")

	a.WindowsAggregatedTotal.Inc()

	if got := testutil.ToFloat64(b.WindowsAggregatedTotal); got != 0 {
		t.Errorf("second collector saw %v windows, want 0", got)
	}
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector("tod_test")
	c.RecordRun("success")
	c.WindowsAggregatedTotal.Add(18)

	path := filepath.Join(t.TempDir(), "tod.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}

	text := string(content)
	if !strings.Contains(text, "tod_test_windows_aggregated_total 18") {
		t.Errorf("textfile missing windows counter:\n%s", text)
	}
	if !strings.Contains(text, `tod_test_runs_total{outcome="success"} 1`) {
		t.Errorf("textfile missing runs counter:\n%s", text)
	}
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := NewCollector("tod_test")

	timer := c.StageTimer("aggregate")
	if d := timer.ObserveDuration(); d < 0 {
		t.Errorf("duration = %v, want >= 0", d)
	}

	if got := testutil.CollectAndCount(c.StageDuration); got != 1 {
		t.Errorf("stage series = %d, want 1", got)
	}
}
