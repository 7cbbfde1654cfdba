package metrics

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAttachCountsEvents(t *testing.T) {
	m := New("")
	d := events.NewDispatcher(testLogger())
	rep := logging.NewReporter(testLogger(), 10)
	detach := m.Attach(d, rep)

	d.Dispatch(events.PluginAdded{PluginID: "a", Kind: "Mean"})
	d.Dispatch(events.PluginAdded{PluginID: "b", Kind: "Mean"})
	d.Dispatch(events.PluginDestroyed{PluginID: "a", Kind: "Mean"})
	d.Dispatch(events.PluginUnresolved{Kind: "Orphan", Reason: "missing-dependency"})
	rep.Report("test", mverr.New(mverr.CodeNotFound, "gone"))

	if v := testutil.ToFloat64(m.pluginsCreated.WithLabelValues("Mean")); v != 2 {
		t.Errorf("Expected 2 created, got %v", v)
	}
	if v := testutil.ToFloat64(m.pluginsDestroyed.WithLabelValues("Mean")); v != 1 {
		t.Errorf("Expected 1 destroyed, got %v", v)
	}
	if v := testutil.ToFloat64(m.unresolvedTotal.WithLabelValues("missing-dependency")); v != 1 {
		t.Errorf("Expected 1 unresolved, got %v", v)
	}
	if v := testutil.ToFloat64(m.eventsTotal.WithLabelValues(events.TopicPluginAdded)); v != 2 {
		t.Errorf("Expected 2 plugin added events, got %v", v)
	}
	if v := testutil.ToFloat64(m.messagesTotal.WithLabelValues(string(logging.SeverityError))); v != 1 {
		t.Errorf("Expected 1 error message, got %v", v)
	}

	detach()
	d.Dispatch(events.PluginAdded{PluginID: "c", Kind: "Mean"})
	if v := testutil.ToFloat64(m.pluginsCreated.WithLabelValues("Mean")); v != 2 {
		t.Errorf("Expected no counting after detach, got %v", v)
	}
}

func TestObserve(t *testing.T) {
	m := New("test")

	m.Observe(Snapshot{Datasets: 3, PublicActions: 1, Factories: 4, Instances: map[string]int{"Mean": 2, "Writer": 1}})
	if v := testutil.ToFloat64(m.datasetsGauge); v != 3 {
		t.Errorf("Expected 3 datasets, got %v", v)
	}
	if n := testutil.CollectAndCount(m.instancesGauge); n != 2 {
		t.Errorf("Expected 2 instance series, got %d", n)
	}

	m.Observe(Snapshot{Instances: map[string]int{"Mean": 1}})
	if n := testutil.CollectAndCount(m.instancesGauge); n != 1 {
		t.Errorf("Expected the Writer series to be dropped, got %d series", n)
	}
	if v := testutil.ToFloat64(m.instancesGauge.WithLabelValues("Mean")); v != 1 {
		t.Errorf("Expected 1 Mean instance, got %v", v)
	}
}

func TestHandler(t *testing.T) {
	m := New("")
	calls := 0
	h := m.Handler(func() (Snapshot, error) {
		calls++
		return Snapshot{Datasets: 7}, nil
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if calls != 1 {
		t.Errorf("Expected sample to be called once, got %d", calls)
	}
	if !strings.Contains(rec.Body.String(), "manivault_datasets 7") {
		t.Errorf("Expected datasets gauge in output, got:\n%s", rec.Body.String())
	}

	failing := m.Handler(func() (Snapshot, error) { return Snapshot{}, errors.New("busy") })
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "manivault_datasets 7") {
		t.Error("Expected gauges to keep their last value when sampling fails")
	}
}
