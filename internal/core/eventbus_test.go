package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/manivault/mvcore/internal/events"
)

func TestEventBusMirrorsDispatcher(t *testing.T) {
	logger := testLogger()
	bus, err := NewEventBus(EventBusConfig{Port: DynamicPortStart}, logger)
	if err != nil {
		t.Fatalf("Failed to start event bus: %v", err)
	}
	defer bus.Stop()

	d := events.NewDispatcher(logger)
	stop := bus.Mirror(d)
	defer stop()

	received := make(chan Envelope, 4)
	if _, err := bus.SubscribeEvents("data", func(env Envelope) { received <- env }); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if err := bus.HealthCheck(context.Background()); err != nil {
		t.Fatalf("Health check failed: %v", err)
	}

	d.Dispatch(events.PluginAdded{PluginID: "p1", Kind: "Mean"})
	d.Dispatch(events.DatasetRemoved{DatasetID: "d1", DataType: "Points"})

	select {
	case env := <-received:
		if env.Topic != events.TopicDatasetRemoved {
			t.Errorf("Expected topic %s, got %s", events.TopicDatasetRemoved, env.Topic)
		}
		var payload events.DatasetRemoved
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if payload.DatasetID != "d1" {
			t.Errorf("Expected dataset d1, got %s", payload.DatasetID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for mirrored event")
	}

	select {
	case env := <-received:
		t.Errorf("Expected plugin events to be filtered out, got %s", env.Topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPortManagerReserve(t *testing.T) {
	pm := NewPortManager("")

	port, err := pm.ReserveOrFind(DynamicPortStart+50, "api")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	if !pm.Reserve(port, "api") {
		t.Error("Expected the same service to keep its port")
	}
	if pm.Reserve(port, "other") {
		t.Error("Expected another service to be refused the port")
	}

	other, err := pm.ReserveOrFind(port, "other")
	if err != nil {
		t.Fatalf("Failed to find alternative port: %v", err)
	}
	if other == port {
		t.Errorf("Expected a different port than %d", port)
	}

	pm.Release(port)
	if _, ok := pm.Allocated()[port]; ok {
		t.Error("Expected port to be released")
	}
}
