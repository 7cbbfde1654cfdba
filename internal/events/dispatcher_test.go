package events

import (
	"log/slog"
	"os"
	"testing"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestDispatcher_OrderAndSynchronousDelivery(t *testing.T) {
	d := newTestDispatcher()

	var got []string
	d.Subscribe(func(e Event) { got = append(got, "first:"+e.Topic()) })
	d.Subscribe(func(e Event) { got = append(got, "second:"+e.Topic()) })

	d.Dispatch(DatasetRemoved{DatasetID: "a"})

	// Delivery is complete when Dispatch returns
	if len(got) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(got))
	}
	if got[0] != "first:"+TopicDatasetRemoved || got[1] != "second:"+TopicDatasetRemoved {
		t.Errorf("Unexpected delivery order: %v", got)
	}
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := newTestDispatcher()

	calls := 0
	unsubscribe := d.Subscribe(func(Event) { calls++ })

	d.Dispatch(PluginAdded{PluginID: "p"})
	unsubscribe()
	unsubscribe()
	d.Dispatch(PluginAdded{PluginID: "p"})

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if d.Count() != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", d.Count())
	}
}

func TestOn_FiltersByType(t *testing.T) {
	d := newTestDispatcher()

	var removed []string
	On(d, func(e DatasetRemoved) { removed = append(removed, e.DatasetID) })

	d.Dispatch(DatasetAdded{DatasetID: "x"})
	d.Dispatch(DatasetRemoved{DatasetID: "y", DataType: "Points"})

	if len(removed) != 1 || removed[0] != "y" {
		t.Errorf("Expected only removal of y, got %v", removed)
	}
}

func TestDispatcher_ReentrantDispatch(t *testing.T) {
	d := newTestDispatcher()

	var topics []string
	On(d, func(e DatasetAboutToBeRemoved) {
		d.Dispatch(HierarchyItemRemoved{DatasetID: e.DatasetID})
	})
	d.Subscribe(func(e Event) { topics = append(topics, e.Topic()) })

	d.Dispatch(DatasetAboutToBeRemoved{DatasetID: "a"})

	if len(topics) != 2 {
		t.Fatalf("Expected 2 topics, got %v", topics)
	}
	if topics[0] != TopicHierarchyItemRemoved {
		t.Errorf("Expected nested event delivered first, got %v", topics)
	}
}

func TestDispatcher_HandlerPanicIsContained(t *testing.T) {
	d := newTestDispatcher()

	reached := false
	d.Subscribe(func(Event) { panic("listener bug") })
	d.Subscribe(func(Event) { reached = true })

	d.Dispatch(ActionRemoved{ActionID: "a"})

	if !reached {
		t.Error("Expected later handlers to run after a panic")
	}
}

func TestDispatcher_NilSafe(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(DatasetAdded{})

	d = newTestDispatcher()
	d.Dispatch(nil)
}
