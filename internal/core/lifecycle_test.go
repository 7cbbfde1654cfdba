package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/manivault/mvcore/internal/data"
	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/sdk"
)

type testPlugin struct {
	sdk.BasePlugin
	initErr   error
	initPanic bool
	destroyed bool
	loaded    []*sdk.Dataset
}

func (p *testPlugin) Init(ctx context.Context) error {
	if p.initPanic {
		panic("boom")
	}
	return p.initErr
}

func (p *testPlugin) Destroy() { p.destroyed = true }

func (p *testPlugin) LoadData(datasets []*sdk.Dataset) error {
	p.loaded = datasets
	return nil
}

type testFactory struct {
	sdk.BaseFactory
	initialized int
	produced    []*testPlugin
	produceErr  error
	initErr     error
	configure   func(p *testPlugin)
}

func newTestFactory(kind string, typ sdk.PluginType, deps ...string) *testFactory {
	return &testFactory{BaseFactory: sdk.NewBaseFactory(sdk.Metadata{
		Kind:         kind,
		Version:      "1.0.0",
		Type:         typ,
		Dependencies: deps,
	})}
}

func (f *testFactory) Initialize(ctx context.Context, rt *sdk.Runtime) error {
	f.initialized++
	if f.initErr != nil {
		return f.initErr
	}
	return f.BaseFactory.Initialize(ctx, rt)
}

func (f *testFactory) Produce() (sdk.Plugin, error) {
	if f.produceErr != nil {
		return nil, f.produceErr
	}
	p := &testPlugin{BasePlugin: sdk.NewBasePlugin(f.Metadata(), f.Runtime())}
	if f.configure != nil {
		f.configure(p)
	}
	f.produced = append(f.produced, p)
	return p, nil
}

type fakeDocker struct {
	docked   []sdk.ViewPlugin
	areas    []DockArea
	undocked int
}

func (d *fakeDocker) Dock(view sdk.ViewPlugin, target sdk.Plugin, area DockArea) error {
	d.docked = append(d.docked, view)
	d.areas = append(d.areas, area)
	return nil
}

func (d *fakeDocker) Undock(view sdk.ViewPlugin) { d.undocked++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestLifecycle(t *testing.T, factories ...sdk.Factory) (*Lifecycle, *Registry, *events.Dispatcher, *logging.Reporter) {
	t.Helper()
	logger := testLogger()
	d := events.NewDispatcher(logger)
	rep := logging.NewReporter(logger, 100)
	reg := NewRegistry(nil, nil, d, rep, logger)
	for _, f := range factories {
		if err := reg.RegisterBuiltin(f); err != nil {
			t.Fatalf("Failed to register builtin: %v", err)
		}
	}
	if _, err := reg.LoadAll(context.Background(), ""); err != nil {
		t.Fatalf("Failed to load plugins: %v", err)
	}
	return NewLifecycle(reg, d, rep, logger), reg, d, rep
}

func TestRequestPluginCountsInstances(t *testing.T) {
	f := newTestFactory("Mean", sdk.TypeAnalysis)
	lc, reg, d, _ := newTestLifecycle(t, f)

	var added []events.PluginAdded
	events.On(d, func(e events.PluginAdded) { added = append(added, e) })

	ctx := context.Background()
	var plugins []sdk.Plugin
	for i := 0; i < 3; i++ {
		p, err := lc.RequestPlugin(ctx, "Mean", nil, nil)
		if err != nil {
			t.Fatalf("Failed to request plugin: %v", err)
		}
		plugins = append(plugins, p)
	}

	if reg.InstanceCount("Mean") != 3 {
		t.Errorf("Expected 3 instances, got %d", reg.InstanceCount("Mean"))
	}
	if len(added) != 3 || added[0].PluginID != plugins[0].ID() {
		t.Errorf("Expected 3 PluginAdded events in order, got %v", added)
	}

	if err := lc.DestroyPlugin(plugins[1]); err != nil {
		t.Fatalf("Failed to destroy plugin: %v", err)
	}
	if reg.InstanceCount("Mean") != 2 {
		t.Errorf("Expected 2 instances, got %d", reg.InstanceCount("Mean"))
	}
	if len(lc.PluginsByKind("Mean")) != reg.InstanceCount("Mean") {
		t.Errorf("Expected live instances to match the count")
	}
	if !f.produced[1].destroyed {
		t.Error("Expected Destroy to be called")
	}

	lc.DestroyAll()
	if reg.InstanceCount("Mean") != 0 || lc.Count() != 0 {
		t.Errorf("Expected no instances after DestroyAll, got %d", reg.InstanceCount("Mean"))
	}
}

func TestRequestPluginUnknownKind(t *testing.T) {
	lc, _, _, rep := newTestLifecycle(t)

	_, err := lc.RequestPlugin(context.Background(), "Nope", nil, nil)
	if !mverr.Is(err, mverr.CodeNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
	if len(rep.Messages(0)) == 0 {
		t.Error("Expected the failure to be reported")
	}
}

func TestRequestPluginBindsDatasets(t *testing.T) {
	analysis := newTestFactory("Mean", sdk.TypeAnalysis)
	loader := newTestFactory("Loader", sdk.TypeLoader)
	lc, _, _, _ := newTestLifecycle(t, analysis, loader)
	ctx := context.Background()

	in := data.NewDataset("points", "raw", "Points")
	out := data.NewDataset("means", "raw", "Points")

	p, err := lc.RequestPlugin(ctx, "Mean", []*sdk.Dataset{in}, []*sdk.Dataset{out})
	if err != nil {
		t.Fatalf("Failed to request plugin: %v", err)
	}
	tp := p.(*testPlugin)
	if tp.InputDataset() != in || tp.OutputDataset() != out {
		t.Error("Expected input and output datasets to be bound")
	}

	p, err = lc.RequestPlugin(ctx, "Loader", []*sdk.Dataset{in}, nil)
	if err != nil {
		t.Fatalf("Failed to request plugin: %v", err)
	}
	if p.(*testPlugin).InputDataset() != nil {
		t.Error("Expected loader plugins not to get datasets bound")
	}
}

func TestRequestPluginFailuresRegisterNothing(t *testing.T) {
	tests := []struct {
		name      string
		configure func(f *testFactory)
	}{
		{"produce error", func(f *testFactory) { f.produceErr = errors.New("no memory") }},
		{"init error", func(f *testFactory) {
			f.configure = func(p *testPlugin) { p.initErr = errors.New("bad config") }
		}},
		{"init panic", func(f *testFactory) {
			f.configure = func(p *testPlugin) { p.initPanic = true }
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFactory("Fragile", sdk.TypeAnalysis)
			tt.configure(f)
			lc, reg, d, _ := newTestLifecycle(t, f)

			added := 0
			events.On(d, func(events.PluginAdded) { added++ })

			_, err := lc.RequestPlugin(context.Background(), "Fragile", nil, nil)
			if !mverr.Is(err, mverr.CodeInternal) {
				t.Errorf("Expected INTERNAL, got %v", err)
			}
			if reg.InstanceCount("Fragile") != 0 || lc.Count() != 0 {
				t.Errorf("Expected nothing registered, got %d instances", reg.InstanceCount("Fragile"))
			}
			if added != 0 {
				t.Errorf("Expected no PluginAdded events, got %d", added)
			}
		})
	}
}

func TestDestroyPluginEventOrder(t *testing.T) {
	f := newTestFactory("Mean", sdk.TypeAnalysis)
	lc, reg, d, _ := newTestLifecycle(t, f)

	p, err := lc.RequestPlugin(context.Background(), "Mean", nil, nil)
	if err != nil {
		t.Fatalf("Failed to request plugin: %v", err)
	}

	var seen []string
	events.On(d, func(e events.PluginAboutToBeDestroyed) {
		if _, err := lc.Plugin(e.PluginID); err != nil {
			t.Error("Expected plugin to be registered during about-to-be-destroyed")
		}
		if reg.InstanceCount("Mean") != 1 {
			t.Error("Expected count to be unchanged during about-to-be-destroyed")
		}
		seen = append(seen, "about")
	})
	events.On(d, func(e events.PluginDestroyed) {
		if e.PluginID != p.ID() || e.Kind != "Mean" {
			t.Errorf("Expected destroyed event for %s, got %+v", p.ID(), e)
		}
		seen = append(seen, "destroyed")
	})

	if err := lc.DestroyPlugin(p); err != nil {
		t.Fatalf("Failed to destroy plugin: %v", err)
	}
	if len(seen) != 2 || seen[0] != "about" || seen[1] != "destroyed" {
		t.Errorf("Expected about then destroyed, got %v", seen)
	}

	if err := lc.DestroyPlugin(p); !mverr.Is(err, mverr.CodeNotFound) {
		t.Errorf("Expected NOT_FOUND on second destroy, got %v", err)
	}
	if err := lc.DestroyPlugin(nil); !mverr.Is(err, mverr.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for nil plugin, got %v", err)
	}
}

func TestRequestViewPlugin(t *testing.T) {
	view := newTestFactory("Scatterplot", sdk.TypeView)
	analysis := newTestFactory("Mean", sdk.TypeAnalysis)
	lc, _, _, _ := newTestLifecycle(t, view, analysis)
	docker := &fakeDocker{}
	lc.SetDocker(docker)
	ctx := context.Background()

	ds := data.NewDataset("points", "raw", "Points")
	v, err := lc.RequestViewPlugin(ctx, "Scatterplot", nil, DockLeft, []*sdk.Dataset{ds})
	if err != nil {
		t.Fatalf("Failed to request view: %v", err)
	}
	if len(docker.docked) != 1 || docker.areas[0] != DockLeft {
		t.Errorf("Expected view docked left, got %v", docker.areas)
	}
	if tp := v.(*testPlugin); len(tp.loaded) != 1 || tp.loaded[0] != ds {
		t.Error("Expected view to receive the dataset")
	}

	if _, err := lc.RequestViewPlugin(ctx, "Mean", nil, DockLeft, nil); !mverr.Is(err, mverr.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for non-view kind, got %v", err)
	}

	if err := lc.DestroyPlugin(v); err != nil {
		t.Fatalf("Failed to destroy view: %v", err)
	}
	if docker.undocked != 1 {
		t.Errorf("Expected view to be undocked, got %d", docker.undocked)
	}
}

func TestLoadAllFromManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "points", "name: Points\nversion: 1.0.0\ntype: data\n")
	writeManifest(t, dir, "mean", "name: Mean\nversion: 2.0.0\ntype: analysis\ndependencies: [Points]\n")
	writeManifest(t, dir, "orphan", "name: Orphan\nversion: 1.0.0\ntype: view\ndependencies: [Missing]\n")
	writeManifest(t, dir, "broken", "name: [\n")

	points := newTestFactory("Points", sdk.TypeData)
	mean := newTestFactory("Mean", sdk.TypeAnalysis, "Points")
	orphan := newTestFactory("Orphan", sdk.TypeView, "Missing")

	logger := testLogger()
	d := events.NewDispatcher(logger)
	reg := NewRegistry(nil, nil, d, nil, logger)
	for _, f := range []sdk.Factory{mean, orphan, points} {
		if err := reg.RegisterBuiltin(f); err != nil {
			t.Fatalf("Failed to register builtin: %v", err)
		}
	}

	var loaded []string
	events.On(d, func(e events.FactoryLoaded) { loaded = append(loaded, e.Kind) })

	report, err := reg.LoadAll(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	if len(loaded) != 2 || loaded[0] != "Points" || loaded[1] != "Mean" {
		t.Errorf("Expected Points then Mean, got %v", loaded)
	}
	if len(report.Unresolved) != 1 || report.Unresolved[0].Kind != "Orphan" {
		t.Errorf("Expected Orphan unresolved, got %v", report.Unresolved)
	}
	if orphan.initialized != 0 {
		t.Error("Expected unresolved factory not to be initialized")
	}
	if meta, _ := reg.Metadata("Mean"); meta.Version != "1.0.0" || meta.Dir == "" {
		t.Errorf("Expected factory version and manifest dir to be recorded, got %+v", meta)
	}

	// A second pass loads nothing new and initializes nothing twice
	report, err = reg.LoadAll(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(report.Loaded) != 0 || points.initialized != 1 {
		t.Errorf("Expected incremental reload to skip loaded kinds, got %v", report.Loaded)
	}

	if kinds := reg.KindsByTypes(sdk.TypeAnalysis); len(kinds) != 1 || kinds[0] != "Mean" {
		t.Errorf("Expected [Mean], got %v", kinds)
	}
}

func TestLoadAllInitializeFailureBlocksDependents(t *testing.T) {
	points := newTestFactory("Points", sdk.TypeData)
	points.initErr = errors.New("no data types")
	mean := newTestFactory("Mean", sdk.TypeAnalysis, "Points")

	_, reg, _, _ := newTestLifecycle(t, points, mean)

	if reg.IsLoaded("Points") || reg.IsLoaded("Mean") {
		t.Error("Expected neither plugin to be loaded")
	}
	if mean.initialized != 0 {
		t.Error("Expected dependent not to be initialized")
	}

	unresolved := reg.Unresolved()
	if len(unresolved) != 2 {
		t.Fatalf("Expected 2 unresolved plugins, got %v", unresolved)
	}
	if unresolved[0].Kind != "Mean" || unresolved[0].Reason != ReasonMissingDependency {
		t.Errorf("Expected Mean missing-dependency, got %+v", unresolved[0])
	}
	if unresolved[1].Kind != "Points" || unresolved[1].Reason != ReasonLoadFailed {
		t.Errorf("Expected Points load-failed, got %+v", unresolved[1])
	}
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	pluginDir := filepath.Join(dir, name)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("Failed to create plugin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
}
