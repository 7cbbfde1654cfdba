package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/manivault/mvcore/internal/config"
	"github.com/manivault/mvcore/internal/data"
	"github.com/manivault/mvcore/internal/database"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/project"
	"github.com/manivault/mvcore/sdk"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.System.DataPath = dir
	cfg.System.PluginsDir = filepath.Join(dir, "plugins")
	cfg.Projects.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Projects.Directory = filepath.Join(dir, "projects")
	return cfg
}

func newTestCore(t *testing.T, withStore bool, factories ...sdk.Factory) *Core {
	t.Helper()
	cfg := testConfig(t)
	opts := Options{Builtins: factories, Logger: testLogger()}
	if withStore {
		db, err := database.OpenAndMigrate(context.Background(),
			database.Config{Path: cfg.Projects.DatabasePath}, testLogger())
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		opts.Projects = project.NewStore(db, cfg.Projects.Directory, testLogger())
	}

	c, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func addPoints(t *testing.T, c *Core) *data.Dataset {
	t.Helper()
	raw, err := data.NewRawData("points", "Points", 2, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("NewRawData failed: %v", err)
	}
	if err := c.Data.AddRawData(raw); err != nil {
		t.Fatalf("AddRawData failed: %v", err)
	}
	d, err := c.Data.CreateDataset("points", "Points", nil)
	if err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	return d
}

func TestCoreStartLoadsBuiltins(t *testing.T) {
	c := newTestCore(t, false,
		newTestFactory("Points", sdk.TypeData),
		newTestFactory("Mean", sdk.TypeAnalysis, "Points"),
		newTestFactory("Orphan", sdk.TypeAnalysis, "Missing"),
	)

	if !c.Registry.IsLoaded("Points") || !c.Registry.IsLoaded("Mean") {
		t.Error("Expected Points and Mean to be loaded")
	}
	unresolved := c.Registry.Unresolved()
	if len(unresolved) != 1 || unresolved[0].Kind != "Orphan" {
		t.Errorf("Expected Orphan to be unresolved, got %+v", unresolved)
	}

	if err := c.Start(context.Background()); !mverr.Is(err, mverr.CodeAlreadyInState) {
		t.Errorf("Expected ALREADY_IN_STATE on second start, got %v", err)
	}
}

func TestCoreDisabledPluginBlocksDependents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plugins = config.PluginsConfig{"Points": {Disabled: true}}

	c, err := New(cfg, Options{
		Logger:   testLogger(),
		Builtins: []sdk.Factory{newTestFactory("Points", sdk.TypeData), newTestFactory("Mean", sdk.TypeAnalysis, "Points")},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	if c.Registry.IsLoaded("Points") || c.Registry.IsLoaded("Mean") {
		t.Error("Expected neither the disabled plugin nor its dependent to load")
	}
	unresolved := c.Registry.Unresolved()
	if len(unresolved) != 1 || unresolved[0].Reason != ReasonMissingDependency {
		t.Errorf("Expected Mean to be missing a dependency, got %+v", unresolved)
	}
}

func TestCoreDoCancelled(t *testing.T) {
	c := newTestCore(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := c.Do(ctx, func() error {
		called = true
		return nil
	})
	if !mverr.Is(err, mverr.CodeAborted) {
		t.Errorf("Expected ABORTED, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run for a cancelled context")
	}
}

func TestCoreReset(t *testing.T) {
	c := newTestCore(t, false, newTestFactory("Mean", sdk.TypeAnalysis))
	ctx := context.Background()

	d := addPoints(t, c)
	if _, err := c.Lifecycle.RequestPlugin(ctx, "Mean", []*sdk.Dataset{d}, nil); err != nil {
		t.Fatalf("RequestPlugin failed: %v", err)
	}

	c.Reset()

	if c.Lifecycle.Count() != 0 {
		t.Errorf("Expected no plugins after reset, got %d", c.Lifecycle.Count())
	}
	if c.Data.Count() != 0 {
		t.Errorf("Expected no datasets after reset, got %d", c.Data.Count())
	}
	if d.Valid() {
		t.Error("Expected the dataset handle to be invalid after reset")
	}
}

func TestCoreProjectRoundTrip(t *testing.T) {
	mean := newTestFactory("Mean", sdk.TypeAnalysis)
	c := newTestCore(t, true, mean)
	ctx := context.Background()

	d := addPoints(t, c)
	if _, err := c.Lifecycle.RequestPlugin(ctx, "Mean", []*sdk.Dataset{d}, nil); err != nil {
		t.Fatalf("RequestPlugin failed: %v", err)
	}

	saved, err := c.SaveProject(ctx, "demo", "Demo", "")
	if err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	if saved.PluginCount != 1 || saved.DatasetCount != 1 {
		t.Errorf("Unexpected saved project: %+v", saved.Summary())
	}
	if c.CurrentProject() != "demo" {
		t.Errorf("Expected current project demo, got %q", c.CurrentProject())
	}

	if err := c.Do(ctx, func() error { c.Reset(); return nil }); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if _, err := c.LoadProject(ctx, "demo"); err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if c.Data.Count() != 1 {
		t.Errorf("Expected 1 dataset after load, got %d", c.Data.Count())
	}
	restored, err := c.Data.Dataset(d.ID)
	if err != nil {
		t.Fatalf("Expected dataset to keep its id: %v", err)
	}
	plugins := c.Lifecycle.PluginsByKind("Mean")
	if len(plugins) != 1 {
		t.Fatalf("Expected the Mean instance to be recreated, got %d", len(plugins))
	}
	if in := plugins[0].(*testPlugin).InputDataset(); in != restored {
		t.Error("Expected the recreated instance to be bound to the restored dataset")
	}

	again, err := c.SaveProject(ctx, "demo", "", "")
	if err != nil {
		t.Fatalf("Second save failed: %v", err)
	}
	if again.Title != "Demo" {
		t.Errorf("Expected title to be kept, got %q", again.Title)
	}

	if _, err := c.LoadProject(ctx, "missing"); !mverr.Is(err, mverr.CodeNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestCoreProjectsWithoutStore(t *testing.T) {
	c := newTestCore(t, false)
	if _, err := c.SaveProject(context.Background(), "demo", "", ""); !mverr.Is(err, mverr.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT without a store, got %v", err)
	}
}

func TestCoreConcurrentStart(t *testing.T) {
	c, err := New(testConfig(t), Options{Builtins: []sdk.Factory{newTestFactory("Points", sdk.TypeData)}, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Stop)

	const starters = 8
	errs := make([]error, starters)
	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Start(context.Background())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !mverr.Is(err, mverr.CodeAlreadyInState):
			t.Errorf("Expected ALREADY_IN_STATE, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("Expected exactly one Start to succeed, got %d", succeeded)
	}
	if !c.Started() {
		t.Error("Expected the core to be started")
	}

	c.Stop()
	if c.Started() {
		t.Error("Expected Stop to clear the started state")
	}
}
