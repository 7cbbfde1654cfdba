package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manivault/mvcore/internal/actions"
	"github.com/manivault/mvcore/internal/config"
	"github.com/manivault/mvcore/internal/core"
	"github.com/manivault/mvcore/internal/data"
	"github.com/manivault/mvcore/internal/database"
	"github.com/manivault/mvcore/internal/metrics"
	"github.com/manivault/mvcore/internal/project"
	"github.com/manivault/mvcore/sdk"
)

// meanFactory produces analysis instances that count their computations
type meanFactory struct {
	sdk.BaseFactory
}

type meanPlugin struct {
	sdk.BasePlugin
	computed int
}

func (p *meanPlugin) Compute(ctx context.Context) error {
	p.computed++
	return nil
}

func (f *meanFactory) Produce() (sdk.Plugin, error) {
	return &meanPlugin{BasePlugin: sdk.NewBasePlugin(f.Metadata(), f.Runtime())}, nil
}

// loaderFactory produces loaders that create one dataset per source
type loaderFactory struct {
	sdk.BaseFactory
}

type loaderPlugin struct {
	sdk.BasePlugin
}

func (p *loaderPlugin) Load(ctx context.Context, source string) ([]*sdk.Dataset, error) {
	dm := p.Runtime().Data()
	raw, err := data.NewRawData(source, "Points", 2, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		return nil, err
	}
	if err := dm.AddRawData(raw); err != nil {
		return nil, err
	}
	d, err := dm.CreateDataset(source, source, nil)
	if err != nil {
		return nil, err
	}
	return []*sdk.Dataset{d}, nil
}

func (f *loaderFactory) Produce() (sdk.Plugin, error) {
	return &loaderPlugin{BasePlugin: sdk.NewBasePlugin(f.Metadata(), f.Runtime())}, nil
}

func metadata(kind string, typ sdk.PluginType, deps ...string) sdk.Metadata {
	return sdk.Metadata{Kind: kind, Version: "1.0.0", Type: typ, Dependencies: deps}
}

type testServer struct {
	core    *core.Core
	handler http.Handler
}

func newTestServer(t *testing.T, withStore bool, extra ...sdk.Factory) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.System.DataPath = dir
	cfg.System.PluginsDir = filepath.Join(dir, "plugins")
	cfg.Projects.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Projects.Directory = filepath.Join(dir, "projects")

	builtins := append([]sdk.Factory{
		&meanFactory{BaseFactory: sdk.NewBaseFactory(metadata("Mean", sdk.TypeAnalysis))},
		&loaderFactory{BaseFactory: sdk.NewBaseFactory(metadata("Loader", sdk.TypeLoader))},
	}, extra...)

	opts := core.Options{Builtins: builtins, Logger: quietLogger()}
	if withStore {
		db, err := database.OpenAndMigrate(context.Background(),
			database.Config{Path: cfg.Projects.DatabasePath}, quietLogger())
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		opts.Projects = project.NewStore(db, cfg.Projects.Directory, quietLogger())
	}

	c, err := core.New(cfg, opts)
	if err != nil {
		t.Fatalf("Failed to create core: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start core: %v", err)
	}
	t.Cleanup(c.Stop)

	m := metrics.New("")
	t.Cleanup(m.Attach(c.Events, nil))

	srv := NewServer(c, NewHub(nil, quietLogger()), m)
	return &testServer{core: c, handler: srv.Router()}
}

// request sends body as JSON and decodes the response envelope
func (ts *testServer) request(t *testing.T, method, path string, body interface{}) (int, Response) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	var resp Response
	if w.Code != http.StatusNoContent && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("%s %s: failed to decode response: %v", method, path, err)
		}
	}
	return w.Code, resp
}

// dataAs re-decodes the envelope's data into v
func dataAs(t *testing.T, resp Response, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("Failed to marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
}

func (ts *testServer) addDataset(t *testing.T, name string) *data.Dataset {
	t.Helper()
	var d *data.Dataset
	err := ts.core.Do(context.Background(), func() error {
		raw, err := data.NewRawData(name, "Points", 2, []float32{1, 2, 3, 4})
		if err != nil {
			return err
		}
		if err := ts.core.Data.AddRawData(raw); err != nil {
			return err
		}
		d, err = ts.core.Data.CreateDataset(name, name, nil)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to add dataset: %v", err)
	}
	return d
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, false)

	status, resp := ts.request(t, "GET", "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var health map[string]interface{}
	dataAs(t, resp, &health)
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", health["status"])
	}
	if health["plugins"] != float64(2) {
		t.Errorf("Expected 2 plugins, got %v", health["plugins"])
	}
}

func TestServer_PluginLifecycle(t *testing.T) {
	ts := newTestServer(t, false)
	ds := ts.addDataset(t, "points")

	status, resp := ts.request(t, "GET", "/api/v1/plugins/factories", nil)
	if status != http.StatusOK || resp.Meta == nil || resp.Meta.Total != 2 {
		t.Fatalf("Expected 2 factories, got %d %+v", status, resp.Meta)
	}

	status, resp = ts.request(t, "POST", "/api/v1/plugins", PluginRequest{Kind: "Mean", Inputs: []string{ds.ID}})
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %+v", status, resp.Error)
	}
	var created PluginView
	dataAs(t, resp, &created)
	if created.Kind != "Mean" || created.Input != ds.ID {
		t.Errorf("Expected a Mean plugin bound to %s, got %+v", ds.ID, created)
	}

	status, resp = ts.request(t, "GET", "/api/v1/plugins?type=analysis", nil)
	if status != http.StatusOK || resp.Meta.Total != 1 {
		t.Errorf("Expected 1 analysis plugin, got %d %+v", status, resp.Meta)
	}

	status, _ = ts.request(t, "POST", "/api/v1/plugins/"+created.ID+"/compute", nil)
	if status != http.StatusOK {
		t.Errorf("Expected compute to succeed, got %d", status)
	}
	var computed int
	ts.core.Do(context.Background(), func() error {
		p, _ := ts.core.Lifecycle.Plugin(created.ID)
		computed = p.(*meanPlugin).computed
		return nil
	})
	if computed != 1 {
		t.Errorf("Expected one computation, got %d", computed)
	}

	status, _ = ts.request(t, "DELETE", "/api/v1/plugins/"+created.ID, nil)
	if status != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", status)
	}
	status, resp = ts.request(t, "GET", "/api/v1/plugins/"+created.ID, nil)
	if status != http.StatusNotFound || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("Expected NOT_FOUND after destroy, got %d %+v", status, resp.Error)
	}
}

func TestServer_RequestPluginErrors(t *testing.T) {
	ts := newTestServer(t, false)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing kind", PluginRequest{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown kind", PluginRequest{Kind: "Nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown dataset", PluginRequest{Kind: "Mean", Inputs: []string{"missing"}}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown field", map[string]string{"kind": "Mean", "extra": "x"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := ts.request(t, "POST", "/api/v1/plugins", tt.body)
			if status != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, status)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("Expected code %s, got %+v", tt.code, resp.Error)
			}
		})
	}
}

func TestServer_Unresolved(t *testing.T) {
	orphan := &meanFactory{BaseFactory: sdk.NewBaseFactory(metadata("Orphan", sdk.TypeAnalysis, "Missing"))}
	ts := newTestServer(t, false, orphan)

	status, resp := ts.request(t, "GET", "/api/v1/plugins/unresolved", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var unresolved []core.Unresolved
	dataAs(t, resp, &unresolved)
	if len(unresolved) != 1 || unresolved[0].Kind != "Orphan" || unresolved[0].Reason != core.ReasonMissingDependency {
		t.Errorf("Expected Orphan missing a dependency, got %+v", unresolved)
	}

	_, resp = ts.request(t, "GET", "/health", nil)
	var health map[string]interface{}
	dataAs(t, resp, &health)
	if health["status"] != "degraded" {
		t.Errorf("Expected degraded health with unresolved plugins, got %v", health["status"])
	}
}

func TestServer_LoaderAndDatasets(t *testing.T) {
	ts := newTestServer(t, false)

	_, resp := ts.request(t, "POST", "/api/v1/plugins", PluginRequest{Kind: "Loader"})
	var loader PluginView
	dataAs(t, resp, &loader)

	status, resp := ts.request(t, "POST", "/api/v1/plugins/"+loader.ID+"/load", LoadRequest{Source: "iris"})
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %+v", status, resp.Error)
	}
	var loaded []DatasetView
	dataAs(t, resp, &loaded)
	if len(loaded) != 1 || loaded[0].Name != "iris" {
		t.Fatalf("Expected one iris dataset, got %+v", loaded)
	}

	status, _ = ts.request(t, "POST", "/api/v1/plugins/"+loader.ID+"/compute", nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected compute on a loader to be rejected, got %d", status)
	}

	_, resp = ts.request(t, "GET", "/api/v1/datasets", nil)
	if resp.Meta.Total != 1 {
		t.Errorf("Expected 1 dataset, got %d", resp.Meta.Total)
	}

	_, resp = ts.request(t, "GET", "/api/v1/datasets/"+loaded[0].ID, nil)
	var detail DatasetDetail
	dataAs(t, resp, &detail)
	if detail.NumPoints != 3 || detail.NumDimensions != 2 || !detail.Full {
		t.Errorf("Expected a full 3x2 dataset, got %+v", detail)
	}

	_, resp = ts.request(t, "GET", "/api/v1/hierarchy", nil)
	var tree []TreeNode
	dataAs(t, resp, &tree)
	if len(tree) != 1 || tree[0].DatasetID != loaded[0].ID || tree[0].Name != "iris" {
		t.Errorf("Expected iris at the top of the hierarchy, got %+v", tree)
	}

	status, _ = ts.request(t, "DELETE", "/api/v1/datasets/"+loaded[0].ID, nil)
	if status != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", status)
	}
	status, _ = ts.request(t, "GET", "/api/v1/datasets/"+loaded[0].ID, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404 after removal, got %d", status)
	}
}

func TestServer_Actions(t *testing.T) {
	ts := newTestServer(t, false)

	first := actions.NewDecimalAction(nil, "Opacity", 0, 1, 0.5, 2)
	second := actions.NewDecimalAction(nil, "Opacity", 0, 1, 0.2, 2)
	ts.core.Do(context.Background(), func() error {
		ts.core.Actions.AddAction(first)
		return ts.core.Actions.AddAction(second)
	})

	status, resp := ts.request(t, "POST", "/api/v1/actions/"+first.ID()+"/publish", PublishRequest{Name: "Shared opacity"})
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %+v", status, resp.Error)
	}
	var public ActionView
	dataAs(t, resp, &public)
	if !public.Public || public.Title != "Shared opacity" {
		t.Errorf("Expected a public action named Shared opacity, got %+v", public)
	}

	status, _ = ts.request(t, "POST", "/api/v1/actions/"+first.ID()+"/publish", PublishRequest{Name: "Again"})
	if status != http.StatusConflict {
		t.Errorf("Expected 409 when publishing twice, got %d", status)
	}

	_, resp = ts.request(t, "GET", "/api/v1/actions/public", nil)
	if resp.Meta.Total != 1 {
		t.Errorf("Expected 1 public action, got %d", resp.Meta.Total)
	}

	status, resp = ts.request(t, "POST", "/api/v1/actions/"+second.ID()+"/connect", ConnectRequest{PublicActionID: public.ID})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %+v", status, resp.Error)
	}
	var connected ActionView
	dataAs(t, resp, &connected)
	if connected.PublicActionID != public.ID {
		t.Errorf("Expected connection to %s, got %+v", public.ID, connected)
	}

	status, _ = ts.request(t, "PUT", "/api/v1/actions/"+public.ID+"/value", ValueRequest{Value: 0.8})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if first.Value() != 0.8 || second.Value() != 0.8 {
		t.Errorf("Expected value to fan out to both actions, got %v and %v", first.Value(), second.Value())
	}

	status, _ = ts.request(t, "POST", "/api/v1/actions/"+second.ID()+"/disconnect", DisconnectRequest{})
	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if second.IsConnected() {
		t.Error("Expected second action to be disconnected")
	}

	status, _ = ts.request(t, "PUT", "/api/v1/actions/"+first.ID()+"/value", ValueRequest{Value: "high"})
	if status != http.StatusBadRequest {
		t.Errorf("Expected a string value to be rejected, got %d", status)
	}
}

func TestServer_ProjectsWithoutStore(t *testing.T) {
	ts := newTestServer(t, false)

	status, resp := ts.request(t, "GET", "/api/v1/projects", nil)
	if status != http.StatusBadRequest || resp.Error.Code != "INVALID_ARGUMENT" {
		t.Errorf("Expected INVALID_ARGUMENT without a store, got %d %+v", status, resp.Error)
	}
}

func TestServer_Projects(t *testing.T) {
	ts := newTestServer(t, true)
	ts.addDataset(t, "points")

	status, resp := ts.request(t, "POST", "/api/v1/projects", ProjectRequest{Name: "iris", Title: "Iris"})
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %+v", status, resp.Error)
	}
	var summary project.Summary
	dataAs(t, resp, &summary)
	if summary.Name != "iris" || summary.DatasetCount != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	status, _ = ts.request(t, "POST", "/api/v1/projects", ProjectRequest{Name: "../etc"})
	if status != http.StatusBadRequest {
		t.Errorf("Expected invalid name to be rejected, got %d", status)
	}

	_, resp = ts.request(t, "GET", "/api/v1/projects", nil)
	if resp.Meta.Total != 1 {
		t.Errorf("Expected 1 project, got %d", resp.Meta.Total)
	}

	ts.core.Do(context.Background(), func() error {
		ts.core.Reset()
		return nil
	})

	status, _ = ts.request(t, "POST", "/api/v1/projects/iris/load", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	_, resp = ts.request(t, "GET", "/api/v1/datasets", nil)
	if resp.Meta.Total != 1 {
		t.Errorf("Expected the dataset to be restored, got %d", resp.Meta.Total)
	}

	status, resp = ts.request(t, "POST", "/api/v1/projects/iris/export", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var exported map[string]string
	dataAs(t, resp, &exported)
	if _, err := os.Stat(exported["path"]); err != nil {
		t.Errorf("Expected exported file at %s: %v", exported["path"], err)
	}

	status, _ = ts.request(t, "DELETE", "/api/v1/projects/iris", nil)
	if status != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", status)
	}
	status, _ = ts.request(t, "POST", "/api/v1/projects/iris/load", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404 for a deleted project, got %d", status)
	}
}

func TestServer_MessagesAndMetrics(t *testing.T) {
	ts := newTestServer(t, false)
	ts.addDataset(t, "points")

	ts.request(t, "DELETE", "/api/v1/plugins/missing", nil)

	_, resp := ts.request(t, "GET", "/api/v1/messages?limit=10", nil)
	if resp.Meta == nil || resp.Meta.Total == 0 {
		t.Error("Expected the failed request to be reported as a message")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "manivault_datasets 1") {
		t.Errorf("Expected dataset gauge in metrics output, got:\n%s", w.Body.String())
	}
}
