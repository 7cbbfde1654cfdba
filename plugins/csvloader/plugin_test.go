package csvloader

import (
	"context"
	"io"
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

func newLoader(t *testing.T, config sdk.VariantMap) (*Loader, *data.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dm := data.NewManager(events.NewDispatcher(logger), logging.NewReporter(logger, 10), logger)
	rt := sdk.NewRuntime(Kind, sdk.RuntimeOptions{Data: dm, Config: config, Logger: logger})

	f := NewFactory()
	if err := f.Initialize(context.Background(), rt); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	p, err := f.Produce()
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	l := p.(*Loader)
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return l, dm
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoader_Load(t *testing.T) {
	l, dm := newLoader(t, nil)
	path := writeFile(t, "cells.csv", "# exported\nx, y, z\n1,2,3\n4, 5,6\n")

	loaded, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d := loaded[0]
	if d.GuiName != "cells" || d.DataType != "Points" {
		t.Errorf("Unexpected dataset: %+v", d)
	}
	raw, err := dm.RawData(d.RawDataName)
	if err != nil {
		t.Fatalf("RawData failed: %v", err)
	}
	if raw.NumPoints != 2 || raw.NumDimensions != 3 {
		t.Errorf("Expected 2x3 raw data, got %dx%d", raw.NumPoints, raw.NumDimensions)
	}
	if raw.DimensionNames[1] != "y" || raw.Value(1, 1) != 5 {
		t.Errorf("Unexpected contents: %v %v", raw.DimensionNames, raw.Values)
	}
	if raw.PluginKind != Kind {
		t.Errorf("Expected raw data to carry plugin kind %s, got %s", Kind, raw.PluginKind)
	}

	// Loading the same file again gets a distinct raw data name
	again, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if again[0].RawDataName == d.RawDataName {
		t.Error("Expected a unique raw data name for the second load")
	}
}

func TestLoader_NoHeaderAndDelimiter(t *testing.T) {
	l, dm := newLoader(t, sdk.VariantMap{"has_header": false, "delimiter": ";"})
	path := writeFile(t, "plain.txt", "1;2\n3;4\n")

	loaded, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	raw, _ := dm.RawData(loaded[0].RawDataName)
	if raw.NumPoints != 2 || raw.DimensionNames[0] != "dim0" {
		t.Errorf("Expected 2 points with generated dimension names, got %d %v", raw.NumPoints, raw.DimensionNames)
	}
}

func TestLoader_Errors(t *testing.T) {
	l, dm := newLoader(t, nil)

	tests := []struct {
		name    string
		content string
	}{
		{"not a number", "a,b\n1,x\n"},
		{"ragged rows", "a,b\n1,2\n3\n"},
		{"header only", "a,b\n"},
		{"NaN cell", "a,b\n1,NaN\n3,4\n"},
		{"infinite cell", "a,b\n1,2\n-Inf,4\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Load(context.Background(), writeFile(t, "bad.csv", tt.content))
			if !mverr.Is(err, mverr.CodeInvalidArgument) {
				t.Errorf("Expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}

	if _, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv")); !mverr.Is(err, mverr.CodeNotFound) {
		t.Errorf("Expected NOT_FOUND for a missing file, got %v", err)
	}
	if dm.Count() != 0 {
		t.Errorf("Expected no datasets after failed loads, got %d", dm.Count())
	}
}

func TestLoader_BadDelimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := sdk.NewRuntime(Kind, sdk.RuntimeOptions{Config: sdk.VariantMap{"delimiter": ";;"}, Logger: logger})
	l := &Loader{BasePlugin: sdk.NewBasePlugin(NewFactory().Metadata(), rt)}

	if err := l.Init(context.Background()); !mverr.Is(err, mverr.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for a two-character delimiter, got %v", err)
	}
}
