package sdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

type echoHandler struct {
	initialized string
}

func (h *echoHandler) Initialize(p InitializeParams) error {
	h.initialized = p.Kind
	return nil
}

func (h *echoHandler) Load(p LoadParams) (LoadResult, error) {
	return LoadResult{}, fmt.Errorf("cannot load %s", p.Source)
}

func (h *echoHandler) Compute(p ComputeParams) (ComputeResult, error) {
	return ComputeResult{Output: p.Input}, nil
}

func (h *echoHandler) Write(p WriteParams) error { return nil }

func TestServeProcess(t *testing.T) {
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"kind":"Echo"}}`,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"compute","params":{"input":{"name":"a","dimensions":["x"],"values":[1,2]}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"load","params":{"source":"f.csv"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"view"}`,
		`{"jsonrpc":"2.0","id":5,"method":"shutdown"}`,
		`{"jsonrpc":"2.0","id":6,"method":"initialize"}`,
	}, "\n")

	h := &echoHandler{}
	var out bytes.Buffer
	if err := ServeProcess(strings.NewReader(in), &out, h); err != nil {
		t.Fatalf("ServeProcess failed: %v", err)
	}
	if h.initialized != "Echo" {
		t.Errorf("Expected Initialize with kind Echo, got %q", h.initialized)
	}

	var responses []RPCResponse
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp RPCResponse
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("Invalid response: %v", err)
		}
		responses = append(responses, resp)
	}
	if len(responses) != 6 {
		t.Fatalf("Expected 6 responses (nothing after shutdown), got %d", len(responses))
	}

	if responses[1].Error == nil || responses[1].Error.Code != RPCParseError {
		t.Errorf("Expected a parse error, got %+v", responses[1])
	}
	var computed ComputeResult
	if err := json.Unmarshal(responses[2].Result, &computed); err != nil || computed.Output.NumPoints() != 2 {
		t.Errorf("Expected the input echoed back, got %s (%v)", responses[2].Result, err)
	}
	if responses[3].Error == nil || responses[3].Error.Code != RPCPluginError {
		t.Errorf("Expected a plugin error from load, got %+v", responses[3])
	}
	if responses[4].Error == nil || responses[4].Error.Code != RPCMethodNotFound {
		t.Errorf("Expected method not found, got %+v", responses[4])
	}
	if responses[5].ID != 5 || responses[5].Error != nil {
		t.Errorf("Expected shutdown acknowledged, got %+v", responses[5])
	}
}

func TestPointBlock_Validate(t *testing.T) {
	if err := (PointBlock{Name: "a", Dimensions: []string{"x", "y"}, Values: []float32{1, 2, 3}}).Validate(); err == nil {
		t.Error("Expected ragged values to be rejected")
	}
	if err := (PointBlock{Name: "a"}).Validate(); err == nil {
		t.Error("Expected a block without dimensions to be rejected")
	}
}
