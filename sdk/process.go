package sdk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Process plugins run as a separate executable and speak JSON-RPC 2.0 over
// stdin and stdout, one message per line. Whatever they write to stderr ends
// up in the plugin's log. Datasets cross the boundary as point blocks.

// Methods the core calls on a process plugin
const (
	MethodInitialize = "initialize"
	MethodLoad       = "load"
	MethodCompute    = "compute"
	MethodWrite      = "write"
	MethodShutdown   = "shutdown"
)

// JSON-RPC error codes
const (
	RPCParseError     = -32700
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCPluginError    = -32000
)

// RPCRequest is a JSON-RPC 2.0 request
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// PointBlock is a dataset's points in transit: point-major values with one
// name per dimension
type PointBlock struct {
	Name       string    `json:"name"`
	DataType   string    `json:"data_type,omitempty"`
	Dimensions []string  `json:"dimensions"`
	Values     []float32 `json:"values"`
}

// Validate checks that the values divide into the dimensions
func (b PointBlock) Validate() error {
	if len(b.Dimensions) == 0 {
		return fmt.Errorf("point block %q has no dimensions", b.Name)
	}
	if len(b.Values)%len(b.Dimensions) != 0 {
		return fmt.Errorf("point block %q: %d values do not divide into %d dimensions",
			b.Name, len(b.Values), len(b.Dimensions))
	}
	return nil
}

// NumPoints returns the number of points in the block
func (b PointBlock) NumPoints() int {
	if len(b.Dimensions) == 0 {
		return 0
	}
	return len(b.Values) / len(b.Dimensions)
}

// InitializeParams is sent once, when the factory is initialized
type InitializeParams struct {
	Kind   string     `json:"kind"`
	Config VariantMap `json:"config,omitempty"`
}

// LoadParams asks a loader to import source
type LoadParams struct {
	Instance string `json:"instance"`
	Source   string `json:"source"`
}

// LoadResult carries the imported datasets
type LoadResult struct {
	Datasets []PointBlock `json:"datasets"`
}

// ComputeParams hands an analysis its input
type ComputeParams struct {
	Instance string     `json:"instance"`
	Input    PointBlock `json:"input"`
}

// ComputeResult carries the analysis output
type ComputeResult struct {
	Output PointBlock `json:"output"`
}

// WriteParams asks a writer to export input to destination
type WriteParams struct {
	Instance    string     `json:"instance"`
	Destination string     `json:"destination"`
	Input       PointBlock `json:"input"`
}

// ProcessHandler is the plugin side of the protocol. Methods a plugin does
// not support should return an error.
type ProcessHandler interface {
	Initialize(p InitializeParams) error
	Load(p LoadParams) (LoadResult, error)
	Compute(p ComputeParams) (ComputeResult, error)
	Write(p WriteParams) error
}

// ServeProcess answers requests read from r on w until shutdown is
// requested or r is exhausted. Plugin executables call it from main with
// os.Stdin and os.Stdout.
func ServeProcess(r io.Reader, w io.Writer, h ProcessHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req RPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if err := enc.Encode(RPCResponse{JSONRPC: "2.0", Error: &RPCError{Code: RPCParseError, Message: err.Error()}}); err != nil {
				return err
			}
			continue
		}

		result, rpcErr := dispatchProcess(h, req)
		resp := RPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		if rpcErr == nil && result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				resp.Error = &RPCError{Code: RPCPluginError, Message: err.Error()}
			} else {
				resp.Result = raw
			}
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
		if req.Method == MethodShutdown {
			return nil
		}
	}
	return scanner.Err()
}

func dispatchProcess(h ProcessHandler, req RPCRequest) (any, *RPCError) {
	decode := func(v any) *RPCError {
		if len(req.Params) == 0 {
			return nil
		}
		if err := json.Unmarshal(req.Params, v); err != nil {
			return &RPCError{Code: RPCInvalidParams, Message: err.Error()}
		}
		return nil
	}
	pluginErr := func(err error) *RPCError {
		if err == nil {
			return nil
		}
		return &RPCError{Code: RPCPluginError, Message: err.Error()}
	}

	switch req.Method {
	case MethodInitialize:
		var p InitializeParams
		if e := decode(&p); e != nil {
			return nil, e
		}
		return struct{}{}, pluginErr(h.Initialize(p))
	case MethodLoad:
		var p LoadParams
		if e := decode(&p); e != nil {
			return nil, e
		}
		res, err := h.Load(p)
		return res, pluginErr(err)
	case MethodCompute:
		var p ComputeParams
		if e := decode(&p); e != nil {
			return nil, e
		}
		res, err := h.Compute(p)
		return res, pluginErr(err)
	case MethodWrite:
		var p WriteParams
		if e := decode(&p); e != nil {
			return nil, e
		}
		return struct{}{}, pluginErr(h.Write(p))
	case MethodShutdown:
		return struct{}{}, nil
	default:
		return nil, &RPCError{Code: RPCMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}
