package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/sdk"
)

// ProcessOpener turns the metadata of a process plugin into a factory that
// runs the plugin executable and talks to it over stdio
type ProcessOpener struct {
	// Env is appended to the environment of every plugin process
	Env []string
	// StopTimeout bounds how long a process may take to exit (default 5s)
	StopTimeout time.Duration
}

// Open checks that the executable exists. The process starts when the
// factory is initialized.
func (o ProcessOpener) Open(meta sdk.Metadata) (sdk.Factory, error) {
	path := meta.Binary
	if !filepath.IsAbs(path) {
		path = filepath.Join(meta.Dir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("plugin executable %s: %w", path, err)
	}

	stopTimeout := o.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	return &processFactory{
		meta:        meta,
		path:        path,
		env:         o.Env,
		stopTimeout: stopTimeout,
	}, nil
}

// processFactory runs one plugin process shared by all instances of a kind
type processFactory struct {
	meta        sdk.Metadata
	path        string
	env         []string
	stopTimeout time.Duration

	runtime *sdk.Runtime
	client  *processClient
}

func (f *processFactory) Metadata() sdk.Metadata { return f.meta }

// Initialize starts the process and sends it the plugin configuration
func (f *processFactory) Initialize(ctx context.Context, runtime *sdk.Runtime) error {
	f.runtime = runtime

	env := append(os.Environ(),
		"PLUGIN_PATH="+f.meta.Dir,
		"MV_PLUGIN_KIND="+f.meta.Kind,
	)
	env = append(env, f.env...)

	client := newProcessClient(f.path, f.meta.Dir, env, runtime.Logger(), f.stopTimeout)
	if err := client.start(); err != nil {
		return err
	}

	params := sdk.InitializeParams{Kind: f.meta.Kind, Config: runtime.Config()}
	if err := client.call(ctx, sdk.MethodInitialize, params, nil); err != nil {
		client.stop()
		return err
	}
	f.client = client
	return nil
}

// Produce creates an instance matching the plugin type
func (f *processFactory) Produce() (sdk.Plugin, error) {
	if f.client == nil {
		return nil, mverr.New(mverr.CodeInternal, "plugin %s is not running", f.meta.Kind)
	}
	base := processPlugin{BasePlugin: sdk.NewBasePlugin(f.meta, f.runtime), client: f.client}
	switch f.meta.Type {
	case sdk.TypeLoader:
		return &processLoader{processPlugin: base}, nil
	case sdk.TypeAnalysis:
		return &processAnalysis{processPlugin: base}, nil
	case sdk.TypeWriter:
		return &processWriter{processPlugin: base}, nil
	default:
		return nil, mverr.New(mverr.CodeInvalidArgument, "process plugins cannot be %s plugins", f.meta.Type)
	}
}

// Close stops the plugin process
func (f *processFactory) Close() error {
	if f.client == nil {
		return nil
	}
	err := f.client.stop()
	f.client = nil
	return err
}

type processPlugin struct {
	sdk.BasePlugin
	client *processClient
}

type processLoader struct {
	processPlugin
}

// Load asks the process to import source and adds every returned block as
// a top-level dataset
func (p *processLoader) Load(ctx context.Context, source string) ([]*sdk.Dataset, error) {
	var res sdk.LoadResult
	if err := p.client.call(ctx, sdk.MethodLoad, sdk.LoadParams{Instance: p.ID(), Source: source}, &res); err != nil {
		return nil, err
	}

	dm := p.Runtime().Data()
	var out []*sdk.Dataset
	for _, block := range res.Datasets {
		d, err := p.addBlock(dm, block, nil)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	p.Logger().Info("Loaded", "source", source, "datasets", len(out))
	return out, nil
}

type processAnalysis struct {
	processPlugin
}

// Init computes once; an analysis needs its input bound
func (p *processAnalysis) Init(ctx context.Context) error {
	if !p.InputDataset().Valid() {
		return mverr.New(mverr.CodeInvalidArgument, "%s needs an input dataset", p.Kind())
	}
	return p.Compute(ctx)
}

// Compute sends the input points to the process and stores the result in
// the output dataset, creating it under the input on first use
func (p *processAnalysis) Compute(ctx context.Context) error {
	in := p.InputDataset()
	if !in.Valid() {
		return mverr.New(mverr.CodeInvalidArgument, "%s has no input dataset", p.Kind())
	}
	dm := p.Runtime().Data()
	input, err := pointBlock(dm, in)
	if err != nil {
		return err
	}

	var res sdk.ComputeResult
	if err := p.client.call(ctx, sdk.MethodCompute, sdk.ComputeParams{Instance: p.ID(), Input: input}, &res); err != nil {
		return err
	}
	output := res.Output
	if output.Name == "" {
		output.Name = fmt.Sprintf("%s (%s)", in.GuiName, p.Metadata().MenuName)
	}
	if output.DataType == "" {
		output.DataType = input.DataType
	}

	out := p.OutputDataset()
	if !out.Valid() {
		d, err := p.addBlock(dm, output, in)
		if err != nil {
			return err
		}
		p.SetOutputDataset(d)
		return nil
	}

	raw, err := dm.RawData(out.RawDataName)
	if err != nil {
		return err
	}
	if raw.PluginKind != p.Kind() {
		return mverr.New(mverr.CodeInvalidArgument, "output %s was not created by %s", out.GuiName, p.Kind())
	}
	if err := output.Validate(); err != nil {
		return mverr.Wrap(mverr.CodeInvalidArgument, err, "%s returned invalid output", p.Kind())
	}
	raw.Values = output.Values
	raw.NumDimensions = len(output.Dimensions)
	raw.NumPoints = output.NumPoints()
	raw.DimensionNames = output.Dimensions

	p.Runtime().NotifyDatasetChanged(out.ID, "Values")
	return nil
}

type processWriter struct {
	processPlugin
}

// Write sends the input points and destination to the process
func (p *processWriter) Write(ctx context.Context, destination string) error {
	in := p.InputDataset()
	if !in.Valid() {
		return mverr.New(mverr.CodeInvalidArgument, "%s has no input dataset", p.Kind())
	}
	input, err := pointBlock(p.Runtime().Data(), in)
	if err != nil {
		return err
	}
	params := sdk.WriteParams{Instance: p.ID(), Destination: destination, Input: input}
	return p.client.call(ctx, sdk.MethodWrite, params, nil)
}

// addBlock stores block as raw data owned by this plugin and creates a
// dataset over it
func (p *processPlugin) addBlock(dm sdk.DataService, block sdk.PointBlock, parent *sdk.Dataset) (*sdk.Dataset, error) {
	if err := block.Validate(); err != nil {
		return nil, mverr.Wrap(mverr.CodeInvalidArgument, err, "%s returned invalid points", p.Kind())
	}
	dataType := block.DataType
	if dataType == "" {
		dataType = p.ConfigString("data_type", "")
	}
	if dataType == "" {
		if types := dm.DataTypes(); len(types) == 1 {
			dataType = types[0]
		}
	}
	if dataType == "" {
		return nil, mverr.New(mverr.CodeInvalidArgument, "%s did not name a data type for %s", p.Kind(), block.Name)
	}

	raw, err := sdk.NewRawData(dm.UniqueRawDataName(block.Name), dataType, len(block.Dimensions), block.Values)
	if err != nil {
		return nil, mverr.Wrap(mverr.CodeInvalidArgument, err, "%s returned invalid points", p.Kind())
	}
	raw.PluginKind = p.Kind()
	raw.DimensionNames = block.Dimensions
	if err := dm.AddRawData(raw); err != nil {
		return nil, err
	}
	d, err := dm.CreateDataset(raw.Name, block.Name, parent)
	if err != nil {
		_ = dm.RemoveRawData(raw.Name)
		return nil, err
	}
	return d, nil
}

// pointBlock copies the points of d, honoring subset indices
func pointBlock(dm sdk.DataService, d *sdk.Dataset) (sdk.PointBlock, error) {
	raw, err := dm.RawData(d.RawDataName)
	if err != nil {
		return sdk.PointBlock{}, err
	}
	dims := raw.DimensionNames
	if len(dims) != raw.NumDimensions {
		dims = make([]string, raw.NumDimensions)
		for i := range dims {
			dims[i] = fmt.Sprintf("dim%d", i)
		}
	}

	var values []float32
	if d.IsFull() {
		values = append(values, raw.Values...)
	} else {
		values = make([]float32, 0, len(d.Indices)*raw.NumDimensions)
		for _, idx := range d.Indices {
			values = append(values, raw.Point(idx)...)
		}
	}
	return sdk.PointBlock{Name: d.GuiName, DataType: raw.DataType, Dimensions: dims, Values: values}, nil
}

// processClient is the core side of the JSON-RPC connection to one plugin
// process
type processClient struct {
	path        string
	dir         string
	env         []string
	logger      *slog.Logger
	stopTimeout time.Duration

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	writeMu sync.Mutex

	requestID   uint64
	pending     map[uint64]chan *sdk.RPCResponse
	pendingLock sync.Mutex

	running   atomic.Bool
	exited    chan struct{}
	stderrEOF chan struct{}
	stopOnce  sync.Once
	stopErr   error
}

func newProcessClient(path, dir string, env []string, logger *slog.Logger, stopTimeout time.Duration) *processClient {
	return &processClient{
		path:        path,
		dir:         dir,
		env:         env,
		logger:      logger,
		stopTimeout: stopTimeout,
		pending:     make(map[uint64]chan *sdk.RPCResponse),
		exited:      make(chan struct{}),
		stderrEOF:   make(chan struct{}),
	}
}

// start launches the process. It outlives the context of any one call.
func (c *processClient) start() error {
	c.cmd = exec.Command(c.path)
	c.cmd.Dir = c.dir
	c.cmd.Env = c.env

	var err error
	if c.stdin, err = c.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if c.stdout, err = c.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if c.stderr, err = c.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start plugin process: %w", err)
	}
	c.running.Store(true)

	go c.readResponses()
	go c.readStderr()

	c.logger.Info("Plugin process started", "path", c.path, "pid", c.cmd.Process.Pid)
	return nil
}

// call sends a request and decodes the result into result, which may be nil
func (c *processClient) call(ctx context.Context, method string, params, result any) error {
	if !c.running.Load() {
		return mverr.New(mverr.CodeInternal, "plugin process is not running")
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	id := atomic.AddUint64(&c.requestID, 1)
	line, err := json.Marshal(sdk.RPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	respCh := make(chan *sdk.RPCResponse, 1)
	c.pendingLock.Lock()
	c.pending[id] = respCh
	c.pendingLock.Unlock()
	defer func() {
		c.pendingLock.Lock()
		delete(c.pending, id)
		c.pendingLock.Unlock()
	}()

	c.writeMu.Lock()
	_, err = c.stdin.Write(append(line, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		return mverr.Wrap(mverr.CodeInternal, err, "failed to send %s to plugin", method)
	}

	select {
	case <-ctx.Done():
		return mverr.Wrap(mverr.CodeAborted, ctx.Err(), "plugin %s cancelled", method)
	case <-c.exited:
		return mverr.New(mverr.CodeInternal, "plugin process exited during %s", method)
	case resp := <-respCh:
		if resp.Error != nil {
			code := mverr.CodeInternal
			if resp.Error.Code == sdk.RPCPluginError {
				code = mverr.CodeInvalidArgument
			}
			return mverr.Wrap(code, resp.Error, "plugin %s failed", method)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return mverr.Wrap(mverr.CodeInternal, err, "invalid %s result", method)
			}
		}
		return nil
	}
}

// readResponses routes responses to their callers until stdout closes
func (c *processClient) readResponses() {
	defer close(c.exited)
	defer c.running.Store(false)

	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp sdk.RPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("Invalid plugin response", "error", err)
			continue
		}

		c.pendingLock.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			ch <- &resp
		}
		c.pendingLock.Unlock()
	}
}

// readStderr forwards the process's stderr to the plugin log
func (c *processClient) readStderr() {
	defer close(c.stderrEOF)
	scanner := bufio.NewScanner(c.stderr)
	for scanner.Scan() {
		c.logger.Info(scanner.Text(), "source", "stderr")
	}
}

// stop asks the process to shut down and kills it if it does not exit in
// time
func (c *processClient) stop() error {
	c.stopOnce.Do(func() {
		if c.running.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
			if err := c.call(ctx, sdk.MethodShutdown, nil, nil); err != nil {
				c.logger.Debug("Plugin shutdown request failed", "error", err)
			}
			cancel()
		}
		c.stdin.Close()

		select {
		case <-c.exited:
		case <-time.After(c.stopTimeout):
			c.logger.Warn("Plugin process did not exit, killing it", "path", c.path)
			_ = c.cmd.Process.Kill()
			<-c.exited
		}
		<-c.stderrEOF

		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			c.stopErr = err
		}
		c.logger.Info("Plugin process stopped", "path", c.path)
	})
	return c.stopErr
}
