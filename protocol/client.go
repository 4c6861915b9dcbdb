package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/safety"
	"github.com/nox-hq/warden/tools"
)

const (
	// DefaultTimeout bounds a request whose context has no deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxFrame is the largest accepted inbound frame in bytes.
	DefaultMaxFrame = 4 << 20

	methodInitialized = "notifications/initialized"

	// maxListPages stops a plugin from paginating tools/list forever.
	maxListPages = 64
)

// knownNotifications are accepted from a plugin and otherwise ignored.
var knownNotifications = map[string]bool{
	"notifications/message":                true,
	"notifications/progress":               true,
	"notifications/cancelled":              true,
	mcp.MethodNotificationToolsListChanged: true,
}

// State is the lifecycle state of a Client.
type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateReady
	StateStopped
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RemoteTool is a tool as listed by the plugin. The input schema is kept
// raw; the manifest declaration is what gets validated against.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type listToolsResult struct {
	Tools      []RemoteTool `json:"tools"`
	NextCursor mcp.Cursor   `json:"nextCursor,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for protocol events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTimeout sets the deadline applied to requests whose context has none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTools restricts CallTool to the declared tools and validates
// arguments against their input schemas.
func WithTools(declared []manifest.Tool) Option {
	return func(c *Client) {
		c.declared = make(map[string]manifest.Tool, len(declared))
		for _, t := range declared {
			c.declared[t.Name] = t
		}
	}
}

// WithClientInfo sets the implementation reported during the handshake.
func WithClientInfo(info mcp.Implementation) Option {
	return func(c *Client) {
		c.clientInfo = info
	}
}

// WithFaultHandler registers fn to be called once, on its own goroutine,
// when the client faults.
func WithFaultHandler(fn func(error)) Option {
	return func(c *Client) {
		c.onFault = fn
	}
}

// WithMaxFrame bounds the size of a single inbound frame.
func WithMaxFrame(n int) Option {
	return func(c *Client) {
		c.maxFrame = n
	}
}

type reply struct {
	msg Message
	err error
}

// Client speaks the plugin protocol over a pair of streams, normally the
// plugin's stdout and stdin. One goroutine reads frames; requests are
// issued one at a time.
type Client struct {
	r          io.Reader
	w          io.Writer
	logger     *slog.Logger
	timeout    time.Duration
	maxFrame   int
	clientInfo mcp.Implementation
	declared   map[string]manifest.Tool
	schemas    map[string]*jsonschema.Schema
	onFault    func(error)

	reqMu sync.Mutex // one request in flight
	wmu   sync.Mutex // whole frames on the wire

	mu        sync.Mutex
	state     State
	nextID    int64
	pending   map[int64]chan reply
	abandoned map[int64]struct{}
	err       error
	server    mcp.Implementation
	done      chan struct{}
}

// NewClient starts reading frames from r and returns a client writing to
// w. Call Initialize before anything else.
func NewClient(r io.Reader, w io.Writer, opts ...Option) *Client {
	c := &Client{
		r:          r,
		w:          w,
		logger:     slog.Default(),
		timeout:    DefaultTimeout,
		maxFrame:   DefaultMaxFrame,
		clientInfo: mcp.Implementation{Name: "warden", Version: "dev"},
		pending:    make(map[int64]chan reply),
		abandoned:  make(map[int64]struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.declared != nil {
		c.schemas = make(map[string]*jsonschema.Schema, len(c.declared))
		for name, t := range c.declared {
			sch, err := manifest.CompileSchema(t)
			if err != nil {
				// Parse already compiled it; a failure here leaves the tool
				// unvalidated rather than uncallable.
				c.logger.Warn("tool schema did not compile", "tool", name, "error", err)
				continue
			}
			c.schemas[name] = sch
		}
	}
	go c.readLoop()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ServerInfo returns the implementation the plugin reported during the
// handshake.
func (c *Client) ServerInfo() mcp.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Initialize performs the handshake: initialize, version check, then the
// initialized notification. Any failure faults the client.
func (c *Client) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	c.mu.Lock()
	if err := c.unusableLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.state != StateUninitialized {
		st := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("initialize in state %s: %w", st, ErrNotReady)
	}
	c.state = StateHandshaking
	c.mu.Unlock()

	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo:      c.clientInfo,
	}
	var res mcp.InitializeResult
	err := c.request(ctx, mcp.MethodInitialize, params, &res)
	if err == nil && !slices.Contains(mcp.ValidProtocolVersions, res.ProtocolVersion) {
		err = &ProtocolError{Reason: fmt.Sprintf("unsupported protocol version %q", res.ProtocolVersion)}
	}
	if err == nil {
		err = c.notify(methodInitialized)
	}
	if err != nil {
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			err = &ProtocolError{Reason: "handshake failed", Err: err}
		}
		c.fault(err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateHandshaking {
		return nil, c.unusableLocked()
	}
	c.state = StateReady
	c.server = res.ServerInfo
	c.logger.Debug("plugin handshake complete",
		"server", res.ServerInfo.Name, "server_version", res.ServerInfo.Version, "protocol", res.ProtocolVersion)
	return &res, nil
}

// ListTools returns every tool the plugin lists, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var (
		out    []RemoteTool
		cursor mcp.Cursor
	)
	for range maxListPages {
		var page listToolsResult
		if err := c.request(ctx, mcp.MethodToolsList, mcp.PaginatedParams{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Tools...)
		if page.NextCursor == "" {
			return out, nil
		}
		if page.NextCursor == cursor {
			return nil, &ProtocolError{Reason: "tools/list repeated its cursor"}
		}
		cursor = page.NextCursor
	}
	return nil, &ProtocolError{Reason: fmt.Sprintf("tools/list exceeded %d pages", maxListPages)}
}

// CallTool validates args, invokes the tool, and returns the result after
// safety post-processing. It implements tools.Executor.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if c.declared != nil {
		if _, ok := c.declared[name]; !ok {
			return nil, fmt.Errorf("tool %q: %w", name, tools.ErrUnknownTool)
		}
	}
	if sch := c.schemas[name]; sch != nil {
		if err := manifest.ValidateArguments(sch, args); err != nil {
			return nil, &InvalidArgumentsError{Tool: name, Err: err}
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	var res mcp.CallToolResult
	if err := c.request(ctx, mcp.MethodToolsCall, mcp.CallToolParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return safety.Process(tools.FromCallToolResult(&res))
}

// Close stops the client. Pending requests fail with ErrStopped. Close does
// not close the underlying streams; the supervisor owns them.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateFaulted {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopped
	c.err = ErrStopped
	pending := c.pending
	c.pending = make(map[int64]chan reply)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: ErrStopped}
	}
	return nil
}

func (c *Client) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unusableLocked(); err != nil {
		return err
	}
	if c.state != StateReady {
		return ErrNotReady
	}
	return nil
}

func (c *Client) unusableLocked() error {
	switch c.state {
	case StateStopped:
		return ErrStopped
	case StateFaulted:
		return c.err
	}
	return nil
}

// request sends one request and waits for its response. out, if non-nil,
// receives the decoded result.
func (c *Client) request(ctx context.Context, method mcp.MCPMethod, params, out any) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	if err := c.unusableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := mcp.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(id),
		Params:  params,
		Request: mcp.Request{Method: string(method)},
	}
	if err := c.send(req); err != nil {
		c.forget(id, false)
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case rep := <-ch:
		if rep.err != nil {
			return rep.err
		}
		if e := rep.msg.Error; e != nil {
			return &RPCError{Code: e.Code, Message: e.Message, Data: e.Data}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(rep.msg.Result, out); err != nil {
			perr := &ProtocolError{Reason: "invalid " + string(method) + " result", Frame: excerpt(rep.msg.Result), Err: err}
			c.fault(perr)
			return perr
		}
		return nil
	case <-ctx.Done():
		c.forget(id, true)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", method, ErrTimeout)
		}
		return ctx.Err()
	}
}

// forget drops a pending slot. An abandoned id may still be answered; that
// response is discarded.
func (c *Client) forget(id int64, abandon bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return
	}
	delete(c.pending, id)
	if abandon {
		c.abandoned[id] = struct{}{}
	}
}

func (c *Client) notify(method string) error {
	n := mcp.JSONRPCNotification{
		JSONRPC:      mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{Method: method},
	}
	if err := c.send(n); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}
	return nil
}

func (c *Client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(data)
	return err
}

// fault moves the client to Faulted and fails everything pending with err.
// Only the first fault counts.
func (c *Client) fault(err error) {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateFaulted {
		c.mu.Unlock()
		return
	}
	c.state = StateFaulted
	c.err = err
	pending := c.pending
	c.pending = make(map[int64]chan reply)
	onFault := c.onFault
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: err}
	}
	c.logger.Warn("plugin protocol fault", "error", err)
	if onFault != nil {
		go onFault(err)
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	sc := bufio.NewScanner(c.r)
	// cap(buf) also bounds the token size.
	sc.Buffer(make([]byte, 0, min(64<<10, c.maxFrame)), c.maxFrame)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !c.handle(line) {
			// Keep draining so the plugin never blocks on a full pipe
			// before it is stopped.
			_, _ = io.Copy(io.Discard, c.r)
			return
		}
	}

	err := sc.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		c.fault(&ProtocolError{Reason: fmt.Sprintf("frame exceeds %d bytes", c.maxFrame), Err: err})
		_, _ = io.Copy(io.Discard, c.r)
		return
	}
	if c.State() == StateStopped {
		return
	}
	c.fault(&ProtocolError{Reason: "plugin closed its output", Err: err})
}

// handle dispatches one frame and reports whether reading should go on.
func (c *Client) handle(line []byte) bool {
	msg := Decode(line)
	switch msg.Kind {
	case KindResponse:
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		_, late := c.abandoned[msg.ID]
		delete(c.abandoned, msg.ID)
		stopped := c.state == StateStopped
		c.mu.Unlock()

		switch {
		case ok:
			ch <- reply{msg: msg}
			return true
		case late:
			c.logger.Debug("dropping late response", "id", msg.ID)
			return true
		case stopped:
			return true
		}
		c.fault(&ProtocolError{Reason: fmt.Sprintf("response for unknown id %d", msg.ID), Frame: excerpt(line)})
		return false

	case KindNotification:
		if !knownNotifications[msg.Method] {
			c.fault(&ProtocolError{Reason: fmt.Sprintf("unknown notification %q", msg.Method), Frame: excerpt(line)})
			return false
		}
		c.logNotification(msg)
		return true

	case KindRequest:
		if msg.Method != string(mcp.MethodPing) {
			c.fault(&ProtocolError{Reason: fmt.Sprintf("unexpected request %q", msg.Method), Frame: excerpt(line)})
			return false
		}
		pong := mcp.JSONRPCResponse{JSONRPC: mcp.JSONRPC_VERSION, ID: mcp.NewRequestId(msg.ID), Result: struct{}{}}
		if err := c.send(pong); err != nil {
			c.logger.Debug("answering ping failed", "error", err)
		}
		return true
	}

	c.fault(&ProtocolError{Reason: "malformed frame", Frame: excerpt(line), Err: msg.Err})
	return false
}

func (c *Client) logNotification(msg Message) {
	if msg.Method != "notifications/message" {
		c.logger.Debug("plugin notification", "method", msg.Method)
		return
	}
	var p struct {
		Level  string `json:"level"`
		Logger string `json:"logger"`
		Data   any    `json:"data"`
	}
	_ = json.Unmarshal(msg.Params, &p)
	c.logger.Info("plugin log", "level", p.Level, "logger", p.Logger, "data", p.Data)
}
