// Package mcp implements a JSON-RPC client for the Model Context Protocol:
// session handshake, tool discovery, and tool invocation over a pluggable
// message transport (stdio subprocess, SSE stream, or streamable HTTP).
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultProtocolVersion  = "2025-06-18"
	defaultClientName       = "agentiq"
	defaultClientVersion    = "dev"
	defaultHandshakeTimeout = 30 * time.Second
)

var (
	// ErrClientClosed is returned by calls issued after Close.
	ErrClientClosed = errors.New("mcp: client is closed")
	// ErrToolNotFound is returned by GetTool when the server lists no such tool.
	ErrToolNotFound = errors.New("mcp: tool not found")
)

// Transport is the message transport contract used by the MCP client core.
type Transport interface {
	Send(ctx context.Context, message Message) error
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
}

// Options configures client identity, capabilities, and handshake behavior.
type Options struct {
	ProtocolVersion string
	ClientInfo      ClientInfo
	Capabilities    map[string]any
	// HandshakeTimeout bounds the initialize round trip. Zero means the
	// default; a negative value disables the bound.
	HandshakeTimeout time.Duration
}

// Client is a JSON-RPC based MCP client.
//
// Responses are matched to requests by ID, not by stream position, so one
// client may be shared by concurrently invoking callers.
type Client struct {
	transport Transport
	options   Options

	mu          sync.Mutex
	nextID      int64
	pending     map[int64]chan Message
	readErr     error
	initialized bool
	initResult  InitializeResult

	readCancel context.CancelFunc
	closeOnce  sync.Once
	closed     chan struct{}
}

// NewClient returns a new MCP client for a given transport and starts its
// response dispatcher.
func NewClient(transport Transport, options Options) *Client {
	if options.ProtocolVersion == "" {
		options.ProtocolVersion = defaultProtocolVersion
	}
	if options.ClientInfo.Name == "" {
		options.ClientInfo.Name = defaultClientName
	}
	if options.ClientInfo.Version == "" {
		options.ClientInfo.Version = defaultClientVersion
	}
	if options.HandshakeTimeout == 0 {
		options.HandshakeTimeout = defaultHandshakeTimeout
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	c := &Client{
		transport:  transport,
		options:    options,
		nextID:     1,
		pending:    make(map[int64]chan Message),
		readCancel: readCancel,
		closed:     make(chan struct{}),
	}
	go c.readLoop(readCtx)
	return c
}

// Initialize performs MCP initialize negotiation and sends the initialized
// notification. The round trip is bounded by Options.HandshakeTimeout.
// Repeated calls return the cached result.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	if c == nil {
		return InitializeResult{}, errors.New("mcp: client is nil")
	}

	c.mu.Lock()
	alreadyInitialized := c.initialized
	cachedResult := c.initResult
	c.mu.Unlock()
	if alreadyInitialized {
		return cachedResult, nil
	}

	if c.options.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.HandshakeTimeout)
		defer cancel()
	}

	params := InitializeParams{
		ProtocolVersion: c.options.ProtocolVersion,
		Capabilities:    cloneMap(c.options.Capabilities),
		ClientInfo:      c.options.ClientInfo,
	}

	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return InitializeResult{}, err
	}

	if err := c.notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		return InitializeResult{}, err
	}

	c.mu.Lock()
	c.initialized = true
	c.initResult = result
	c.mu.Unlock()

	return result, nil
}

// ListTools returns server tools from tools/list.
func (c *Client) ListTools(ctx context.Context) (ToolsListResult, error) {
	var result ToolsListResult
	if err := c.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return ToolsListResult{}, err
	}
	return result, nil
}

// GetTool returns the named tool's descriptor from tools/list. It returns an
// error wrapping ErrToolNotFound when the server does not list the tool.
func (c *Client) GetTool(ctx context.Context, name string) (Tool, error) {
	list, err := c.ListTools(ctx)
	if err != nil {
		return Tool{}, err
	}
	for _, tool := range list.Tools {
		if tool.Name == name {
			return tool, nil
		}
	}
	return Tool{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
}

// CallTool executes an MCP tool by name with arguments. It may block for the
// duration of remote execution; bound it with a caller-supplied context.
func (c *Client) CallTool(ctx context.Context, params ToolsCallParams) (ToolsCallResult, error) {
	var result ToolsCallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return ToolsCallResult{}, err
	}
	return result, nil
}

// Close sends a best-effort close notification, stops the dispatcher, and
// closes the transport. Close is idempotent; in-flight calls fail with
// ErrClientClosed.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.transport == nil {
		return nil
	}

	var err error
	c.closeOnce.Do(func() {
		_ = c.notify(ctx, "close", map[string]any{})
		close(c.closed)
		c.readCancel()
		err = c.transport.Close(ctx)
		c.failPending(ErrClientClosed)
	})
	return err
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if c == nil || c.transport == nil {
		return &RequestError{Method: method, Err: errors.New("transport is nil")}
	}
	if c.isClosed() {
		return &RequestError{Method: method, Err: ErrClientClosed}
	}

	paramsRaw, err := marshalParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}

	id, resultCh, err := c.registerPending()
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}

	request := Message{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsRaw,
	}
	if err := c.transport.Send(ctx, request); err != nil {
		c.removePending(id)
		return &RequestError{Method: method, Err: err}
	}

	select {
	case response, ok := <-resultCh:
		if !ok {
			return &RequestError{Method: method, Err: c.terminalErr()}
		}
		if response.JSONRPC != "" && response.JSONRPC != jsonRPCVersion {
			return &RequestError{Method: method, Err: fmt.Errorf("unsupported jsonrpc version %q", response.JSONRPC)}
		}
		if response.Error != nil {
			return &RequestError{Method: method, Err: response.Error}
		}
		if out == nil || len(response.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(response.Result, out); err != nil {
			return &RequestError{Method: method, Err: fmt.Errorf("decode result: %w", err)}
		}
		return nil
	case <-ctx.Done():
		c.removePending(id)
		return &RequestError{Method: method, Err: ctx.Err()}
	case <-c.closed:
		c.removePending(id)
		return &RequestError{Method: method, Err: ErrClientClosed}
	}
}

// readLoop dispatches transport messages to pending calls by request ID.
// Responses without a matching pending call and server notifications are
// dropped.
func (c *Client) readLoop(ctx context.Context) {
	for {
		message, err := c.transport.Receive(ctx)
		if err != nil {
			c.failPending(err)
			return
		}
		if message.ID == 0 {
			continue
		}

		c.mu.Lock()
		ch := c.pending[message.ID]
		delete(c.pending, message.ID)
		c.mu.Unlock()
		if ch == nil {
			continue
		}
		ch <- message
	}
}

func (c *Client) registerPending() (int64, chan Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		err := c.readErr
		if err == nil {
			err = ErrClientClosed
		}
		return 0, nil, err
	}
	id := c.nextID
	c.nextID++
	ch := make(chan Message, 1)
	c.pending[id] = ch
	return id, ch, nil
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	if c.readErr == nil {
		c.readErr = err
	}
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) terminalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrClientClosed
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	if c == nil || c.transport == nil {
		return nil
	}
	paramsRaw, err := marshalParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}
	return c.transport.Send(ctx, Message{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  paramsRaw,
	})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
