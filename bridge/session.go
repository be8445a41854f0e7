package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnuradhaKaruppiah/oss-agentiq/mcp"
)

// Session is one open, handshaken connection to an MCP server. It owns the
// transport and the protocol client; proxies discovered through it hold a
// non-owning reference and become invalid once the session is closed.
type Session struct {
	client *mcp.Client
	spec   TransportSpec

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// defaultHandshakeTimeout bounds Open, dial included, when no explicit
// WithHandshakeTimeout is given.
const defaultHandshakeTimeout = 30 * time.Second

// SessionOption adjusts session behavior.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	clientInfo       mcp.ClientInfo
	handshakeTimeout time.Duration
}

// WithClientInfo sets the identity announced during the handshake.
func WithClientInfo(info mcp.ClientInfo) SessionOption {
	return func(o *sessionOptions) { o.clientInfo = info }
}

// WithHandshakeTimeout bounds Open end to end: the transport dial plus the
// initialize round trip. A negative value disables the bound.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.handshakeTimeout = d }
}

// Open dials the transport described by spec and performs the MCP handshake.
// On any failure the transport is released before returning; the error is a
// TransportError.
func Open(ctx context.Context, spec TransportSpec, opts ...SessionOption) (*Session, error) {
	options := sessionOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	correlationID := uuid.NewString()
	emitStart(StepEvent{
		CorrelationID: correlationID,
		Step:          "session.open",
		Transport:     spec.Kind,
		Source:        spec.Source(),
	})
	start := time.Now()

	session, err := open(ctx, spec, options)
	emitEnd(StepEvent{
		CorrelationID: correlationID,
		Step:          "session.open",
		Transport:     spec.Kind,
		Source:        spec.Source(),
		DurationMS:    time.Since(start).Milliseconds(),
		Success:       err == nil,
		ErrorText:     errText(err),
	})
	return session, err
}

func open(ctx context.Context, spec TransportSpec, options sessionOptions) (*Session, error) {
	// The handshake bound covers the dial too; an SSE server that accepts
	// the stream but never announces its endpoint must not stall Open.
	timeout := options.handshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	transport, err := spec.Dial(ctx)
	if err != nil {
		return nil, transportError(fmt.Sprintf("connect to MCP server at %s: %v", spec.Source(), err), err)
	}

	client := mcp.NewClient(transport, mcp.Options{
		ClientInfo:       options.clientInfo,
		HandshakeTimeout: options.handshakeTimeout,
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
	})
	if _, err := client.Initialize(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, transportError(fmt.Sprintf("handshake with MCP server at %s: %v", spec.Source(), err), err)
	}

	return &Session{
		client: client,
		spec:   spec,
		closed: make(chan struct{}),
	}, nil
}

// Source describes the remote endpoint this session is connected to.
func (s *Session) Source() string {
	return s.spec.Source()
}

// Transport reports the transport binding in use.
func (s *Session) Transport() TransportKind {
	return s.spec.Kind
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// DiscoverTool fetches the named tool's descriptor from the remote catalog
// and wraps it in a proxy bound to this session. A missing tool is
// NotFoundError; a transport fault is TransportError.
func (s *Session) DiscoverTool(ctx context.Context, name string) (*ToolProxy, error) {
	if strings.TrimSpace(name) == "" {
		return nil, newConfigError("tool name is required")
	}
	if s.Closed() {
		return nil, transportError("discover on closed connection", mcp.ErrClientClosed)
	}

	tool, err := s.client.GetTool(ctx, name)
	if err != nil {
		if errors.Is(err, mcp.ErrToolNotFound) {
			return nil, &NotFoundError{ToolName: name, Server: s.spec.Source()}
		}
		return nil, transportError(fmt.Sprintf("discover tool %q at %s: %v", name, s.spec.Source(), err), err)
	}

	return &ToolProxy{
		session:     s,
		name:        tool.Name,
		description: tool.Description,
		schema:      NewInputSchema(tool.InputSchema),
	}, nil
}

// ListTools returns the remote catalog's tool descriptors.
func (s *Session) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if s.Closed() {
		return nil, transportError("list tools on closed connection", mcp.ErrClientClosed)
	}
	list, err := s.client.ListTools(ctx)
	if err != nil {
		return nil, transportError(fmt.Sprintf("list tools at %s: %v", s.spec.Source(), err), err)
	}
	return list.Tools, nil
}

// Ping probes connection liveness with a tools/list round trip.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.ListTools(ctx)
	return err
}

// invoke sends a tools/call and flattens the result into text. A structured
// error reported by the remote tool is RemoteToolError; everything else that
// fails is TransportError.
func (s *Session) invoke(ctx context.Context, toolName string, args map[string]any) (string, error) {
	if s.Closed() {
		return "", transportError(fmt.Sprintf("call tool %q on closed connection", toolName), mcp.ErrClientClosed)
	}

	result, err := s.client.CallTool(ctx, mcp.ToolsCallParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		if rpcErr, ok := asRPCError(err); ok {
			return "", &RemoteToolError{ToolName: toolName, Message: rpcErr.Message}
		}
		return "", transportError(fmt.Sprintf("call tool %q at %s: %v", toolName, s.spec.Source(), err), err)
	}

	text := flattenCallResult(result)
	if result.IsError {
		return "", &RemoteToolError{ToolName: toolName, Message: text}
	}
	return text, nil
}

// Close releases the connection and its transport resources. It is
// idempotent and cancels any in-flight invocation on this session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.client.Close(context.Background())
	})
	return s.closeErr
}

func flattenCallResult(result mcp.ToolsCallResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if len(result.StructuredContent) > 0 {
		data, err := json.Marshal(result.StructuredContent)
		if err == nil {
			return string(data)
		}
	}
	return ""
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
