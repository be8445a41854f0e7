package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnuradhaKaruppiah/oss-agentiq/mcp"
)

// fakeMCPServer is an in-test MCP server speaking the streamable HTTP
// binding, enough protocol to exercise sessions end to end.
type fakeMCPServer struct {
	tools    []mcp.Tool
	onCall   func(name string, args map[string]any) (mcp.ToolsCallResult, *mcp.RPCError)
	requests atomic.Int64

	server *httptest.Server
}

func newFakeMCPServer(t *testing.T) *fakeMCPServer {
	t.Helper()

	f := &fakeMCPServer{
		tools: []mcp.Tool{
			{
				Name:        "get_weather",
				Description: "Returns the current weather for a city",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"city": map[string]any{"type": "string"},
					},
					"required": []any{"city"},
				},
			},
		},
		onCall: func(name string, args map[string]any) (mcp.ToolsCallResult, *mcp.RPCError) {
			return mcp.ToolsCallResult{
				Content: []mcp.ContentBlock{{Type: "text", Text: "sunny"}},
			}, nil
		},
	}

	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeMCPServer) spec() TransportSpec {
	return TransportSpec{Kind: TransportStreamableHTTP, URL: f.server.URL}
}

func (f *fakeMCPServer) handle(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)

	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      int64           `json:"id,omitempty"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Notifications get an empty accepted response.
	if req.ID == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var (
		result any
		rpcErr *mcp.RPCError
	)
	switch req.Method {
	case "initialize":
		result = mcp.InitializeResult{
			ProtocolVersion: "2025-06-18",
			ServerInfo:      mcp.ServerInfo{Name: "fake-mcp", Version: "0.0.1"},
		}
	case "tools/list":
		result = mcp.ToolsListResult{Tools: f.tools}
	case "tools/call":
		var params mcp.ToolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		callResult, callErr := f.onCall(params.Name, params.Arguments)
		if callErr != nil {
			rpcErr = callErr
		} else {
			result = callResult
		}
	default:
		rpcErr = &mcp.RPCError{Code: -32601, Message: "method not found"}
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func openTestSession(t *testing.T, f *fakeMCPServer) *Session {
	t.Helper()
	session, err := Open(context.Background(), f.spec())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestSessionOpenAndDiscover(t *testing.T) {
	fake := newFakeMCPServer(t)
	session := openTestSession(t, fake)

	if session.Transport() != TransportStreamableHTTP {
		t.Fatalf("Transport() = %q, want %q", session.Transport(), TransportStreamableHTTP)
	}
	if session.Source() != fake.server.URL {
		t.Fatalf("Source() = %q, want server URL", session.Source())
	}

	proxy, err := session.DiscoverTool(context.Background(), "get_weather")
	if err != nil {
		t.Fatalf("DiscoverTool() error = %v", err)
	}
	if proxy.Name() != "get_weather" {
		t.Fatalf("proxy.Name() = %q, want get_weather", proxy.Name())
	}
	if proxy.Description() != "Returns the current weather for a city" {
		t.Fatalf("proxy.Description() = %q, want server description", proxy.Description())
	}
	if city, ok := proxy.Schema().Fields()["city"]; !ok || city.Type != TypeString || !city.Required {
		t.Fatalf("schema city field = %+v, want required string", city)
	}
}

func TestSessionDiscoverUnknownTool(t *testing.T) {
	fake := newFakeMCPServer(t)
	session := openTestSession(t, fake)

	_, err := session.DiscoverTool(context.Background(), "no_such_tool")
	if err == nil {
		t.Fatal("DiscoverTool() error = nil, want NotFoundError")
	}
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("DiscoverTool() error type = %T, want *NotFoundError", err)
	}
	if notFound.ToolName != "no_such_tool" {
		t.Fatalf("notFound.ToolName = %q, want no_such_tool", notFound.ToolName)
	}
	if notFound.Server != fake.server.URL {
		t.Fatalf("notFound.Server = %q, want server URL", notFound.Server)
	}
}

func TestSessionDiscoverEmptyName(t *testing.T) {
	fake := newFakeMCPServer(t)
	session := openTestSession(t, fake)

	_, err := session.DiscoverTool(context.Background(), "  ")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("DiscoverTool() error = %v, want *ConfigError", err)
	}
}

func TestSessionListTools(t *testing.T) {
	fake := newFakeMCPServer(t)
	session := openTestSession(t, fake)

	tools, err := session.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "get_weather" {
		t.Fatalf("ListTools() = %+v, want one get_weather tool", tools)
	}

	if err := session.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestSessionOpenConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := Open(context.Background(), TransportSpec{Kind: TransportStreamableHTTP, URL: server.URL})
	if err == nil {
		t.Fatal("Open() error = nil, want TransportError")
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Open() error type = %T, want *TransportError", err)
	}
	if transportErr.Cancelled {
		t.Fatal("transportErr.Cancelled = true, want false for peer fault")
	}
	if !strings.Contains(transportErr.Error(), server.URL) {
		t.Fatalf("error = %q, want endpoint in message", transportErr.Error())
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	fake := newFakeMCPServer(t)
	session, err := Open(context.Background(), fake.spec())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !session.Closed() {
		t.Fatal("Closed() = false after Close")
	}
}

func TestSessionUseAfterClose(t *testing.T) {
	fake := newFakeMCPServer(t)
	session := openTestSession(t, fake)
	proxy, err := session.DiscoverTool(context.Background(), "get_weather")
	if err != nil {
		t.Fatalf("DiscoverTool() error = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var transportErr *TransportError

	if _, err := session.ListTools(context.Background()); !errors.As(err, &transportErr) {
		t.Fatalf("ListTools() after close error = %v, want *TransportError", err)
	}
	if _, err := session.DiscoverTool(context.Background(), "get_weather"); !errors.As(err, &transportErr) {
		t.Fatalf("DiscoverTool() after close error = %v, want *TransportError", err)
	}

	// Proxies bound to the session fail the same way, even when containment
	// is on: a dead connection is never a containable failure.
	proxy.SetContainErrors(true)
	if _, err := proxy.Call(context.Background(), map[string]any{"city": "Oslo"}); !errors.As(err, &transportErr) {
		t.Fatalf("Call() after close error = %v, want *TransportError", err)
	}
}

func TestSessionInvokeStructuredFallback(t *testing.T) {
	fake := newFakeMCPServer(t)
	fake.onCall = func(name string, args map[string]any) (mcp.ToolsCallResult, *mcp.RPCError) {
		return mcp.ToolsCallResult{
			StructuredContent: map[string]any{"temperature": 21.5},
		}, nil
	}
	session := openTestSession(t, fake)
	proxy, err := session.DiscoverTool(context.Background(), "get_weather")
	if err != nil {
		t.Fatalf("DiscoverTool() error = %v", err)
	}

	got, err := proxy.Call(context.Background(), map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != `{"temperature":21.5}` {
		t.Fatalf("Call() = %q, want structured content JSON", got)
	}
}

func TestSessionInvokeJoinsTextBlocks(t *testing.T) {
	fake := newFakeMCPServer(t)
	fake.onCall = func(name string, args map[string]any) (mcp.ToolsCallResult, *mcp.RPCError) {
		return mcp.ToolsCallResult{
			Content: []mcp.ContentBlock{
				{Type: "text", Text: "line one"},
				{Type: "image", Data: "aaaa", MimeType: "image/png"},
				{Type: "text", Text: "line two"},
			},
			StructuredContent: map[string]any{"ignored": true},
		}, nil
	}
	session := openTestSession(t, fake)
	proxy, err := session.DiscoverTool(context.Background(), "get_weather")
	if err != nil {
		t.Fatalf("DiscoverTool() error = %v", err)
	}

	got, err := proxy.Call(context.Background(), map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "line one\nline two" {
		t.Fatalf("Call() = %q, want joined text blocks", got)
	}
}

func TestOpenHandshakeTimeoutCoversDial(t *testing.T) {
	// An SSE server that accepts the stream but never announces its
	// endpoint must not stall Open past the handshake bound.
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	spec := TransportSpec{Kind: TransportSSE, URL: server.URL}

	type openResult struct {
		session *Session
		err     error
	}
	done := make(chan openResult, 1)
	go func() {
		session, err := Open(context.Background(), spec, WithHandshakeTimeout(150*time.Millisecond))
		done <- openResult{session, err}
	}()

	select {
	case got := <-done:
		if got.err == nil {
			_ = got.session.Close()
			t.Fatal("Open() error = nil, want handshake timeout")
		}
		var transportErr *TransportError
		if !errors.As(got.err, &transportErr) {
			t.Fatalf("Open() error = %v, want *TransportError", got.err)
		}
		if !transportErr.Cancelled {
			t.Fatal("transportErr.Cancelled = false, want true for handshake deadline")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Open() still blocked past the handshake timeout")
	}
}

func TestSessionCloseUnblocksInvoke(t *testing.T) {
	fake := newFakeMCPServer(t)
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	fake.onCall = func(name string, args map[string]any) (mcp.ToolsCallResult, *mcp.RPCError) {
		close(started)
		<-release
		return mcp.ToolsCallResult{}, nil
	}

	session, err := Open(context.Background(), fake.spec())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	proxy, err := session.DiscoverTool(context.Background(), "get_weather")
	if err != nil {
		t.Fatalf("DiscoverTool() error = %v", err)
	}
	proxy.SetContainErrors(true)

	callErrCh := make(chan error, 1)
	go func() {
		_, err := proxy.Call(context.Background(), map[string]any{"city": "Oslo"})
		callErrCh <- err
	}()

	<-started
	if err := session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-callErrCh:
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("Call() error = %v, want *TransportError despite containment", err)
		}
		if !transportErr.Cancelled {
			t.Fatal("transportErr.Cancelled = false, want true after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call() still blocked after Close")
	}
}
