// Package server exposes locally registered tools as an MCP server over the
// streamable HTTP transport, so other MCP clients can discover and call them.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/petal-labs/iris/tools"

	"github.com/AnuradhaKaruppiah/oss-agentiq/mcp"
)

const (
	protocolVersion = "2025-06-18"

	sessionIDHeader = "Mcp-Session-Id"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Config configures an MCP Server instance.
type Config struct {
	Name    string
	Version string
	MaxBody int64
	Logger  *slog.Logger
}

// Server serves registered tools over the MCP protocol.
type Server struct {
	name    string
	version string
	maxBody int64
	logger  *slog.Logger

	mu    sync.RWMutex
	tools map[string]tools.Tool
	order []string
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg Config) *Server {
	name := cfg.Name
	if name == "" {
		name = "agentiq"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		name:    name,
		version: cfg.Version,
		maxBody: maxBody,
		logger:  logger,
		tools:   make(map[string]tools.Tool),
	}
}

// RegisterTool adds a tool to the served catalog. Registering an existing
// name is an error.
func (s *Server) RegisterTool(tool tools.Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("server: tool name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name()]; exists {
		return fmt.Errorf("server: tool %q already registered", tool.Name())
	}
	s.tools[tool.Name()] = tool
	s.order = append(s.order, tool.Name())
	return nil
}

// ToolNames returns registered tool names in sorted order.
func (s *Server) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	sort.Strings(names)
	return names
}

// Handler returns an http.Handler with the MCP endpoint wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers the MCP routes on an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /mcp", s.handleMessage)
	mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	defer body.Close()

	var message mcp.Message
	if err := json.NewDecoder(body).Decode(&message); err != nil {
		writeRPCError(w, 0, codeParseError, fmt.Sprintf("parse request: %v", err))
		return
	}

	sessionID := r.Header.Get(sessionIDHeader)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	w.Header().Set(sessionIDHeader, sessionID)

	// Notifications carry no ID and get no response body.
	if message.ID == 0 && message.Method != "" {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch message.Method {
	case "initialize":
		s.handleInitialize(w, message)
	case "tools/list":
		s.handleToolsList(w, message)
	case "tools/call":
		s.handleToolsCall(r.Context(), w, message)
	default:
		writeRPCError(w, message.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", message.Method))
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, message mcp.Message) {
	writeResult(w, message.ID, mcp.InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
		ServerInfo: mcp.ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
	})
}

func (s *Server) handleToolsList(w http.ResponseWriter, message mcp.Message) {
	s.mu.RLock()
	listed := make([]mcp.Tool, 0, len(s.order))
	for _, name := range s.order {
		tool := s.tools[name]
		listed = append(listed, mcp.Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: schemaObject(tool.Schema()),
		})
	}
	s.mu.RUnlock()

	writeResult(w, message.ID, mcp.ToolsListResult{Tools: listed})
}

func (s *Server) handleToolsCall(ctx context.Context, w http.ResponseWriter, message mcp.Message) {
	var params mcp.ToolsCallParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		writeRPCError(w, message.ID, codeInvalidParams, fmt.Sprintf("parse tools/call params: %v", err))
		return
	}

	s.mu.RLock()
	tool, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		writeRPCError(w, message.ID, codeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
		return
	}

	args, err := json.Marshal(params.Arguments)
	if err != nil {
		writeRPCError(w, message.ID, codeInvalidParams, fmt.Sprintf("encode arguments: %v", err))
		return
	}

	result, err := tool.Call(ctx, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", params.Name, "error", err)
		writeResult(w, message.ID, mcp.ToolsCallResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}

	writeResult(w, message.ID, toCallResult(result))
}

func toCallResult(result any) mcp.ToolsCallResult {
	switch typed := result.(type) {
	case nil:
		return mcp.ToolsCallResult{}
	case string:
		return mcp.ToolsCallResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: typed}},
		}
	case map[string]any:
		out := mcp.ToolsCallResult{StructuredContent: typed}
		if data, err := json.Marshal(typed); err == nil {
			out.Content = []mcp.ContentBlock{{Type: "text", Text: string(data)}}
		}
		return out
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return mcp.ToolsCallResult{
				Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprint(typed)}},
			}
		}
		return mcp.ToolsCallResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: string(data)}},
		}
	}
}

func schemaObject(schema tools.ToolSchema) map[string]any {
	if len(schema.JSONSchema) == 0 {
		return map[string]any{"type": "object"}
	}
	var object map[string]any
	if err := json.Unmarshal(schema.JSONSchema, &object); err != nil {
		return map[string]any{"type": "object"}
	}
	return object
}

func writeResult(w http.ResponseWriter, id int64, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		writeRPCError(w, id, codeInternalError, fmt.Sprintf("encode result: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, mcp.Message{
		JSONRPC: "2.0",
		ID:      id,
		Result:  data,
	})
}

func writeRPCError(w http.ResponseWriter, id int64, code int, message string) {
	writeJSON(w, http.StatusOK, mcp.Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &mcp.RPCError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
