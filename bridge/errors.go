package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/AnuradhaKaruppiah/oss-agentiq/mcp"
)

// ConfigError reports malformed, ambiguous, or incomplete bridge
// configuration. It is fatal at setup and never contained.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return "bridge: " + e.Message
}

func newConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// TransportError reports a connection, handshake, or in-flight transport
// fault. Cancelled marks faults caused by caller-driven cancellation or
// timeout. TransportError is never contained.
type TransportError struct {
	Message   string
	Cancelled bool
	Cause     error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NotFoundError reports that the remote catalog lists no tool with the
// requested name. It is fatal for that discovery attempt and never contained.
type NotFoundError struct {
	ToolName string
	Server   string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("bridge: tool %q not found on MCP server at %s", e.ToolName, e.Server)
}

// ValidationError reports caller-supplied input that fails schema validation.
// It is eligible for containment; Error returns the failure text verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// RemoteToolError reports a domain-level failure returned by the remote tool
// itself. It is eligible for containment; Error returns the failure text
// verbatim.
type RemoteToolError struct {
	ToolName string
	Message  string
}

func (e *RemoteToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// containable reports whether an error is eligible for the returnException
// containment policy. Only validation and remote-tool failures qualify;
// config, not-found, and transport faults always propagate.
func containable(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return true
	}
	var remoteErr *RemoteToolError
	return errors.As(err, &remoteErr)
}

// transportError classifies a failure from the mcp client layer. Cancellation,
// deadline expiry, and session close are flagged so callers can distinguish
// caller-driven shutdown from peer faults.
func transportError(message string, err error) *TransportError {
	cancelled := errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, mcp.ErrClientClosed)
	return &TransportError{
		Message:   message,
		Cancelled: cancelled,
		Cause:     err,
	}
}

// asRPCError extracts a JSON-RPC application error, if any, from an mcp
// request failure.
func asRPCError(err error) (*mcp.RPCError, bool) {
	var rpcErr *mcp.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
