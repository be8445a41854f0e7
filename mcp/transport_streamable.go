package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const sessionIDHeader = "Mcp-Session-Id"

// StreamableHTTPTransportConfig configures a streamable HTTP MCP transport.
type StreamableHTTPTransportConfig struct {
	Endpoint string
	Headers  map[string]string
	Client   *http.Client
}

// StreamableHTTPTransport implements MCP transport over chunked HTTP POST
// exchanges. Each request is posted to the endpoint; the response body is
// either a single JSON message or a text/event-stream carrying one or more
// messages. The session identifier issued on initialize is replayed on every
// subsequent request.
type StreamableHTTPTransport struct {
	mu        sync.Mutex
	cfg       StreamableHTTPTransportConfig
	sessionID string
	recvCh    chan Message
	closed    bool

	// closeCtx is cancelled by Close so in-flight POST exchanges abort
	// instead of waiting out the server.
	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// NewStreamableHTTPTransport creates a streamable HTTP transport.
func NewStreamableHTTPTransport(cfg StreamableHTTPTransportConfig) (*StreamableHTTPTransport, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("mcp: streamable http endpoint is required")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	closeCtx, closeCancel := context.WithCancel(context.Background())
	return &StreamableHTTPTransport{
		cfg:         cfg,
		recvCh:      make(chan Message, 64),
		closeCtx:    closeCtx,
		closeCancel: closeCancel,
	}, nil
}

// Send posts one JSON-RPC message and enqueues every message carried by the
// response body.
func (t *StreamableHTTPTransport) Send(ctx context.Context, message Message) error {
	t.mu.Lock()
	closed := t.closed
	sessionID := t.sessionID
	t.mu.Unlock()
	if closed {
		return errors.New("mcp: streamable http transport is closed")
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode request: %w", err)
	}

	// Abort the exchange when either the caller context or Close fires.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.closeCtx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mcp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(sessionIDHeader, sessionID)
	}
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		if t.closeCtx.Err() != nil {
			return fmt.Errorf("mcp: send request: %w", ErrClientClosed)
		}
		return fmt.Errorf("mcp: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("mcp: endpoint returned status %d", resp.StatusCode)
	}
	if issued := resp.Header.Get(sessionIDHeader); issued != "" {
		t.mu.Lock()
		t.sessionID = issued
		t.mu.Unlock()
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		return t.enqueueStream(ctx, resp.Body)
	}
	return t.enqueueBody(ctx, resp.Body)
}

func (t *StreamableHTTPTransport) enqueueBody(ctx context.Context, body io.Reader) error {
	responseBytes, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("mcp: read response: %w", err)
	}
	if len(bytes.TrimSpace(responseBytes)) == 0 {
		return nil
	}

	var response Message
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return fmt.Errorf("mcp: decode response: %w", err)
	}
	return t.enqueue(ctx, response)
}

func (t *StreamableHTTPTransport) enqueueStream(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data bytes.Buffer
	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		var response Message
		if err := json.Unmarshal(data.Bytes(), &response); err != nil {
			return fmt.Errorf("mcp: decode stream message: %w", err)
		}
		data.Reset()
		return t.enqueue(ctx, response)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcp: read response stream: %w", err)
	}
	return flush()
}

func (t *StreamableHTTPTransport) enqueue(ctx context.Context, message Message) error {
	select {
	case t.recvCh <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next queued JSON-RPC message.
func (t *StreamableHTTPTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case message := <-t.recvCh:
		return message, nil
	}
}

// Close marks the transport closed and cancels in-flight exchanges. Safe to
// call more than once.
func (t *StreamableHTTPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.closeCancel()
	return nil
}
