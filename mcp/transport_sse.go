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
	"net/url"
	"strings"
	"sync"
)

// SSETransportConfig configures an SSE MCP transport.
type SSETransportConfig struct {
	// Endpoint is the URL of the server's event-stream endpoint.
	Endpoint string
	Headers  map[string]string
	Client   *http.Client
}

// SSETransport implements MCP transport over a long-lived Server-Sent-Events
// stream for server-to-client messages plus a companion HTTP POST channel for
// client-to-server requests. The POST URL is announced by the server in the
// stream's initial "endpoint" event.
type SSETransport struct {
	mu           sync.Mutex
	cfg          SSETransportConfig
	postURL      string
	stream       io.Closer
	streamCancel context.CancelFunc
	recvCh       chan Message
	errCh        chan error
	closed       bool
}

// NewSSETransport opens the event stream and waits for the server's endpoint
// announcement. It fails on connection refusal, a non-2xx response, or when
// ctx expires before the announcement arrives.
func NewSSETransport(ctx context.Context, cfg SSETransportConfig) (*SSETransport, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("mcp: sse endpoint is required")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	// The stream must outlive ctx, which only bounds the dial phase. It
	// runs on its own cancelable context, tied to ctx until the endpoint
	// announcement arrives and detached afterwards.
	streamCtx, streamCancel := context.WithCancel(context.Background())
	detach := context.AfterFunc(ctx, streamCancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, cfg.Endpoint, nil)
	if err != nil {
		detach()
		streamCancel()
		return nil, fmt.Errorf("mcp: build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := cfg.Client.Do(req) // #nosec G107 -- endpoint comes from trusted bridge configuration.
	if err != nil {
		detach()
		streamCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("mcp: open event stream: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detach()
		streamCancel()
		_ = resp.Body.Close()
		return nil, fmt.Errorf("mcp: event stream returned status %d", resp.StatusCode)
	}

	t := &SSETransport{
		cfg:          cfg,
		stream:       resp.Body,
		streamCancel: streamCancel,
		recvCh:       make(chan Message, 64),
		errCh:        make(chan error, 1),
	}
	endpointCh := make(chan string, 1)
	go t.readLoop(resp.Body, endpointCh)

	select {
	case postURL := <-endpointCh:
		resolved, err := resolveEndpointURL(cfg.Endpoint, postURL)
		if err != nil {
			detach()
			_ = t.Close(context.Background())
			return nil, err
		}
		t.mu.Lock()
		t.postURL = resolved
		t.mu.Unlock()
		detach()
		return t, nil
	case err := <-t.errCh:
		detach()
		_ = t.Close(context.Background())
		return nil, err
	case <-ctx.Done():
		detach()
		_ = t.Close(context.Background())
		return nil, fmt.Errorf("mcp: waiting for endpoint event: %w", ctx.Err())
	}
}

func (t *SSETransport) readLoop(body io.Reader, endpointCh chan<- string) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	event := ""
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			t.dispatchEvent(event, data.String(), endpointCh)
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	err := scanner.Err()
	if err == nil {
		err = errors.New("mcp: event stream ended")
	}
	t.sendErr(fmt.Errorf("mcp: read event stream: %w", err))
}

func (t *SSETransport) dispatchEvent(event, data string, endpointCh chan<- string) {
	if strings.TrimSpace(data) == "" {
		return
	}
	switch event {
	case "endpoint":
		select {
		case endpointCh <- strings.TrimSpace(data):
		default:
		}
	case "", "message":
		var message Message
		if err := json.Unmarshal([]byte(data), &message); err != nil {
			t.sendErr(fmt.Errorf("mcp: decode stream message: %w", err))
			return
		}
		select {
		case t.recvCh <- message:
		default:
			t.sendErr(errors.New("mcp: sse receive queue is full"))
		}
	}
}

// Send posts one JSON-RPC message to the announced endpoint. Responses arrive
// on the event stream, not in the POST body.
func (t *SSETransport) Send(ctx context.Context, message Message) error {
	t.mu.Lock()
	closed := t.closed
	postURL := t.postURL
	t.mu.Unlock()
	if closed {
		return errors.New("mcp: sse transport is closed")
	}
	if postURL == "" {
		return errors.New("mcp: sse endpoint has not been announced")
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mcp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mcp: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Receive waits for the next JSON-RPC message from the event stream.
func (t *SSETransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case err := <-t.errCh:
		return Message{}, err
	case message := <-t.recvCh:
		return message, nil
	}
}

// Close terminates the event stream. Safe to call more than once.
func (t *SSETransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stream := t.stream
	streamCancel := t.streamCancel
	t.mu.Unlock()

	if streamCancel != nil {
		streamCancel()
	}
	if stream != nil {
		return stream.Close()
	}
	return nil
}

func (t *SSETransport) sendErr(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

func resolveEndpointURL(streamEndpoint, announced string) (string, error) {
	base, err := url.Parse(streamEndpoint)
	if err != nil {
		return "", fmt.Errorf("mcp: parse stream endpoint: %w", err)
	}
	ref, err := url.Parse(announced)
	if err != nil {
		return "", fmt.Errorf("mcp: parse announced endpoint: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
