// Package catalog persists snapshots of remote MCP tool descriptors so
// discovered tools can be inspected without reconnecting to their servers.
package catalog

import (
	"context"
	"time"

	"github.com/AnuradhaKaruppiah/oss-agentiq/mcp"
)

// ToolRecord is one discovered tool descriptor, keyed by server source and
// tool name.
type ToolRecord struct {
	Server       string         `json:"server"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	DiscoveredAt time.Time      `json:"discovered_at"`
}

// Store persists tool descriptor snapshots.
type Store interface {
	List(ctx context.Context) ([]ToolRecord, error)
	ListServer(ctx context.Context, server string) ([]ToolRecord, error)
	Get(ctx context.Context, server, name string) (ToolRecord, bool, error)
	Upsert(ctx context.Context, record ToolRecord) error
	Delete(ctx context.Context, server, name string) error
	Close() error
}

// Lister is the discovery surface a snapshot reads from. Bridge sessions
// satisfy it.
type Lister interface {
	Source() string
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// Snapshot lists every tool the remote server offers and upserts a record
// for each. It returns the stored records.
func Snapshot(ctx context.Context, store Store, source Lister) ([]ToolRecord, error) {
	tools, err := source.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]ToolRecord, 0, len(tools))
	for _, tool := range tools {
		record := ToolRecord{
			Server:       source.Source(),
			Name:         tool.Name,
			Description:  tool.Description,
			InputSchema:  tool.InputSchema,
			DiscoveredAt: now,
		}
		if err := store.Upsert(ctx, record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
