package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AnuradhaKaruppiah/oss-agentiq/mcp"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreUpsertGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := ToolRecord{
		Server:      "http://localhost:9901/mcp",
		Name:        "get_weather",
		Description: "Returns the current weather",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
		},
		DiscoveredAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, found, err := store.Get(ctx, record.Server, record.Name)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false, want true")
	}
	if got.Description != record.Description {
		t.Fatalf("got.Description = %q, want %q", got.Description, record.Description)
	}
	if !got.DiscoveredAt.Equal(record.DiscoveredAt) {
		t.Fatalf("got.DiscoveredAt = %v, want %v", got.DiscoveredAt, record.DiscoveredAt)
	}
	props, ok := got.InputSchema["properties"].(map[string]any)
	if !ok || props["city"] == nil {
		t.Fatalf("got.InputSchema = %v, want city property preserved", got.InputSchema)
	}

	// Upsert with the same key replaces the record.
	record.Description = "Updated description"
	if err := store.Upsert(ctx, record); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	got, _, err = store.Get(ctx, record.Server, record.Name)
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	if got.Description != "Updated description" {
		t.Fatalf("got.Description = %q, want updated text", got.Description)
	}
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.Get(context.Background(), "http://nowhere", "ghost")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Fatal("Get() found = true for missing record")
	}
}

func TestSQLiteStoreUpsertValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, ToolRecord{Name: "x"}); err == nil {
		t.Fatal("Upsert() without server error = nil, want failure")
	}
	if err := store.Upsert(ctx, ToolRecord{Server: "s"}); err == nil {
		t.Fatal("Upsert() without name error = nil, want failure")
	}
}

func TestSQLiteStoreListOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []ToolRecord{
		{Server: "srv-b", Name: "tool_z"},
		{Server: "srv-a", Name: "tool_b"},
		{Server: "srv-a", Name: "tool_a"},
	}
	for _, record := range seed {
		if err := store.Upsert(ctx, record); err != nil {
			t.Fatalf("Upsert(%s/%s) error = %v", record.Server, record.Name, err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(all))
	}
	wantOrder := []string{"tool_a", "tool_b", "tool_z"}
	for i, want := range wantOrder {
		if all[i].Name != want {
			t.Fatalf("List()[%d].Name = %q, want %q", i, all[i].Name, want)
		}
	}

	byServer, err := store.ListServer(ctx, "srv-a")
	if err != nil {
		t.Fatalf("ListServer() error = %v", err)
	}
	if len(byServer) != 2 {
		t.Fatalf("len(ListServer(srv-a)) = %d, want 2", len(byServer))
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := ToolRecord{Server: "srv", Name: "tool"}
	if err := store.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Delete(ctx, "srv", "tool"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, _ := store.Get(ctx, "srv", "tool"); found {
		t.Fatal("record still present after Delete()")
	}

	// Deleting a missing record is a no-op.
	if err := store.Delete(ctx, "srv", "tool"); err != nil {
		t.Fatalf("Delete() of missing record error = %v", err)
	}
}

func TestNewSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore("  "); err == nil {
		t.Fatal("NewSQLiteStore() error = nil, want dsn-required failure")
	}
}

type fakeLister struct {
	source string
	tools  []mcp.Tool
	err    error
}

func (l *fakeLister) Source() string { return l.source }

func (l *fakeLister) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.tools, nil
}

func TestSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lister := &fakeLister{
		source: "http://localhost:9901/mcp",
		tools: []mcp.Tool{
			{Name: "get_weather", Description: "Weather lookup"},
			{Name: "get_datetime", Description: "Current date and time"},
		},
	}

	records, err := Snapshot(ctx, store, lister)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}

	stored, err := store.ListServer(ctx, lister.source)
	if err != nil {
		t.Fatalf("ListServer() error = %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("len(stored) = %d, want 2", len(stored))
	}
	for _, record := range stored {
		if record.Server != lister.source {
			t.Fatalf("record.Server = %q, want %q", record.Server, lister.source)
		}
		if record.DiscoveredAt.IsZero() {
			t.Fatal("record.DiscoveredAt is zero, want snapshot time")
		}
	}
}

func TestSnapshotListFailure(t *testing.T) {
	store := newTestStore(t)
	wantErr := errors.New("connection refused")

	_, err := Snapshot(context.Background(), store, &fakeLister{source: "s", err: wantErr})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Snapshot() error = %v, want wrapped list failure", err)
	}
}
