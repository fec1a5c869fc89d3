package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	repo, err := NewRepository(context.Background(), db)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	return repo
}

func TestRepository_RecordAndGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	entry := Entry{
		CommandID: "cmd-abc12345",
		Action:    "display_text",
		Status:    "success",
		Message:   "Displayed text: hello",
		Source:    "socket",
		Duration:  1200,
	}
	if err := repo.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := repo.Get(ctx, "cmd-abc12345")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Action != entry.Action || got.Status != entry.Status || got.Message != entry.Message {
		t.Errorf("Get() = %+v, want fields from %+v", got, entry)
	}
	if got.Duration != 1200 {
		t.Errorf("Get().Duration = %d, want 1200", got.Duration)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Get().CreatedAt is zero")
	}
}

func TestRepository_GetNotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.Get(context.Background(), "cmd-missing1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_RecordValidation(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing command id", Entry{Action: "clear", Status: "success"}},
		{"missing action", Entry{CommandID: "cmd-1", Status: "success"}},
		{"missing status", Entry{CommandID: "cmd-2", Action: "clear"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Record(ctx, tt.entry); err == nil {
				t.Error("Record() = nil error, want validation failure")
			}
		})
	}
}

func TestRepository_RecordDefaultsSource(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Record(ctx, Entry{CommandID: "cmd-nosrc01", Action: "clear", Status: "success"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := repo.Get(ctx, "cmd-nosrc01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Source != "socket" {
		t.Errorf("Source = %q, want default %q", got.Source, "socket")
	}
}

func TestRepository_ListNewestFirstAndClamped(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := repo.Record(ctx, Entry{
			CommandID: "cmd-list000" + string(rune('a'+i)),
			Action:    "clear",
			Status:    "success",
		})
		if err != nil {
			t.Fatalf("Record() #%d error = %v", i, err)
		}
	}

	entries, err := repo.List(ctx, 3)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List(3) returned %d entries", len(entries))
	}
	// Newest first: the last recorded entry leads.
	if entries[0].CommandID != "cmd-list000e" {
		t.Errorf("List()[0].CommandID = %q, want newest", entries[0].CommandID)
	}

	// Zero limit uses the default.
	entries, err = repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("List(0) error = %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("List(0) returned %d entries, want all 5", len(entries))
	}

	// Oversized limits are clamped, not rejected.
	if _, err := repo.List(ctx, 100000); err != nil {
		t.Errorf("List(100000) error = %v", err)
	}
}

func TestRepository_PruneOlderThan(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Record(ctx, Entry{CommandID: "cmd-keep0001", Action: "clear", Status: "success"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// Nothing is old enough to prune.
	deleted, err := repo.PruneOlderThan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PruneOlderThan() error = %v", err)
	}
	if deleted != 0 {
		t.Errorf("PruneOlderThan(1h) deleted %d, want 0", deleted)
	}

	if _, err := repo.PruneOlderThan(ctx, 0); err == nil {
		t.Error("PruneOlderThan(0) = nil error, want rejection")
	}
}
