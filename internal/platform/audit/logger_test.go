package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"grip/internal/platform/database"
	"grip/migrations"
)

func TestLogAndList(t *testing.T) {
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()
	if _, err := database.Migrate(context.Background(), db, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	logger := NewLogger(db)

	req := httptest.NewRequest("PUT", "/api/v1/organizations/org_1/visibility", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("User-Agent", "grip-test")
	ctx := WithRequest(context.Background(), req)

	logger.Log(ctx, "org_1", "usr_1", ActionVisibilityUpdated, "organization", "org_1", map[string]interface{}{"visibility": "private"})
	logger.Log(context.Background(), "org_2", "usr_1", ActionMemberAdded, "member", "mem_1", nil)
	logger.Wait()

	logs, err := logger.List(context.Background(), "org_1", 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry for org_1, got %d", len(logs))
	}
	entry := logs[0]
	if entry.IPAddress != "10.0.0.1" || entry.UserAgent != "grip-test" {
		t.Errorf("request info not recorded: %+v", entry)
	}
	if entry.Metadata["visibility"] != "private" {
		t.Errorf("unexpected metadata %v", entry.Metadata)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	logger.Log(context.Background(), "org_1", "usr_1", ActionMemberAdded, "member", "mem_1", nil)
}
