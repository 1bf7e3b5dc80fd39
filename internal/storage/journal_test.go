package storage

import (
	"context"
	"testing"
	"time"

	"github.com/example/driver-console/internal/models"
)

func TestMemoryJournalDedupesAndOrders(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []models.LifecycleRecord{
		{EventID: "e1", DriverID: "d1", Type: "driver.online", At: base},
		{EventID: "e2", DriverID: "d1", Type: "request.surfaced", At: base.Add(time.Minute)},
		{EventID: "e2", DriverID: "d1", Type: "request.surfaced", At: base.Add(time.Minute)},
		{EventID: "e3", DriverID: "d2", Type: "driver.online", At: base},
		{EventID: "e4", DriverID: "d1", Type: "request.accepted", At: base.Add(2 * time.Minute)},
	}
	for _, r := range recs {
		if err := j.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := j.Recent(ctx, "d1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].EventID != "e4" || got[1].EventID != "e2" {
		t.Fatalf("unexpected records %+v", got)
	}
	all, _ := j.Recent(ctx, "d1", 0)
	if len(all) != 3 {
		t.Fatalf("duplicate was stored: %d records", len(all))
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected up and down migrations, got %d", len(entries))
	}
}
