package session

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/manash/memegen/pkg/models"
)

func testStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewStoreWithPath(dbPath)
	if err != nil {
		t.Fatalf("NewStoreWithPath() error = %v", err)
	}

	cleanup := func() {
		store.Close()
	}
	return store, cleanup
}

func sampleProject(id string, updated time.Time) *Project {
	return &Project{
		ID:        id,
		Name:      "Project " + id,
		CreatedAt: updated,
		UpdatedAt: updated,
		Source:    "cat.png",
		MIMEType:  "image/png",
		Image:     []byte{0x89, 'P', 'N', 'G', 1, 2, 3},
		Layers: []models.TextLayer{
			{ID: "l1", Content: "TOP", X: 300, Y: 100, FontSize: 40},
			{ID: "l2", Content: "two\nlines", X: 120.5, Y: 350, FontSize: 72},
		},
	}
}

func TestNewStoreWithPath_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "projects.db")
	store, err := NewStoreWithPath(dbPath)
	if err != nil {
		t.Fatalf("NewStoreWithPath() error = %v", err)
	}
	store.Close()
}

func TestStore_CreateAndGetProject(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	p := sampleProject("p1", time.Now())
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	got, err := store.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Name != p.Name || got.Source != p.Source || got.MIMEType != p.MIMEType {
		t.Errorf("GetProject() = %+v", got)
	}
	if string(got.Image) != string(p.Image) || got.ImageBytes != len(p.Image) {
		t.Errorf("GetProject() image = %v", got.Image)
	}
	if len(got.Layers) != 2 || got.Layers[1] != p.Layers[1] {
		t.Errorf("GetProject() layers = %+v", got.Layers)
	}
}

func TestStore_GetProjectMissing(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	if _, err := store.GetProject(context.Background(), "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetProject() error = %v, want %v", err, sql.ErrNoRows)
	}
}

func TestStore_UpdateAndRenameProject(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	p := sampleProject("p1", time.Now())
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatal(err)
	}

	p.Layers = nil
	p.Source = ""
	if err := store.UpdateProject(ctx, p); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}
	if err := store.RenameProject(ctx, "p1", "renamed", time.Now()); err != nil {
		t.Fatalf("RenameProject() error = %v", err)
	}

	got, err := store.GetProject(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "renamed" || got.Source != "" || len(got.Layers) != 0 {
		t.Errorf("GetProject() = %+v", got)
	}
}

func TestStore_ListProjectsNewestFirst(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{-2 * time.Hour, 0, -time.Hour}
		if err := store.CreateProject(ctx, sampleProject(id, base.Add(offsets[i]))); err != nil {
			t.Fatal(err)
		}
	}

	projects, err := store.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 3 {
		t.Fatalf("ListProjects() len = %d, want 3", len(projects))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if projects[i].ID != want {
			t.Errorf("projects[%d] = %s, want %s", i, projects[i].ID, want)
		}
	}
	if projects[0].Image != nil || projects[0].ImageBytes != 7 {
		t.Errorf("listing image = %v bytes=%d", projects[0].Image, projects[0].ImageBytes)
	}
}

func TestStore_DeleteProjectKeepsCalls(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	if err := store.CreateProject(ctx, sampleProject("p1", now)); err != nil {
		t.Fatal(err)
	}
	if err := store.LogCall(ctx, &CallEntry{ProjectID: "p1", Provider: "gemini", Model: "m", Operation: "captions", Success: true, Duration: time.Second, Timestamp: now}); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}

	if _, err := store.GetProject(ctx, "p1"); err == nil {
		t.Error("project still present after delete")
	}
	summary, err := store.SummarizeCalls(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Calls != 1 {
		t.Errorf("calls after project delete = %d, want 1", summary.Calls)
	}
}

func TestStore_CallSummaries(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	entries := []CallEntry{
		{Provider: "gemini", Model: "flash", Operation: "captions", Success: true, Duration: 1200 * time.Millisecond, Timestamp: now},
		{Provider: "gemini", Model: "image", Operation: "edit", Success: false, Duration: 300 * time.Millisecond, Timestamp: now},
		{Provider: "openai", Model: "gpt-5", Operation: "analyze", Success: true, Duration: 500 * time.Millisecond, Timestamp: now},
		{Provider: "openai", Model: "gpt-5-mini", Operation: "captions", Success: true, Duration: time.Second, Timestamp: now.Add(-48 * time.Hour)},
	}
	for i := range entries {
		if err := store.LogCall(ctx, &entries[i]); err != nil {
			t.Fatalf("LogCall() error = %v", err)
		}
	}

	start, end := now.Add(-time.Hour), now.Add(time.Hour)
	total, err := store.SummarizeCalls(ctx, start, end)
	if err != nil {
		t.Fatalf("SummarizeCalls() error = %v", err)
	}
	if total.Calls != 3 || total.Failures != 1 || total.TotalDuration != 2*time.Second {
		t.Errorf("SummarizeCalls() = %+v", total)
	}

	byProvider, err := store.SummarizeCallsBy(ctx, "provider", start, end)
	if err != nil {
		t.Fatalf("SummarizeCallsBy() error = %v", err)
	}
	if len(byProvider) != 2 || byProvider[0].Key != "gemini" || byProvider[0].Calls != 2 || byProvider[1].Calls != 1 {
		t.Errorf("by provider = %+v", byProvider)
	}

	byOp, err := store.SummarizeCallsBy(ctx, "operation", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(byOp) != 3 {
		t.Errorf("by operation = %+v", byOp)
	}

	if _, err := store.SummarizeCallsBy(ctx, "model; DROP TABLE ai_calls", start, end); err == nil {
		t.Error("SummarizeCallsBy() accepted arbitrary column")
	}
}

func TestCallSummary_AvgDuration(t *testing.T) {
	if got := (CallSummary{}).AvgDuration(); got != 0 {
		t.Errorf("AvgDuration() = %v, want 0", got)
	}
	s := CallSummary{Calls: 4, TotalDuration: 2 * time.Second}
	if got := s.AvgDuration(); got != 500*time.Millisecond {
		t.Errorf("AvgDuration() = %v, want 500ms", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 15, 14, 30, 45, 0, time.UTC)
	if got := FormatTimestamp(ts); got != "2024-03-15 14:30:45" {
		t.Errorf("FormatTimestamp() = %v", got)
	}
}
