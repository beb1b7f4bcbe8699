package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestChatLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chat.ID == "" {
		t.Fatal("chat should have an ID")
	}

	err = db.AppendMessages(ctx, chat.ID, []models.ChatMessage{
		{Role: "user", Content: "how do I replace the air filter?"},
		{Role: "assistant", Content: "Open the housing and swap the element."},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "how do I replace the air filter?" {
		t.Errorf("chat should be auto-titled from the first user message, got %q", got.Title)
	}
	if got.MessageCount != 2 {
		t.Errorf("expected 2 messages, got %d", got.MessageCount)
	}
	if got.Messages[1].Role != "assistant" {
		t.Errorf("messages out of order: %+v", got.Messages)
	}

	// A second append must not re-title.
	if err := db.AppendMessages(ctx, chat.ID, []models.ChatMessage{{Role: "user", Content: "and the oil?"}}); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "how do I replace the air filter?" {
		t.Errorf("title changed on later append: %q", got.Title)
	}

	if err := db.RenameChat(ctx, chat.ID, "air filter"); err != nil {
		t.Fatal(err)
	}
	chats, err := db.ListChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Title != "air filter" {
		t.Errorf("unexpected chat list: %+v", chats)
	}
	if chats[0].MessageCount != 3 {
		t.Errorf("expected message count 3 in listing, got %d", chats[0].MessageCount)
	}

	if err := db.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetChat(ctx, chat.ID); err == nil {
		t.Error("expected error fetching deleted chat")
	}
}

func TestChatAutoTitleTruncated(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("w", 100)
	if err := db.AppendMessages(ctx, chat.ID, []models.ChatMessage{{Role: "user", Content: long}}); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != strings.Repeat("w", 60)+"..." {
		t.Errorf("expected title truncated to 60 chars, got %d chars", len(got.Title))
	}
}

func TestAppendToMissingChat(t *testing.T) {
	db := openTestDB(t)
	err := db.AppendMessages(context.Background(), "nope", []models.ChatMessage{{Role: "user", Content: "x"}})
	if err == nil {
		t.Error("expected error appending to a missing chat")
	}
}

func TestPromptOverrides(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p, err := db.GetPrompt(ctx, "rag_system")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected nil for unedited prompt, got %+v", p)
	}

	err = db.UpsertPrompt(ctx, &models.Prompt{
		Key:       "rag_system",
		Name:      "Answer system prompt",
		Content:   "You answer only from the provided context.",
		Variables: []string{},
	})
	if err != nil {
		t.Fatal(err)
	}

	p, err = db.GetPrompt(ctx, "rag_system")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Content != "You answer only from the provided context." {
		t.Fatalf("unexpected prompt: %+v", p)
	}

	// Upsert replaces.
	err = db.UpsertPrompt(ctx, &models.Prompt{Key: "rag_system", Name: "Answer system prompt", Content: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	p, _ = db.GetPrompt(ctx, "rag_system")
	if p.Content != "v2" {
		t.Errorf("upsert did not replace content: %q", p.Content)
	}

	list, err := db.ListPrompts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 stored prompt, got %d", len(list))
	}

	if err := db.DeletePrompt(ctx, "rag_system"); err != nil {
		t.Fatal(err)
	}
	p, err = db.GetPrompt(ctx, "rag_system")
	if err != nil || p != nil {
		t.Errorf("expected prompt gone after delete: %+v, %v", p, err)
	}
}

func TestMetrics(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, ms := range []float64{100, 200, 300} {
		err := db.InsertMetric(ctx, &MetricEvent{
			Type:       "query",
			DurationMs: ms,
			Metadata:   map[string]string{"model": "llama3.2"},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := db.InsertMetric(ctx, &MetricEvent{Type: "ingest", DurationMs: 50}); err != nil {
		t.Fatal(err)
	}

	events, err := db.ListMetrics(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected limit 2, got %d", len(events))
	}
	if events[0].Type != "ingest" {
		t.Errorf("expected newest first, got %s", events[0].Type)
	}

	summaries, err := db.SummarizeMetrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summary rows, got %d", len(summaries))
	}
	// Sorted by type: ingest, query.
	q := summaries[1]
	if q.Type != "query" || q.Count != 3 || q.AvgDurationMs != 200 || q.MaxDurationMs != 300 {
		t.Errorf("unexpected query summary: %+v", q)
	}
}

func TestJobRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := &JobRecord{ID: "job1", SourceType: "file", Filename: "manual.pdf", Status: "queued"}
	if err := db.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	job.Status = "completed"
	job.DocumentID = "doc1"
	job.ChunkCount = 12
	if err := db.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetJob(ctx, "job1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" || got.DocumentID != "doc1" || got.ChunkCount != 12 {
		t.Errorf("unexpected job record: %+v", got)
	}

	jobs, err := db.ListJobs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}

	if _, err := db.GetJob(ctx, "missing"); err == nil {
		t.Error("expected error for missing job")
	}
}
