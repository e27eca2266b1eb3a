package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"bookforge/pkg/ai"
	"bookforge/pkg/domain"
	"bookforge/pkg/queue"
	"bookforge/pkg/store"
)

type scriptedGenerator struct {
	mu       sync.Mutex
	outline  string
	chapters int
	err      error
}

func (g *scriptedGenerator) Chat(_ context.Context, messages []ai.Message, _ ai.Options) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	prompt := messages[len(messages)-1].Content
	if strings.HasPrefix(prompt, "Outline") {
		return g.outline, nil
	}
	g.mu.Lock()
	g.chapters++
	n := g.chapters
	g.mu.Unlock()
	return fmt.Sprintf("Chapter text number %d. It goes on for a while.", n), nil
}

func newOrchestrator(t *testing.T, gen ai.TextGenerator) (*Orchestrator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	if _, err := st.CreateUser(domain.User{ID: "user-1", Email: "a@example.com"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := st.SaveBook(domain.Book{ID: "book-1", OwnerID: "user-1", Title: "The Tide Garden", Status: domain.StatusQueued}); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return &Orchestrator{Store: st, Generator: gen}, st
}

func TestHandleGeneratesBook(t *testing.T) {
	gen := &scriptedGenerator{outline: "A drowned city slowly remembers itself.\n\n1. The Flood Bell\n2. Salt in the Walls"}
	o, st := newOrchestrator(t, gen)

	err := o.Handle(context.Background(), queue.Job{ID: "job-1", BookID: "book-1", OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	book, ok, _ := st.FindBookForOwner("book-1", "user-1")
	if !ok || book.Status != domain.StatusReady {
		t.Fatalf("book should be ready: %+v", book)
	}
	if book.WordCount == 0 {
		t.Fatal("word count not recorded")
	}
	if book.StoryMemory == nil || len(book.StoryMemory.Chapters) != 2 {
		t.Fatalf("story memory missing chapters: %+v", book.StoryMemory)
	}
	if book.StoryMemory.Synopsis == "" {
		t.Fatal("synopsis not recorded")
	}
	if book.StoryMemory.Chapters[0].Title != "The Flood Bell" {
		t.Fatalf("chapter titles not parsed: %+v", book.StoryMemory.Chapters)
	}
	if book.StoryMemory.Chapters[0].Summary == "" {
		t.Fatal("chapter summary not recorded")
	}

	user, _, _ := st.GetUserByID("user-1")
	if user.BooksGenerated != 1 || user.WordsGenerated != book.WordCount {
		t.Fatalf("usage not incremented: %+v", user)
	}
}

func TestHandleMarksBookFailedOnGeneratorError(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("provider down")}
	o, st := newOrchestrator(t, gen)

	err := o.Handle(context.Background(), queue.Job{ID: "job-1", BookID: "book-1", OwnerID: "user-1"})
	if err == nil {
		t.Fatal("expected handler error for retry")
	}
	book, _, _ := st.FindBookForOwner("book-1", "user-1")
	if book.Status != domain.StatusFailed || book.ErrorMessage == "" {
		t.Fatalf("book should be failed with message: %+v", book)
	}
}

func TestHandleSkipsUnknownBook(t *testing.T) {
	o, _ := newOrchestrator(t, &scriptedGenerator{outline: "x\n1. One"})
	if err := o.Handle(context.Background(), queue.Job{ID: "job-1", BookID: "gone", OwnerID: "user-1"}); err != nil {
		t.Fatalf("unknown book must ack silently, got %v", err)
	}
}

func TestParseOutline(t *testing.T) {
	synopsis, chapters := parseOutline("A city drowns.\nIt remembers.\n\n1. One\n2) Two\n3: Three\n4. Four", 3)
	if synopsis != "A city drowns. It remembers." {
		t.Fatalf("synopsis = %q", synopsis)
	}
	if len(chapters) != 3 {
		t.Fatalf("max chapters not honored: %+v", chapters)
	}
	if chapters[1].Title != "Two" || chapters[1].Number != 2 {
		t.Fatalf("chapter parse: %+v", chapters[1])
	}

	// Outline with no numbered lines still produces one chapter.
	_, chapters = parseOutline("just prose, no list", 5)
	if len(chapters) != 1 {
		t.Fatalf("fallback chapter missing: %+v", chapters)
	}
}
