package store

import (
	"errors"
	"testing"

	"bookforge/pkg/domain"
)

func TestCreateUserAppliesDefaultsAndRejectsDuplicates(t *testing.T) {
	s := NewMemoryStore()
	created, err := s.CreateUser(domain.User{ID: "u1", Email: "a@example.com", Name: "Ada"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Role != domain.RoleUser || created.Tier != domain.TierFree {
		t.Fatalf("expected default role/tier, got %s/%s", created.Role, created.Tier)
	}
	if created.BooksGenerated != 0 || created.WordsGenerated != 0 {
		t.Fatalf("expected zeroed counters, got %d/%d", created.BooksGenerated, created.WordsGenerated)
	}
	if created.Settings.Theme == "" {
		t.Fatal("expected settings record created with the user")
	}

	if _, err := s.CreateUser(domain.User{ID: "u1", Email: "other@example.com", Name: "Ada"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate id expected ErrUserExists, got %v", err)
	}
	if _, err := s.CreateUser(domain.User{ID: "u2", Email: "a@example.com", Name: "Bob"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate email expected ErrUserExists, got %v", err)
	}

	// First row must be untouched by the failed second create.
	got, ok, err := s.GetUserByID("u1")
	if err != nil || !ok {
		t.Fatalf("get user: ok=%v err=%v", ok, err)
	}
	if got.Email != "a@example.com" {
		t.Fatalf("first create overwritten: %q", got.Email)
	}
}

func TestFindBookForOwnerNeverLeaksForeignBooks(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveBook(domain.Book{ID: "b1", OwnerID: "alice", Title: "Alice's Book", Status: domain.StatusReady}); err != nil {
		t.Fatalf("save book: %v", err)
	}

	if _, ok, err := s.FindBookForOwner("b1", "mallory"); err != nil || ok {
		t.Fatalf("foreign owner must see absent, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.FindBookForOwner("missing", "alice"); err != nil || ok {
		t.Fatalf("missing book must be absent, got ok=%v err=%v", ok, err)
	}
	book, ok, err := s.FindBookForOwner("b1", "alice")
	if err != nil || !ok {
		t.Fatalf("owner lookup failed: ok=%v err=%v", ok, err)
	}
	if book.Title != "Alice's Book" {
		t.Fatalf("unexpected book %+v", book)
	}
}

func TestUpdateUserNameTouchesOnlyName(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.CreateUser(domain.User{ID: "u1", Email: "a@example.com", Name: "Ada"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	updated, ok, err := s.UpdateUserName("u1", "Ada Lovelace")
	if err != nil || !ok {
		t.Fatalf("update name: ok=%v err=%v", ok, err)
	}
	if updated.Name != "Ada Lovelace" || updated.Email != "a@example.com" {
		t.Fatalf("unexpected row after update: %+v", updated)
	}
	if _, ok, _ := s.UpdateUserName("missing", "x"); ok {
		t.Fatal("updating a missing user must report absent")
	}
}

func TestSetBookResultRecordsStoryMemory(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveBook(domain.Book{ID: "b1", OwnerID: "alice", Title: "Draft", Status: domain.StatusGenerating})
	memory := &domain.StoryMemory{
		Synopsis: "A heist goes sideways.",
		Chapters: []domain.ChapterSummary{{Number: 1, Title: "The Plan"}},
	}
	if err := s.SetBookResult("b1", "manuscripts/b1.txt", 4200, memory); err != nil {
		t.Fatalf("set result: %v", err)
	}
	book, ok, _ := s.FindBookForOwner("b1", "alice")
	if !ok {
		t.Fatal("book vanished")
	}
	if book.Status != domain.StatusReady || book.WordCount != 4200 {
		t.Fatalf("unexpected book state %+v", book)
	}
	if book.StoryMemory == nil || book.StoryMemory.Synopsis == "" {
		t.Fatal("story memory not recorded")
	}
}
