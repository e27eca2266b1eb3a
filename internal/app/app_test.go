package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"bookforge/internal/util"
	"bookforge/pkg/ai"
	"bookforge/pkg/domain"
	"bookforge/pkg/queue"
	"bookforge/pkg/store"
)

type fakeVerifier struct {
	subjects map[string]string
}

func (f *fakeVerifier) VerifySubject(token string) (string, error) {
	if sub, ok := f.subjects[token]; ok {
		return sub, nil
	}
	return "", errors.New("bad token")
}

type fakeQueue struct {
	enqueued []string
	fail     bool
}

func (f *fakeQueue) Enqueue(_ context.Context, bookID, ownerID string) (queue.Job, error) {
	if f.fail {
		return queue.Job{}, errors.New("redis down")
	}
	f.enqueued = append(f.enqueued, bookID)
	return queue.Job{ID: "job-1", BookID: bookID, OwnerID: ownerID, Status: queue.StatusQueued}, nil
}

type chatFunc func(ctx context.Context, messages []ai.Message, opts ai.Options) (string, error)

func (f chatFunc) Chat(ctx context.Context, messages []ai.Message, opts ai.Options) (string, error) {
	return f(ctx, messages, opts)
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *fakeQueue) {
	t.Helper()
	st := store.NewMemoryStore()
	q := &fakeQueue{}
	a := &App{
		Store:  st,
		Tokens: &fakeVerifier{subjects: map[string]string{"good-token": "user-1"}},
		Queue:  q,
	}
	if _, err := st.CreateUser(domain.User{ID: "user-1", Email: "a@example.com", Name: "Ada"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return a, st, q
}

func TestResolveUserMapsFaultsToNoSession(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	if _, reason := a.ResolveUser(ctx, ""); reason != ResolveTokenRejected {
		t.Fatalf("empty token: reason = %q", reason)
	}
	if _, reason := a.ResolveUser(ctx, "garbage"); reason != ResolveTokenRejected {
		t.Fatalf("unverifiable token: reason = %q", reason)
	}

	// Verified token whose subject has no mirrored record.
	a.Tokens = &fakeVerifier{subjects: map[string]string{"orphan": "user-gone"}}
	if _, reason := a.ResolveUser(ctx, "orphan"); reason != ResolveUnknownUser {
		t.Fatalf("unknown subject: reason = %q", reason)
	}

	a.Tokens = &fakeVerifier{subjects: map[string]string{"good-token": "user-1"}}
	user, reason := a.ResolveUser(ctx, "good-token")
	if reason != ResolveOK || user.ID != "user-1" {
		t.Fatalf("valid session should resolve, got reason=%q user=%+v", reason, user)
	}
}

type faultyStore struct {
	*store.MemoryStore
	err error
}

func (f *faultyStore) GetUserByID(string) (domain.User, bool, error) {
	return domain.User{}, false, f.err
}

func TestResolveUserLogsStoreFault(t *testing.T) {
	a, st, _ := newTestApp(t)
	a.Store = &faultyStore{MemoryStore: st, err: errors.New("db down")}

	var buf bytes.Buffer
	ctx := util.ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	user, reason := a.ResolveUser(ctx, "good-token")
	if reason != ResolveStoreFault || user.ID != "" {
		t.Fatalf("store fault must map to absent, got reason=%q user=%+v", reason, user)
	}
	logged := buf.String()
	if !strings.Contains(logged, "session user lookup failed") || !strings.Contains(logged, "db down") {
		t.Fatalf("store fault cause not logged: %q", logged)
	}
}

func TestCreateUserValidatesAndReportsConflicts(t *testing.T) {
	a, _, _ := newTestApp(t)

	if _, err := a.CreateUser(CreateUserInput{Email: "x@example.com"}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("missing id: %v", err)
	}
	if _, err := a.CreateUser(CreateUserInput{ID: "user-2"}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("missing email: %v", err)
	}

	user, err := a.CreateUser(CreateUserInput{ID: "user-2", Email: "b@example.com", Name: "  Grace  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.Name != "Grace" || user.Role != domain.RoleUser || user.Tier != domain.TierFree {
		t.Fatalf("defaults not applied: %+v", user)
	}

	if _, err := a.CreateUser(CreateUserInput{ID: "user-2", Email: "c@example.com"}); !errors.Is(err, store.ErrUserExists) {
		t.Fatalf("duplicate id must conflict, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	a, _, _ := newTestApp(t)

	if _, err := a.UpdateProfile("user-1", "   "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("blank name: %v", err)
	}
	if _, err := a.UpdateProfile("user-gone", "Lin"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
	user, err := a.UpdateProfile("user-1", "  Lin ")
	if err != nil || user.Name != "Lin" {
		t.Fatalf("rename: user=%+v err=%v", user, err)
	}
}

func TestCreateBookQueuesGeneration(t *testing.T) {
	a, st, q := newTestApp(t)

	if _, err := a.CreateBook(context.Background(), "user-1", "  ", ""); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("blank title: %v", err)
	}

	book, err := a.CreateBook(context.Background(), "user-1", "The Tide Garden", "a drowned city remembers")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if book.Status != domain.StatusQueued {
		t.Fatalf("new book must be queued, got %s", book.Status)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != book.ID {
		t.Fatalf("job not enqueued: %v", q.enqueued)
	}
	if _, ok, _ := st.FindBookForOwner(book.ID, "user-1"); !ok {
		t.Fatal("book not persisted")
	}
}

func TestCreateBookMarksFailedWhenEnqueueFails(t *testing.T) {
	a, st, q := newTestApp(t)
	q.fail = true

	_, err := a.CreateBook(context.Background(), "user-1", "Doomed", "")
	if err == nil {
		t.Fatal("expected enqueue failure to surface")
	}
	books, _ := st.ListBooksByOwner("user-1")
	if len(books) != 1 || books[0].Status != domain.StatusFailed {
		t.Fatalf("book should be marked failed: %+v", books)
	}
}

func TestGetBookIsOwnerScoped(t *testing.T) {
	a, st, _ := newTestApp(t)
	if err := st.SaveBook(domain.Book{ID: "book-1", OwnerID: "someone-else", Title: "Theirs", Status: domain.StatusReady}); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	if _, err := a.GetBook("book-1", "user-1"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("foreign book must look absent, got %v", err)
	}
	if _, err := a.GetBook("no-such-book", "user-1"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("missing book: %v", err)
	}
}

func TestStoryMemoryNilForLegacyBooks(t *testing.T) {
	a, st, _ := newTestApp(t)
	if err := st.SaveBook(domain.Book{ID: "book-1", OwnerID: "user-1", Title: "Old", Status: domain.StatusReady}); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	memory, err := a.StoryMemory("book-1", "user-1")
	if err != nil {
		t.Fatalf("story memory: %v", err)
	}
	if memory != nil {
		t.Fatalf("legacy book must report no memory, got %+v", memory)
	}
	if _, err := a.StoryMemory("book-1", "intruder"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("foreign access: %v", err)
	}
}

func TestDownloadURLRequiresReadyBook(t *testing.T) {
	a, st, _ := newTestApp(t)
	if err := st.SaveBook(domain.Book{ID: "book-1", OwnerID: "user-1", Title: "WIP", Status: domain.StatusGenerating}); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	if _, err := a.DownloadURL(context.Background(), "book-1", "user-1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("unfinished book: %v", err)
	}
}

func TestAskRequestValidate(t *testing.T) {
	if err := (AskRequest{}).Validate(); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("empty transcript: %v", err)
	}
	bad := AskRequest{Messages: []ai.Message{{Role: "narrator", Content: "hi"}}}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("bad role: %v", err)
	}
	blank := AskRequest{Messages: []ai.Message{{Role: ai.RoleUser, Content: "  "}}}
	if err := blank.Validate(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("blank content: %v", err)
	}
	good := AskRequest{Messages: []ai.Message{{Role: ai.RoleUser, Content: "hello"}}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid request: %v", err)
	}
}

func TestStreamAnswerFallsBackToSingleChunk(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.Generator = chatFunc(func(_ context.Context, messages []ai.Message, _ ai.Options) (string, error) {
		if len(messages) != 1 || messages[0].Content != "hello" {
			t.Fatalf("unexpected messages %+v", messages)
		}
		return "general Kenobi", nil
	})

	var chunks []string
	err := a.StreamAnswer(context.Background(), AskRequest{
		Messages: []ai.Message{{Role: ai.RoleUser, Content: "hello"}},
	}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(chunks, "") != "general Kenobi" {
		t.Fatalf("unexpected chunks %v", chunks)
	}
}
