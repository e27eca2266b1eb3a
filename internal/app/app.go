package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookforge/internal/util"
	"bookforge/pkg/ai"
	"bookforge/pkg/domain"
	"bookforge/pkg/queue"
	"bookforge/pkg/storage"
	"bookforge/pkg/store"
)

// SubjectVerifier validates a bearer token and returns the subject user ID.
type SubjectVerifier interface {
	VerifySubject(token string) (string, error)
}

// JobEnqueuer schedules a book-generation job.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, bookID, ownerID string) (queue.Job, error)
}

// App wires identity, storage, and generation behind the HTTP layer.
type App struct {
	Store       store.Store
	Tokens      SubjectVerifier
	Generator   ai.TextGenerator
	Queue       JobEnqueuer
	Manuscripts storage.ManuscriptStore

	DownloadExpiry time.Duration
}

// Session-resolution failure categories, surfaced so the boundary can audit
// a store outage differently from a forged token.
const (
	ResolveOK            = ""
	ResolveTokenRejected = "token_rejected"
	ResolveUnknownUser   = "unknown_user"
	ResolveStoreFault    = "store_fault"
)

// ResolveUser maps a bearer token to the mirrored user record. Every fault on
// the way (malformed token, failed verification, unknown subject, storage
// error) resolves to "no session" with the cause logged for operators;
// callers decide whether that is a 401.
func (a *App) ResolveUser(ctx context.Context, token string) (domain.User, string) {
	logger := util.LoggerFromContext(ctx)
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, ResolveTokenRejected
	}
	subject, err := a.Tokens.VerifySubject(token)
	if err != nil {
		logger.Warn("session token rejected", "error", err)
		return domain.User{}, ResolveTokenRejected
	}
	user, ok, err := a.Store.GetUserByID(subject)
	if err != nil {
		logger.Error("session user lookup failed", "subject", subject, "error", err)
		return domain.User{}, ResolveStoreFault
	}
	if !ok {
		logger.Warn("session subject has no mirrored user", "subject", subject)
		return domain.User{}, ResolveUnknownUser
	}
	return user, ResolveOK
}

// CreateUserInput is the mirror payload sent by the identity provider webhook.
type CreateUserInput struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// CreateUser mirrors a provider account into local storage. A duplicate ID or
// email surfaces as store.ErrUserExists.
func (a *App) CreateUser(in CreateUserInput) (domain.User, error) {
	id := strings.TrimSpace(in.ID)
	email := strings.TrimSpace(in.Email)
	if id == "" || email == "" {
		return domain.User{}, ErrInvalidUser
	}
	return a.Store.CreateUser(domain.User{
		ID:        id,
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		AvatarURL: strings.TrimSpace(in.AvatarURL),
	})
}

// UpdateProfile renames the user. Only the name is writable here.
func (a *App) UpdateProfile(userID, name string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, ErrEmptyName
	}
	user, ok, err := a.Store.UpdateUserName(userID, name)
	if err != nil {
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// CreateBook records a queued book for the owner and schedules generation.
func (a *App) CreateBook(ctx context.Context, ownerID, title, premise string) (domain.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Book{}, ErrEmptyTitle
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		Title:     title,
		Premise:   strings.TrimSpace(premise),
		Status:    domain.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	if a.Queue != nil {
		if _, err := a.Queue.Enqueue(ctx, book.ID, ownerID); err != nil {
			_ = a.Store.SetBookStatus(book.ID, domain.StatusFailed, "could not schedule generation")
			return domain.Book{}, fmt.Errorf("enqueue generation: %w", err)
		}
	}
	return book, nil
}

// ListBooks returns the owner's books, newest first.
func (a *App) ListBooks(ownerID string) ([]domain.Book, error) {
	return a.Store.ListBooksByOwner(ownerID)
}

// GetBook loads one book, scoped to the owner. A book that exists but belongs
// to someone else is indistinguishable from one that does not exist.
func (a *App) GetBook(bookID, ownerID string) (domain.Book, error) {
	book, ok, err := a.Store.FindBookForOwner(bookID, ownerID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("find book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// StoryMemory returns the accumulated generation state for a book. The memory
// is nil for books generated before the pipeline recorded it; that is not an
// error, the book itself must still exist for the owner.
func (a *App) StoryMemory(bookID, ownerID string) (*domain.StoryMemory, error) {
	book, err := a.GetBook(bookID, ownerID)
	if err != nil {
		return nil, err
	}
	return book.StoryMemory, nil
}

// DownloadURL returns a pre-signed manuscript URL for a finished book.
func (a *App) DownloadURL(ctx context.Context, bookID, ownerID string) (string, error) {
	book, err := a.GetBook(bookID, ownerID)
	if err != nil {
		return "", err
	}
	if book.Status != domain.StatusReady || book.StorageKey == "" || a.Manuscripts == nil {
		return "", ErrNotReady
	}
	expiry := a.DownloadExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	url, err := a.Manuscripts.PresignDownload(ctx, book.StorageKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

// AskRequest is a free-form generation request from the public ask endpoint.
type AskRequest struct {
	Messages    []ai.Message `json:"messages"`
	Model       string       `json:"model"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"maxTokens"`
}

// Validate rejects empty transcripts and malformed messages before any
// provider call is made.
func (r AskRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	for _, msg := range r.Messages {
		switch msg.Role {
		case ai.RoleSystem, ai.RoleUser, ai.RoleAssistant:
		default:
			return ErrInvalidMessage
		}
		if strings.TrimSpace(msg.Content) == "" {
			return ErrInvalidMessage
		}
	}
	return nil
}

func (r AskRequest) options() ai.Options {
	return ai.Options{Model: r.Model, Temperature: r.Temperature, MaxTokens: r.MaxTokens}
}

// StreamAnswer generates a completion for the request, delivering text chunks
// through emit as they arrive. Providers without streaming support produce a
// single chunk.
func (a *App) StreamAnswer(ctx context.Context, req AskRequest, emit func(chunk string) error) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if sg, ok := a.Generator.(ai.StreamingTextGenerator); ok {
		return sg.StreamChat(ctx, req.Messages, req.options(), emit)
	}
	text, err := a.Generator.Chat(ctx, req.Messages, req.options())
	if err != nil {
		return err
	}
	return emit(text)
}
