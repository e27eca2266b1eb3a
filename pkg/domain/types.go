package domain

import "time"

type BookStatus string

const (
	StatusQueued     BookStatus = "queued"
	StatusGenerating BookStatus = "generating"
	StatusReady      BookStatus = "ready"
	StatusFailed     BookStatus = "failed"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type SubscriptionTier string

const (
	TierFree SubscriptionTier = "free"
	TierPro  SubscriptionTier = "pro"
)

// User mirrors an identity-provider account into local storage.
// The ID is issued by the auth provider, not by this service.
type User struct {
	ID             string           `json:"id"`
	Email          string           `json:"email"`
	Name           string           `json:"name"`
	AvatarURL      string           `json:"avatarUrl,omitempty"`
	Role           UserRole         `json:"role"`
	Tier           SubscriptionTier `json:"tier"`
	BooksGenerated int              `json:"booksGenerated"`
	WordsGenerated int              `json:"wordsGenerated"`
	UsageResetAt   time.Time        `json:"usageResetAt"`
	Settings       Settings         `json:"settings"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// IsAdmin reports whether the user carries the admin role. Pure predicate;
// callers decide how to respond to a negative.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Settings is the per-user preferences record created alongside the user.
type Settings struct {
	Theme        string `json:"theme"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

type Book struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	Title        string       `json:"title"`
	Premise      string       `json:"premise,omitempty"`
	Status       BookStatus   `json:"status"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	WordCount    int          `json:"wordCount"`
	StorageKey   string       `json:"-"`
	StoryMemory  *StoryMemory `json:"storyMemory,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// StoryMemory is the structured intermediate state the generation pipeline
// accumulates while writing a book. Books created before the enhanced
// pipeline have none.
type StoryMemory struct {
	Synopsis   string           `json:"synopsis,omitempty"`
	Characters []Character      `json:"characters,omitempty"`
	Chapters   []ChapterSummary `json:"chapters,omitempty"`
	WorldNotes []string         `json:"worldNotes,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type Character struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ChapterSummary struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}
