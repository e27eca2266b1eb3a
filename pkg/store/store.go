package store

import (
	"errors"

	"bookforge/pkg/domain"
)

// ErrUserExists reports a create for an ID or email that is already mirrored.
// Callers must treat this as an expected conflict, not a generic fault.
var ErrUserExists = errors.New("user already exists")

// Store defines persistence operations for users, settings, and books.
//
// Book reads are owner-scoped by contract: there is deliberately no
// id-only book lookup on this interface.
type Store interface {
	// users
	CreateUser(user domain.User) (domain.User, error)
	GetUserByID(id string) (domain.User, bool, error)
	UpdateUserName(id, name string) (domain.User, bool, error)
	IncrementUsage(id string, books, words int) error

	// books
	SaveBook(book domain.Book) error
	FindBookForOwner(bookID, ownerID string) (domain.Book, bool, error)
	ListBooksByOwner(ownerID string) ([]domain.Book, error)
	SetBookStatus(id string, status domain.BookStatus, errMsg string) error
	SetBookResult(id string, storageKey string, wordCount int, memory *domain.StoryMemory) error
}
