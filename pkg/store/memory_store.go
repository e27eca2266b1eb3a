package store

import (
	"sync"
	"time"

	"bookforge/pkg/domain"
)

// MemoryStore keeps records in-process. Used by tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
	email map[string]string // email -> user ID
	books map[string]domain.Book
	order []string // book insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
		books: make(map[string]domain.Book),
	}
}

// CreateUser mirrors GormStore semantics: defaults applied, duplicates
// rejected with ErrUserExists.
func (m *MemoryStore) CreateUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.ID]; exists {
		return domain.User{}, ErrUserExists
	}
	if _, exists := m.email[u.Email]; exists {
		return domain.User{}, ErrUserExists
	}
	now := time.Now().UTC()
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if u.Tier == "" {
		u.Tier = domain.TierFree
	}
	if u.Settings.Theme == "" {
		u.Settings.Theme = "system"
	}
	u.BooksGenerated = 0
	u.WordsGenerated = 0
	u.UsageResetAt = now
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return u, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// UpdateUserName updates only the display name.
func (m *MemoryStore) UpdateUserName(id, name string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	u.Name = name
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return u, true, nil
}

// IncrementUsage bumps usage counters.
func (m *MemoryStore) IncrementUsage(id string, books, words int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	u.BooksGenerated += books
	u.WordsGenerated += words
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

// SaveBook stores a book record and tracks insertion order.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// FindBookForOwner returns the book only on an exact (id, owner) match.
func (m *MemoryStore) FindBookForOwner(bookID, ownerID string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[bookID]
	if !ok || b.OwnerID != ownerID {
		return domain.Book{}, false, nil
	}
	return b, true, nil
}

// ListBooksByOwner returns the owner's books, newest first.
func (m *MemoryStore) ListBooksByOwner(ownerID string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		if b, ok := m.books[m.order[i]]; ok && b.OwnerID == ownerID {
			res = append(res, b)
		}
	}
	return res, nil
}

// SetBookStatus updates status and optional error message.
func (m *MemoryStore) SetBookStatus(id string, status domain.BookStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil
	}
	b.Status = status
	b.ErrorMessage = errMsg
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

// SetBookResult records the finished manuscript and flips the book to ready.
func (m *MemoryStore) SetBookResult(id string, storageKey string, wordCount int, memory *domain.StoryMemory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil
	}
	b.Status = domain.StatusReady
	b.ErrorMessage = ""
	b.StorageKey = storageKey
	b.WordCount = wordCount
	if memory != nil {
		copied := *memory
		b.StoryMemory = &copied
	}
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}
