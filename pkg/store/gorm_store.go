package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bookforge/pkg/domain"
)

const migrateLockID int64 = 48291731

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race each other.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &SettingsModel{}, &BookModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a new user and its settings row with defaults applied.
// Repeated calls with the same ID or email fail with ErrUserExists; creation
// is intentionally not idempotent.
func (s *GormStore) CreateUser(u domain.User) (domain.User, error) {
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

	model := userToModel(u)
	model.Settings = SettingsModel{
		UserID:       u.ID,
		Theme:        u.Settings.Theme,
		DefaultModel: u.Settings.DefaultModel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrUserExists
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByID returns a user with its settings.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Preload("Settings").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UpdateUserName updates only the display name and returns the updated row.
func (s *GormStore) UpdateUserName(id, name string) (domain.User, bool, error) {
	res := s.db.Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":       name,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.User{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.User{}, false, nil
	}
	return s.GetUserByID(id)
}

// IncrementUsage bumps usage counters in a single atomic update so
// concurrent generations never lose increments.
func (s *GormStore) IncrementUsage(id string, books, words int) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"books_generated": gorm.Expr("books_generated + ?", books),
			"words_generated": gorm.Expr("words_generated + ?", words),
			"updated_at":      time.Now().UTC(),
		}).Error
}

// SaveBook inserts a new book record.
func (s *GormStore) SaveBook(b domain.Book) error {
	model, err := bookToModel(b)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// FindBookForOwner returns a book only when both the ID and the owner match
// a single row. This is the only sanctioned book lookup path.
func (s *GormStore) FindBookForOwner(bookID, ownerID string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ? AND owner_id = ?", bookID, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooksByOwner returns the owner's books, newest first.
func (s *GormStore) ListBooksByOwner(ownerID string) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(models))
	for _, m := range models {
		books = append(books, bookFromModel(m))
	}
	return books, nil
}

// SetBookStatus updates status and error message.
func (s *GormStore) SetBookStatus(id string, status domain.BookStatus, errMsg string) error {
	return s.db.Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetBookResult records the finished manuscript location, word count, and
// story memory, and flips the book to ready.
func (s *GormStore) SetBookResult(id string, storageKey string, wordCount int, memory *domain.StoryMemory) error {
	updates := map[string]any{
		"status":        string(domain.StatusReady),
		"error_message": "",
		"storage_key":   storageKey,
		"word_count":    wordCount,
		"updated_at":    time.Now().UTC(),
	}
	if memory != nil {
		raw, err := json.Marshal(memory)
		if err != nil {
			return fmt.Errorf("encode story memory: %w", err)
		}
		updates["story_memory"] = raw
	}
	return s.db.Model(&BookModel{}).Where("id = ?", id).Updates(updates).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		AvatarURL:      u.AvatarURL,
		Role:           string(u.Role),
		Tier:           string(u.Tier),
		BooksGenerated: u.BooksGenerated,
		WordsGenerated: u.WordsGenerated,
		UsageResetAt:   u.UsageResetAt,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	tier := domain.SubscriptionTier(m.Tier)
	if tier == "" {
		tier = domain.TierFree
	}
	return domain.User{
		ID:             m.ID,
		Email:          m.Email,
		Name:           m.Name,
		AvatarURL:      m.AvatarURL,
		Role:           role,
		Tier:           tier,
		BooksGenerated: m.BooksGenerated,
		WordsGenerated: m.WordsGenerated,
		UsageResetAt:   m.UsageResetAt,
		Settings: domain.Settings{
			Theme:        m.Settings.Theme,
			DefaultModel: m.Settings.DefaultModel,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) (BookModel, error) {
	model := BookModel{
		ID:           b.ID,
		OwnerID:      b.OwnerID,
		Title:        b.Title,
		Premise:      b.Premise,
		Status:       string(b.Status),
		ErrorMessage: b.ErrorMessage,
		WordCount:    b.WordCount,
		StorageKey:   b.StorageKey,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	if b.StoryMemory != nil {
		raw, err := json.Marshal(b.StoryMemory)
		if err != nil {
			return BookModel{}, fmt.Errorf("encode story memory: %w", err)
		}
		model.StoryMemory = raw
	}
	return model, nil
}

func bookFromModel(m BookModel) domain.Book {
	book := domain.Book{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		Title:        m.Title,
		Premise:      m.Premise,
		Status:       domain.BookStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		WordCount:    m.WordCount,
		StorageKey:   m.StorageKey,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.StoryMemory) > 0 {
		var memory domain.StoryMemory
		if err := json.Unmarshal(m.StoryMemory, &memory); err == nil {
			book.StoryMemory = &memory
		}
	}
	return book
}
