package repository

import (
	"time"

	"github.com/nestgold/nestgold/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for admin account storage
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByUsername(username string) (*models.User, error)
	Update(user *models.User) error
	TouchLastLogin(id uint, at time.Time) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// QueueRepository defines the interface for inspecting background jobs in Redis
type QueueRepository interface {
	FindKeysByPatterns(patterns []string) ([]string, error)
	GetValue(key string) (string, error)
	GetTTL(key string) (time.Duration, error)
	GetListLength(key string) (int64, error)
	DeleteKeys(keys []string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User  UserRepository
	Queue QueueRepository
}

// NewRepositories creates a new instance of all repositories. A nil db
// selects the in-memory user store.
func NewRepositories(db *gorm.DB) *Repositories {
	var users UserRepository
	if db == nil {
		users = NewMemoryUserRepository()
	} else {
		users = NewUserRepository(db)
	}
	return &Repositories{
		User:  users,
		Queue: NewQueueRepository(nil),
	}
}
