package services

import (
	"visionchat_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DefaultUserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) UserStore {
	return &DefaultUserStore{db: db}
}

// CreateOrUpdateUser upserts the user row as the identity provider presents
// it; the provider's subject claim is the stable key.
func (s *DefaultUserStore) CreateOrUpdateUser(subjectID, email, name string) (*models.User, error) {
	user := models.User{
		ID:        uuid.New(),
		SubjectID: subjectID,
		Email:     email,
		Name:      name,
	}
	result := s.db.Where(models.User{SubjectID: subjectID}).FirstOrCreate(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}
