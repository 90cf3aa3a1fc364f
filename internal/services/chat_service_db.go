package services

import (
	"errors"
	"fmt"
	"time"

	"visionchat_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrChatNotFound is a plain miss; ErrPartialDeletion means the
	// cascade got half way (messages gone, chat row still present) and
	// must be surfaced distinctly.
	ErrChatNotFound    = errors.New("chat not found")
	ErrPartialDeletion = errors.New("partial deletion: messages removed but chat row remains")
)

// DefaultChatStore implements ChatStore on gorm.
type DefaultChatStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewChatStore(db *gorm.DB, log zerolog.Logger) ChatStore {
	return &DefaultChatStore{db: db, log: log}
}

// ChatsByUser returns the user's chats, most recently updated first. A miss
// is an empty slice with a nil error; a failed request is a non-nil error.
func (s *DefaultChatStore) ChatsByUser(userID uuid.UUID) ([]models.Chat, error) {
	var chats []models.Chat
	result := s.db.Where("user_id = ?", userID).Order("updated_at desc").Find(&chats)
	if result.Error != nil {
		s.log.Error().Err(result.Error).Str("user_id", userID.String()).Msg("Failed to fetch chats")
		return nil, result.Error
	}
	return chats, nil
}

// MessagesByChat returns the chat's messages in creation order. The chat
// must belong to the requesting user; a foreign chat reads as not found.
func (s *DefaultChatStore) MessagesByChat(userID, chatID uuid.UUID) ([]models.Message, error) {
	if err := s.checkOwnership(userID, chatID); err != nil {
		return nil, err
	}
	var messages []models.Message
	result := s.db.Where("chat_id = ?", chatID).Order("created_at asc").Find(&messages)
	if result.Error != nil {
		s.log.Error().Err(result.Error).Str("chat_id", chatID.String()).Msg("Failed to fetch messages")
		return nil, result.Error
	}
	return messages, nil
}

// checkOwnership resolves the chat under the requesting user's scope.
// Someone else's chat and a nonexistent one are indistinguishable to the
// caller, so chat IDs cannot be probed across users.
func (s *DefaultChatStore) checkOwnership(userID, chatID uuid.UUID) error {
	var chat models.Chat
	err := s.db.Select("id").Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	return nil
}

func (s *DefaultChatStore) CreateChat(userID uuid.UUID, title string) (*models.Chat, error) {
	chat := &models.Chat{
		ID:     uuid.New(),
		UserID: &userID,
		Title:  title,
	}
	if err := s.db.Create(chat).Error; err != nil {
		return nil, err
	}
	return chat, nil
}

// CreateMessage persists a message and touches the parent chat's updated_at
// so the chat list ordering stays current.
func (s *DefaultChatStore) CreateMessage(msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := s.db.Create(msg).Error; err != nil {
		return err
	}
	return s.db.Model(&models.Chat{}).Where("id = ?", msg.ChatID).
		Update("updated_at", time.Now()).Error
}

func (s *DefaultChatStore) UpdateChatTitle(userID, chatID uuid.UUID, title string) error {
	result := s.db.Model(&models.Chat{}).Where("id = ? AND user_id = ?", chatID, userID).Update("title", title)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat removes the chat's messages first, then the chat row. The two
// steps are deliberately not wrapped in one transaction: the caller needs to
// learn when only the first half landed.
func (s *DefaultChatStore) DeleteChat(userID, chatID uuid.UUID) error {
	if err := s.checkOwnership(userID, chatID); err != nil {
		return err
	}

	if err := s.db.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages for chat %s: %w", chatID, err)
	}
	if err := s.db.Delete(&models.Chat{}, "id = ?", chatID).Error; err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID.String()).Msg("Chat row survived its message cascade")
		return fmt.Errorf("%w: %v", ErrPartialDeletion, err)
	}
	return nil
}

func (s *DefaultChatStore) CreateFileUpload(f *models.FileUpload) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return s.db.Create(f).Error
}

// AttachExtractedText is the single permitted mutation of a file record.
func (s *DefaultChatStore) AttachExtractedText(fileID uuid.UUID, text string) error {
	result := s.db.Model(&models.FileUpload{}).Where("id = ?", fileID).
		Update("extracted_text", text)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("file upload %s not found", fileID)
	}
	return nil
}

func (s *DefaultChatStore) FilesByChat(userID, chatID uuid.UUID) ([]models.FileUpload, error) {
	if err := s.checkOwnership(userID, chatID); err != nil {
		return nil, err
	}
	var files []models.FileUpload
	result := s.db.Where("chat_id = ?", chatID).Order("created_at desc").Find(&files)
	if result.Error != nil {
		s.log.Error().Err(result.Error).Str("chat_id", chatID.String()).Msg("Failed to fetch chat files")
		return nil, result.Error
	}
	return files, nil
}
