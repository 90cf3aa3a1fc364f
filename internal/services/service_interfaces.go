package services

import (
	"context"
	"io"

	"visionchat_go_backend/internal/models"

	"github.com/google/uuid"
)

// ChatStore is the persistence facade for chats, messages and file records.
// Reads distinguish "no rows" (empty slice, nil error) from "request failed"
// (non-nil error); callers must not conflate the two. Every chat-scoped
// operation takes the requesting user's ID and treats a chat owned by
// someone else exactly like a missing one.
type ChatStore interface {
	ChatsByUser(userID uuid.UUID) ([]models.Chat, error)
	MessagesByChat(userID, chatID uuid.UUID) ([]models.Message, error)
	CreateChat(userID uuid.UUID, title string) (*models.Chat, error)
	CreateMessage(msg *models.Message) error
	UpdateChatTitle(userID, chatID uuid.UUID, title string) error
	DeleteChat(userID, chatID uuid.UUID) error
	CreateFileUpload(f *models.FileUpload) error
	AttachExtractedText(fileID uuid.UUID, text string) error
	FilesByChat(userID, chatID uuid.UUID) ([]models.FileUpload, error)
}

// CompletionClient generates an assistant reply from a message history.
// Implementations never return an error: failures degrade into a fixed,
// user-presentable fallback string.
type CompletionClient interface {
	Generate(ctx context.Context, history []ChatTurn) string
}

// TextExtractor runs a long-running recognition job against the vision
// service and returns the assembled text.
type TextExtractor interface {
	ExtractTextFromURL(ctx context.Context, imageURL string) (string, error)
	ExtractTextFromBytes(ctx context.Context, data []byte, contentType string) (string, error)
}

// StorageClient uploads artifacts and returns a publicly reachable URL.
type StorageClient interface {
	UploadPublic(ctx context.Context, objectName string, content io.Reader, contentType string) (string, error)
	DeleteObject(ctx context.Context, objectName string) error
}

// UserStore upserts users as the identity provider presents them.
type UserStore interface {
	CreateOrUpdateUser(subjectID, email, name string) (*models.User, error)
}
