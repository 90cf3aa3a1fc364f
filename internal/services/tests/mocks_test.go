package services_test

import (
	"context"
	"io"

	"visionchat_go_backend/internal/models"
	"visionchat_go_backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockChatStore struct {
	mock.Mock
}

func (m *MockChatStore) ChatsByUser(userID uuid.UUID) ([]models.Chat, error) {
	args := m.Called(userID)
	return args.Get(0).([]models.Chat), args.Error(1)
}

func (m *MockChatStore) MessagesByChat(userID, chatID uuid.UUID) ([]models.Message, error) {
	args := m.Called(userID, chatID)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockChatStore) CreateChat(userID uuid.UUID, title string) (*models.Chat, error) {
	args := m.Called(userID, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *MockChatStore) CreateMessage(msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockChatStore) UpdateChatTitle(userID, chatID uuid.UUID, title string) error {
	args := m.Called(userID, chatID, title)
	return args.Error(0)
}

func (m *MockChatStore) DeleteChat(userID, chatID uuid.UUID) error {
	args := m.Called(userID, chatID)
	return args.Error(0)
}

func (m *MockChatStore) CreateFileUpload(f *models.FileUpload) error {
	args := m.Called(f)
	return args.Error(0)
}

func (m *MockChatStore) AttachExtractedText(fileID uuid.UUID, text string) error {
	args := m.Called(fileID, text)
	return args.Error(0)
}

func (m *MockChatStore) FilesByChat(userID, chatID uuid.UUID) ([]models.FileUpload, error) {
	args := m.Called(userID, chatID)
	return args.Get(0).([]models.FileUpload), args.Error(1)
}

type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) Generate(ctx context.Context, history []services.ChatTurn) string {
	args := m.Called(ctx, history)
	return args.String(0)
}

type MockTextExtractor struct {
	mock.Mock
}

func (m *MockTextExtractor) ExtractTextFromURL(ctx context.Context, imageURL string) (string, error) {
	args := m.Called(ctx, imageURL)
	return args.String(0), args.Error(1)
}

func (m *MockTextExtractor) ExtractTextFromBytes(ctx context.Context, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, data, contentType)
	return args.String(0), args.Error(1)
}

type MockStorageClient struct {
	mock.Mock
}

func (m *MockStorageClient) UploadPublic(ctx context.Context, objectName string, content io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, objectName, content, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockStorageClient) DeleteObject(ctx context.Context, objectName string) error {
	args := m.Called(ctx, objectName)
	return args.Error(0)
}
