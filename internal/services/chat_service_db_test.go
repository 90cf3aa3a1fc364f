package services

import (
	"fmt"
	"testing"
	"time"

	"visionchat_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (ChatStore, *gorm.DB) {
	t.Helper()
	// A named shared-cache DSN keeps gorm's pooled connections on the
	// same in-memory database while isolating tests from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Chat{}, &models.Message{}, &models.FileUpload{}))
	return NewChatStore(db, zerolog.Nop()), db
}

func TestChatStore_MessageRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	userID := uuid.New()

	chat, err := store.CreateChat(userID, "New Chat")
	require.NoError(t, err)

	base := time.Now().Truncate(time.Second)
	want := []models.Message{
		{ChatID: chat.ID, Role: models.RoleUser, Content: "first", CreatedAt: base},
		{ChatID: chat.ID, Role: models.RoleAssistant, Content: "second", CreatedAt: base.Add(time.Second)},
		{ChatID: chat.ID, Role: models.RoleUser, Content: "third", CreatedAt: base.Add(2 * time.Second)},
	}
	// Insert out of order; the read must come back in creation order.
	require.NoError(t, store.CreateMessage(&want[2]))
	require.NoError(t, store.CreateMessage(&want[0]))
	require.NoError(t, store.CreateMessage(&want[1]))

	got, err := store.MessagesByChat(userID, chat.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range want {
		assert.Equal(t, want[i].Content, got[i].Content)
		assert.Equal(t, want[i].Role, got[i].Role)
		assert.WithinDuration(t, want[i].CreatedAt, got[i].CreatedAt, time.Millisecond)
	}
}

func TestChatStore_EmptyReadsAreNotErrors(t *testing.T) {
	store, _ := newTestStore(t)
	userID := uuid.New()

	chats, err := store.ChatsByUser(userID)
	require.NoError(t, err)
	assert.Empty(t, chats)

	// An owned chat with no messages reads as empty, not as a failure.
	chat, err := store.CreateChat(userID, "New Chat")
	require.NoError(t, err)
	messages, err := store.MessagesByChat(userID, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	// An unknown chat is a miss, not an empty read.
	_, err = store.MessagesByChat(userID, uuid.New())
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatStore_ChatsOrderedByLastUpdate(t *testing.T) {
	store, _ := newTestStore(t)
	userID := uuid.New()

	older, err := store.CreateChat(userID, "older")
	require.NoError(t, err)
	newer, err := store.CreateChat(userID, "newer")
	require.NoError(t, err)

	// Appending a message to the older chat bumps it to the front.
	require.NoError(t, store.CreateMessage(&models.Message{ChatID: older.ID, Role: models.RoleUser, Content: "ping"}))

	chats, err := store.ChatsByUser(userID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, older.ID, chats[0].ID)
	assert.Equal(t, newer.ID, chats[1].ID)
}

func TestChatStore_DeleteChatCascades(t *testing.T) {
	store, db := newTestStore(t)
	userID := uuid.New()

	chat, err := store.CreateChat(userID, "doomed")
	require.NoError(t, err)
	require.NoError(t, store.CreateMessage(&models.Message{ChatID: chat.ID, Role: models.RoleUser, Content: "bye"}))

	require.NoError(t, store.DeleteChat(userID, chat.ID))

	chats, err := store.ChatsByUser(userID)
	require.NoError(t, err)
	assert.Empty(t, chats)

	var orphans int64
	require.NoError(t, db.Model(&models.Message{}).Where("chat_id = ?", chat.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)
}

func TestChatStore_DeleteMissingChat(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.DeleteChat(uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatStore_ForeignChatReadsAsMissing(t *testing.T) {
	store, _ := newTestStore(t)
	owner := uuid.New()
	intruder := uuid.New()

	chat, err := store.CreateChat(owner, "private")
	require.NoError(t, err)
	require.NoError(t, store.CreateMessage(&models.Message{ChatID: chat.ID, Role: models.RoleUser, Content: "secret"}))
	require.NoError(t, store.CreateFileUpload(&models.FileUpload{
		UserID: owner, ChatID: chat.ID, Path: "uploads/o/c/tok.png", Filename: "scan.png",
	}))

	// Knowing the chat ID is not enough: another user's reads and deletes
	// behave exactly as if the chat did not exist.
	_, err = store.MessagesByChat(intruder, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
	_, err = store.FilesByChat(intruder, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.ErrorIs(t, store.DeleteChat(intruder, chat.ID), ErrChatNotFound)
	assert.ErrorIs(t, store.UpdateChatTitle(intruder, chat.ID, "hijacked"), ErrChatNotFound)

	// The owner's data is untouched by the attempts.
	chats, err := store.ChatsByUser(owner)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "private", chats[0].Title)
	messages, err := store.MessagesByChat(owner, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	files, err := store.FilesByChat(owner, chat.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestChatStore_FileUploads(t *testing.T) {
	store, _ := newTestStore(t)
	userID := uuid.New()
	chat, err := store.CreateChat(userID, "New Chat")
	require.NoError(t, err)

	record := &models.FileUpload{
		UserID:      userID,
		ChatID:      chat.ID,
		Path:        "uploads/u/c/tok.png",
		Filename:    "scan.png",
		ContentType: "image/png",
	}
	require.NoError(t, store.CreateFileUpload(record))
	require.NotEqual(t, uuid.Nil, record.ID)

	require.NoError(t, store.AttachExtractedText(record.ID, "hello world"))

	files, err := store.FilesByChat(userID, chat.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "hello world", files[0].ExtractedText)

	// Attaching to a missing record is an error, not a silent no-op.
	assert.Error(t, store.AttachExtractedText(uuid.New(), "x"))
}
