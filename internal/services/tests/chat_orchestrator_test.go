package services_test

import (
	"context"
	"errors"
	"testing"

	"visionchat_go_backend/internal/models"
	"visionchat_go_backend/internal/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(store services.ChatStore, completion services.CompletionClient, freeTurnLimit int) *services.ChatOrchestrator {
	return services.NewChatOrchestrator(store, completion, nil, freeTurnLimit, zerolog.Nop())
}

func testUser() *models.User {
	return &models.User{ID: uuid.New(), SubjectID: "sub-123", Email: "ada@example.com", Name: "Ada"}
}

func TestSendMessage_AnonymousStaysLocal(t *testing.T) {
	store := new(MockChatStore)
	completion := new(MockCompletionClient)
	completion.On("Generate", mock.Anything, mock.Anything).Return("hello back")

	orch := newOrchestrator(store, completion, 2)

	userMsg, assistantMsg, err := orch.SendMessage(context.Background(), "anon-token", "hello")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, userMsg.Role)
	assert.Equal(t, "hello", userMsg.Content)
	assert.Equal(t, models.RoleAssistant, assistantMsg.Role)
	assert.Equal(t, "hello back", assistantMsg.Content)

	messages := orch.Messages("anon-token")
	require.Len(t, messages, 2)
	assert.Equal(t, userMsg.ID, messages[0].ID)
	assert.Equal(t, assistantMsg.ID, messages[1].ID)

	// Nothing about an anonymous turn touches the store.
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "CreateChat", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "CreateMessage", mock.Anything)
}

func TestSendMessage_QuotaGate(t *testing.T) {
	store := new(MockChatStore)
	completion := new(MockCompletionClient)
	completion.On("Generate", mock.Anything, mock.Anything).Return("reply")

	orch := newOrchestrator(store, completion, 2)
	token := "anon-token"

	for i := 0; i < 2; i++ {
		_, _, err := orch.SendMessage(context.Background(), token, "free turn")
		require.NoError(t, err)
	}
	before := orch.Messages(token)

	_, _, err := orch.SendMessage(context.Background(), token, "one too many")
	require.ErrorIs(t, err, services.ErrQuotaExceeded)

	// The rejected turn must leave no trace: no completion call, no append.
	completion.AssertNumberOfCalls(t, "Generate", 2)
	assert.Equal(t, before, orch.Messages(token))
}

func TestAttachUser_ResetsQuotaAndLoadsChats(t *testing.T) {
	user := testUser()
	chatID := uuid.New()
	store := new(MockChatStore)
	store.On("ChatsByUser", user.ID).Return([]models.Chat{{ID: chatID, UserID: &user.ID, Title: "earlier"}}, nil)
	store.On("MessagesByChat", user.ID, chatID).Return([]models.Message{
		{ID: uuid.New(), ChatID: chatID, Role: models.RoleUser, Content: "old question"},
	}, nil)

	completion := new(MockCompletionClient)
	completion.On("Generate", mock.Anything, mock.Anything).Return("reply")
	store.On("CreateMessage", mock.Anything).Return(nil)

	orch := newOrchestrator(store, completion, 2)
	token := "session-token"

	// Burn the anonymous quota first, then sign in.
	for i := 0; i < 2; i++ {
		_, _, err := orch.SendMessage(context.Background(), token, "free turn")
		require.NoError(t, err)
	}
	require.NoError(t, orch.AttachUser(token, user))

	current, ok := orch.CurrentChatID(token)
	require.True(t, ok)
	assert.Equal(t, chatID, current)
	require.Len(t, orch.Messages(token), 1)

	// Signing in lifts the ceiling.
	_, _, err := orch.SendMessage(context.Background(), token, "now persisted")
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSendMessage_AuthenticatedPersistsBothSides(t *testing.T) {
	user := testUser()
	chat := &models.Chat{ID: uuid.New(), UserID: &user.ID, Title: services.NewChatTitle}

	store := new(MockChatStore)
	store.On("ChatsByUser", user.ID).Return([]models.Chat{}, nil)
	store.On("CreateChat", user.ID, services.NewChatTitle).Return(chat, nil)
	store.On("CreateMessage", mock.MatchedBy(func(m *models.Message) bool {
		return m.Role == models.RoleUser && m.ChatID == chat.ID
	})).Return(nil).Once()
	store.On("CreateMessage", mock.MatchedBy(func(m *models.Message) bool {
		return m.Role == models.RoleAssistant && m.ChatID == chat.ID
	})).Return(nil).Once()

	completion := new(MockCompletionClient)
	completion.On("Generate", mock.Anything, mock.MatchedBy(func(history []services.ChatTurn) bool {
		// The fixed system instruction leads, followed by the user turn.
		return len(history) == 2 &&
			history[0].Role == models.RoleSystem &&
			history[0].Content == services.SystemInstruction &&
			history[1].Role == models.RoleUser &&
			history[1].Content == "what is OCR?"
	})).Return("Optical character recognition.")

	orch := newOrchestrator(store, completion, 2)
	token := "session-token"
	require.NoError(t, orch.AttachUser(token, user))

	userMsg, assistantMsg, err := orch.SendMessage(context.Background(), token, "what is OCR?")
	require.NoError(t, err)
	require.NotNil(t, userMsg.UserID)
	assert.Equal(t, user.ID, *userMsg.UserID)
	assert.Equal(t, "Optical character recognition.", assistantMsg.Content)

	messages := orch.Messages(token)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.False(t, orch.Session(token).IsProcessing)
	store.AssertExpectations(t)
}

func TestSendMessage_RollsBackOnUserPersistFailure(t *testing.T) {
	user := testUser()
	chat := &models.Chat{ID: uuid.New(), UserID: &user.ID, Title: services.NewChatTitle}

	store := new(MockChatStore)
	store.On("ChatsByUser", user.ID).Return([]models.Chat{}, nil)
	store.On("CreateChat", user.ID, services.NewChatTitle).Return(chat, nil)
	store.On("CreateMessage", mock.Anything).Return(errors.New("connection reset"))

	completion := new(MockCompletionClient)

	orch := newOrchestrator(store, completion, 2)
	token := "session-token"
	require.NoError(t, orch.AttachUser(token, user))

	_, _, err := orch.SendMessage(context.Background(), token, "doomed")
	require.ErrorIs(t, err, services.ErrPersistFailed)

	// The optimistic append was undone and no completion was requested.
	assert.Empty(t, orch.Messages(token))
	completion.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestSendMessage_RollsBackOnAssistantPersistFailure(t *testing.T) {
	user := testUser()
	chat := &models.Chat{ID: uuid.New(), UserID: &user.ID, Title: services.NewChatTitle}

	store := new(MockChatStore)
	store.On("ChatsByUser", user.ID).Return([]models.Chat{}, nil)
	store.On("CreateChat", user.ID, services.NewChatTitle).Return(chat, nil)
	store.On("CreateMessage", mock.MatchedBy(func(m *models.Message) bool {
		return m.Role == models.RoleUser
	})).Return(nil)
	store.On("CreateMessage", mock.MatchedBy(func(m *models.Message) bool {
		return m.Role == models.RoleAssistant
	})).Return(errors.New("connection reset"))

	completion := new(MockCompletionClient)
	completion.On("Generate", mock.Anything, mock.Anything).Return("reply")

	orch := newOrchestrator(store, completion, 2)
	token := "session-token"
	require.NoError(t, orch.AttachUser(token, user))

	userMsg, assistantMsg, err := orch.SendMessage(context.Background(), token, "half lands")
	require.ErrorIs(t, err, services.ErrPersistFailed)
	require.NotNil(t, userMsg)
	assert.Nil(t, assistantMsg)

	// The user message stays; only the assistant append is rolled back,
	// and the processing flag clears on the error path too.
	messages := orch.Messages(token)
	require.Len(t, messages, 1)
	assert.Equal(t, userMsg.ID, messages[0].ID)
	assert.False(t, orch.Session(token).IsProcessing)
}

func TestDeleteChat_SelectsNextRemaining(t *testing.T) {
	user := testUser()
	first := models.Chat{ID: uuid.New(), UserID: &user.ID, Title: "first"}
	second := models.Chat{ID: uuid.New(), UserID: &user.ID, Title: "second"}

	store := new(MockChatStore)
	store.On("ChatsByUser", user.ID).Return([]models.Chat{first, second}, nil)
	store.On("MessagesByChat", user.ID, first.ID).Return([]models.Message{}, nil)
	store.On("DeleteChat", user.ID, first.ID).Return(nil)
	store.On("MessagesByChat", user.ID, second.ID).Return([]models.Message{
		{ID: uuid.New(), ChatID: second.ID, Role: models.RoleUser, Content: "kept"},
	}, nil)

	orch := newOrchestrator(store, new(MockCompletionClient), 2)
	token := "session-token"
	require.NoError(t, orch.AttachUser(token, user))

	require.NoError(t, orch.DeleteChat(token, first.ID))

	current, ok := orch.CurrentChatID(token)
	require.True(t, ok)
	assert.Equal(t, second.ID, current)
	require.Len(t, orch.Chats(token), 1)
	require.Len(t, orch.Messages(token), 1)
	store.AssertExpectations(t)
}

func TestDeleteChat_LastChatGetsReplaced(t *testing.T) {
	user := testUser()
	only := models.Chat{ID: uuid.New(), UserID: &user.ID, Title: "only"}
	fresh := &models.Chat{ID: uuid.New(), UserID: &user.ID, Title: services.NewChatTitle}

	store := new(MockChatStore)
	store.On("ChatsByUser", user.ID).Return([]models.Chat{only}, nil)
	store.On("MessagesByChat", user.ID, only.ID).Return([]models.Message{}, nil)
	store.On("DeleteChat", user.ID, only.ID).Return(nil)
	store.On("CreateChat", user.ID, services.NewChatTitle).Return(fresh, nil)

	orch := newOrchestrator(store, new(MockCompletionClient), 2)
	token := "session-token"
	require.NoError(t, orch.AttachUser(token, user))

	require.NoError(t, orch.DeleteChat(token, only.ID))

	current, ok := orch.CurrentChatID(token)
	require.True(t, ok)
	assert.Equal(t, fresh.ID, current)
	assert.Empty(t, orch.Messages(token))
	store.AssertExpectations(t)
}

func TestDeleteChat_PartialDeletionSurfaces(t *testing.T) {
	user := testUser()
	chat := models.Chat{ID: uuid.New(), UserID: &user.ID, Title: "stuck"}

	store := new(MockChatStore)
	store.On("ChatsByUser", user.ID).Return([]models.Chat{chat}, nil)
	store.On("MessagesByChat", user.ID, chat.ID).Return([]models.Message{}, nil)
	store.On("DeleteChat", user.ID, chat.ID).Return(services.ErrPartialDeletion)

	orch := newOrchestrator(store, new(MockCompletionClient), 2)
	token := "session-token"
	require.NoError(t, orch.AttachUser(token, user))

	err := orch.DeleteChat(token, chat.ID)
	require.ErrorIs(t, err, services.ErrPartialDeletion)

	// The chat list is left untouched so the caller can retry.
	require.Len(t, orch.Chats(token), 1)
}

func TestDeleteChat_AnonymousClearsLocally(t *testing.T) {
	store := new(MockChatStore)
	completion := new(MockCompletionClient)
	completion.On("Generate", mock.Anything, mock.Anything).Return("reply")

	orch := newOrchestrator(store, completion, 2)
	token := "anon-token"

	_, _, err := orch.SendMessage(context.Background(), token, "hello")
	require.NoError(t, err)
	current, ok := orch.CurrentChatID(token)
	require.True(t, ok)

	require.NoError(t, orch.DeleteChat(token, current))
	_, ok = orch.CurrentChatID(token)
	assert.False(t, ok)
	assert.Empty(t, orch.Messages(token))
	store.AssertNotCalled(t, "DeleteChat", mock.Anything, mock.Anything)
}

func TestEndSession_DropsState(t *testing.T) {
	completion := new(MockCompletionClient)
	completion.On("Generate", mock.Anything, mock.Anything).Return("reply")

	orch := newOrchestrator(new(MockChatStore), completion, 1)
	token := "anon-token"

	_, _, err := orch.SendMessage(context.Background(), token, "only free turn")
	require.NoError(t, err)
	_, _, err = orch.SendMessage(context.Background(), token, "blocked")
	require.ErrorIs(t, err, services.ErrQuotaExceeded)

	// Tearing the session down resets the counter with the rest of the state.
	orch.EndSession(token)
	_, _, err = orch.SendMessage(context.Background(), token, "fresh session")
	require.NoError(t, err)
}
