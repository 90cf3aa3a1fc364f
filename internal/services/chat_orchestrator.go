package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"visionchat_go_backend/internal/models"
	"visionchat_go_backend/internal/utils/broker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SystemInstruction is the single fixed system message prepended to every
// completion request. It is never persisted.
const SystemInstruction = "You are a helpful assistant. Be concise, professional, and accurate."

// NewChatTitle is the title given to freshly created chats.
const NewChatTitle = "New Chat"

var (
	// ErrQuotaExceeded means an anonymous caller has used up the free-turn
	// ceiling. Decided before any chat mutation or network call.
	ErrQuotaExceeded = errors.New("free message quota exceeded, sign in to continue")
	// ErrPersistFailed means a write-through step failed; the optimistic
	// local append has already been rolled back when this is returned.
	ErrPersistFailed = errors.New("failed to persist message")
	// ErrNoChatSelected is returned by operations that need an active chat.
	ErrNoChatSelected = errors.New("no chat selected")
)

// SessionState is the per-visitor conversation state. The orchestrator is
// the only mutator; the store is reconciled write-through on every append.
type SessionState struct {
	User          *models.User
	Chats         []models.Chat
	CurrentChatID *uuid.UUID
	Messages      []models.Message
	IsProcessing  bool
	FreeTurnsUsed int

	mu sync.Mutex
}

// ChatOrchestrator owns session state and sequences one conversational turn:
// ensure-chat -> append user message -> persist -> completion -> append
// assistant message -> persist.
type ChatOrchestrator struct {
	store         ChatStore
	completion    CompletionClient
	events        *broker.Broker
	freeTurnLimit int
	log           zerolog.Logger

	sessionsMu sync.Mutex
	sessions   map[string]*SessionState
}

func NewChatOrchestrator(store ChatStore, completion CompletionClient, events *broker.Broker, freeTurnLimit int, log zerolog.Logger) *ChatOrchestrator {
	return &ChatOrchestrator{
		store:         store,
		completion:    completion,
		events:        events,
		freeTurnLimit: freeTurnLimit,
		sessions:      make(map[string]*SessionState),
		log:           log,
	}
}

// Session returns the state for a session token, creating empty state on
// first sight.
func (o *ChatOrchestrator) Session(token string) *SessionState {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	s, ok := o.sessions[token]
	if !ok {
		s = &SessionState{}
		o.sessions[token] = s
	}
	return s
}

// EndSession drops all state for the token (sign-out teardown).
func (o *ChatOrchestrator) EndSession(token string) {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	delete(o.sessions, token)
}

// AttachUser binds an authenticated user to the session, resets the free
// turn counter, and loads the user's chat list. The most recently updated
// chat is selected when one exists.
func (o *ChatOrchestrator) AttachUser(token string, user *models.User) error {
	s := o.Session(token)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.User = user
	s.FreeTurnsUsed = 0

	// Anonymous chats were never persisted; signing in replaces them
	// with the user's stored history.
	s.CurrentChatID = nil
	s.Messages = nil

	chats, err := o.store.ChatsByUser(user.ID)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}
	s.Chats = chats
	if len(chats) > 0 {
		return o.selectChatLocked(s, chats[0].ID)
	}
	return nil
}

// EnsureUser attaches the user to the session unless it already carries
// the same one. Called on every authenticated request.
func (o *ChatOrchestrator) EnsureUser(token string, user *models.User) error {
	s := o.Session(token)
	s.mu.Lock()
	attached := s.User != nil && s.User.ID == user.ID
	s.mu.Unlock()
	if attached {
		return nil
	}
	return o.AttachUser(token, user)
}

// SendMessage runs one conversational turn. The returned messages are the
// appended user and assistant entries, in that order.
func (o *ChatOrchestrator) SendMessage(ctx context.Context, token, content string) (*models.Message, *models.Message, error) {
	s := o.Session(token)
	s.mu.Lock()
	defer s.mu.Unlock()

	// Quota gate: decided before any chat mutation or network call.
	if s.User == nil && s.FreeTurnsUsed >= o.freeTurnLimit {
		return nil, nil, ErrQuotaExceeded
	}

	chatID, err := o.ensureChatLocked(s)
	if err != nil {
		return nil, nil, err
	}

	userMsg := models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if s.User != nil {
		userMsg.UserID = &s.User.ID
	}

	// Optimistic append before any network round-trip.
	s.Messages = append(s.Messages, userMsg)

	if s.User == nil {
		s.FreeTurnsUsed++
	} else if err := o.store.CreateMessage(&userMsg); err != nil {
		// Write-through failed: roll back the optimistic append so the
		// cache and the store stay consistent.
		s.Messages = s.Messages[:len(s.Messages)-1]
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	s.IsProcessing = true
	defer func() { s.IsProcessing = false }()

	o.publish(token, broker.Event{Type: "user_message", Payload: userMsg})

	history := o.historyLocked(s)
	reply := o.completion.Generate(ctx, history)

	assistantMsg := models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		Role:      models.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now(),
	}
	if s.User != nil {
		assistantMsg.UserID = &s.User.ID
	}

	s.Messages = append(s.Messages, assistantMsg)
	if s.User != nil {
		if err := o.store.CreateMessage(&assistantMsg); err != nil {
			s.Messages = s.Messages[:len(s.Messages)-1]
			return &userMsg, nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
	}

	o.publish(token, broker.Event{Type: "assistant_message", Payload: assistantMsg})
	return &userMsg, &assistantMsg, nil
}

// CreateNewChat starts a fresh conversation. Authenticated chats are
// persisted and prepended to the local list; anonymous ones live only in
// session state.
func (o *ChatOrchestrator) CreateNewChat(token string) (uuid.UUID, error) {
	s := o.Session(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	return o.createNewChatLocked(s)
}

// SelectChat makes the chat current and reloads its messages from the
// store, replacing local state.
func (o *ChatOrchestrator) SelectChat(token string, chatID uuid.UUID) error {
	s := o.Session(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	return o.selectChatLocked(s, chatID)
}

// DeleteChat removes a chat. For anonymous sessions this is a local no-op
// clear. For authenticated users the store cascade runs; when the deleted
// chat was selected, the next remaining chat is selected or a new one is
// created.
func (o *ChatOrchestrator) DeleteChat(token string, chatID uuid.UUID) error {
	s := o.Session(token)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.User == nil {
		if s.CurrentChatID != nil && *s.CurrentChatID == chatID {
			s.CurrentChatID = nil
			s.Messages = nil
		}
		return nil
	}

	if err := o.store.DeleteChat(s.User.ID, chatID); err != nil {
		return err
	}

	remaining := s.Chats[:0:0]
	for _, c := range s.Chats {
		if c.ID != chatID {
			remaining = append(remaining, c)
		}
	}
	s.Chats = remaining

	if s.CurrentChatID != nil && *s.CurrentChatID == chatID {
		s.CurrentChatID = nil
		s.Messages = nil
		if len(s.Chats) > 0 {
			return o.selectChatLocked(s, s.Chats[0].ID)
		}
		_, err := o.createNewChatLocked(s)
		return err
	}
	return nil
}

// Messages returns a copy of the session's local message list.
func (o *ChatOrchestrator) Messages(token string) []models.Message {
	s := o.Session(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Chats returns a copy of the session's chat list.
func (o *ChatOrchestrator) Chats(token string) []models.Chat {
	s := o.Session(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chat, len(s.Chats))
	copy(out, s.Chats)
	return out
}

// CurrentChatID reports the selected chat, if any.
func (o *ChatOrchestrator) CurrentChatID(token string) (uuid.UUID, bool) {
	s := o.Session(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CurrentChatID == nil {
		return uuid.Nil, false
	}
	return *s.CurrentChatID, true
}

func (o *ChatOrchestrator) ensureChatLocked(s *SessionState) (uuid.UUID, error) {
	if s.CurrentChatID != nil {
		return *s.CurrentChatID, nil
	}
	return o.createNewChatLocked(s)
}

func (o *ChatOrchestrator) createNewChatLocked(s *SessionState) (uuid.UUID, error) {
	if s.User == nil {
		// Locally-scoped identifier, never persisted.
		id := uuid.New()
		s.CurrentChatID = &id
		s.Messages = nil
		return id, nil
	}

	chat, err := o.store.CreateChat(s.User.ID, NewChatTitle)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create chat: %w", err)
	}
	s.Chats = append([]models.Chat{*chat}, s.Chats...)
	s.CurrentChatID = &chat.ID
	s.Messages = nil
	return chat.ID, nil
}

func (o *ChatOrchestrator) selectChatLocked(s *SessionState, chatID uuid.UUID) error {
	s.CurrentChatID = &chatID
	if s.User == nil {
		s.Messages = nil
		return nil
	}
	messages, err := o.store.MessagesByChat(s.User.ID, chatID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	s.Messages = messages
	return nil
}

// historyLocked builds the completion request: all locally held non-system
// messages in chronological order, with the fixed system instruction
// prepended. Built from memory, never re-fetched.
func (o *ChatOrchestrator) historyLocked(s *SessionState) []ChatTurn {
	history := make([]ChatTurn, 0, len(s.Messages)+1)
	history = append(history, ChatTurn{Role: models.RoleSystem, Content: SystemInstruction})
	for _, msg := range s.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		history = append(history, ChatTurn{Role: msg.Role, Content: msg.Content})
	}
	return history
}

func (o *ChatOrchestrator) publish(token string, ev broker.Event) {
	if o.events != nil {
		o.events.Publish("session:"+token, ev)
	}
}
