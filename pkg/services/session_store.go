package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/llm"
)

// maxConversationMessages caps the history carried into each model call.
// Older turns fall off; the onboarding state itself lives in Postgres.
const maxConversationMessages = 40

// UploadedPhoto is an invoice photo received during onboarding, held in the
// conversation until the user says they are done uploading.
type UploadedPhoto struct {
	TelegramFileID string         `json:"telegram_file_id"`
	Image          llm.ImageInput `json:"image"`
}

// ConversationContext is the short-lived chat state for one Telegram chat.
type ConversationContext struct {
	TelegramChatID     int64           `json:"telegram_chat_id"`
	SessionID          *uuid.UUID      `json:"session_id,omitempty"`
	RestaurantID       *int64          `json:"restaurant_id,omitempty"`
	RestaurantName     string          `json:"restaurant_name,omitempty"`
	PersonName         string          `json:"person_name,omitempty"`
	UploadedPhotos     []UploadedPhoto `json:"uploaded_photos,omitempty"`
	OnboardingComplete bool            `json:"onboarding_complete,omitempty"`
	Messages           []llm.Message   `json:"messages,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// PendingDripItemID tracks the queue item behind the last drip question
	// sent to this chat, so the next reply can be recorded against it.
	PendingDripItemID *int64 `json:"pending_drip_item_id,omitempty"`
	PendingDripType   string `json:"pending_drip_type,omitempty"`
}

// AddMessage appends a turn to the history.
func (c *ConversationContext) AddMessage(role, content string) {
	c.Messages = append(c.Messages, llm.Message{Role: role, Content: content})
}

// ConversationStore persists conversation contexts between Telegram updates.
type ConversationStore interface {
	// Get returns the context for a chat, creating an empty one if absent.
	Get(ctx context.Context, chatID int64) (*ConversationContext, error)

	// Save writes the context back, trimming the history to the cap.
	Save(ctx context.Context, conversation *ConversationContext) error

	// Clear drops the context for a chat.
	Clear(ctx context.Context, chatID int64) error
}

// NewConversationStore returns a Redis-backed store when a client is
// configured, otherwise an in-process one. The in-process store loses state
// on restart, which only costs the user their chat history.
func NewConversationStore(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) ConversationStore {
	if rdb == nil {
		logger.Named("conversation-store").Info("Redis not configured, using in-memory conversation store")
		return &memoryConversationStore{contexts: make(map[int64]*ConversationContext)}
	}
	return &redisConversationStore{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.Named("conversation-store"),
	}
}

// ============================================================================
// Redis-backed store
// ============================================================================

type redisConversationStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ ConversationStore = (*redisConversationStore)(nil)

func conversationKey(chatID int64) string {
	return fmt.Sprintf("frepi:conversation:%d", chatID)
}

func (s *redisConversationStore) Get(ctx context.Context, chatID int64) (*ConversationContext, error) {
	raw, err := s.rdb.Get(ctx, conversationKey(chatID)).Result()
	if err == redis.Nil {
		return &ConversationContext{TelegramChatID: chatID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var conversation ConversationContext
	if err := json.Unmarshal([]byte(raw), &conversation); err != nil {
		// A corrupt entry is dropped rather than wedging the chat.
		s.logger.Warn("Discarding unreadable conversation context",
			zap.Int64("chat_id", chatID), zap.Error(err))
		return &ConversationContext{TelegramChatID: chatID}, nil
	}
	return &conversation, nil
}

func (s *redisConversationStore) Save(ctx context.Context, conversation *ConversationContext) error {
	trimConversation(conversation)
	conversation.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := s.rdb.Set(ctx, conversationKey(conversation.TelegramChatID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *redisConversationStore) Clear(ctx context.Context, chatID int64) error {
	if err := s.rdb.Del(ctx, conversationKey(chatID)).Err(); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// ============================================================================
// In-memory store
// ============================================================================

type memoryConversationStore struct {
	mu       sync.Mutex
	contexts map[int64]*ConversationContext
}

var _ ConversationStore = (*memoryConversationStore)(nil)

func (s *memoryConversationStore) Get(ctx context.Context, chatID int64) (*ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversation, ok := s.contexts[chatID]; ok {
		clone := *conversation
		clone.Messages = append([]llm.Message(nil), conversation.Messages...)
		return &clone, nil
	}
	return &ConversationContext{TelegramChatID: chatID}, nil
}

func (s *memoryConversationStore) Save(ctx context.Context, conversation *ConversationContext) error {
	trimConversation(conversation)
	conversation.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *conversation
	clone.Messages = append([]llm.Message(nil), conversation.Messages...)
	s.contexts[conversation.TelegramChatID] = &clone
	return nil
}

func (s *memoryConversationStore) Clear(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, chatID)
	return nil
}

func trimConversation(conversation *ConversationContext) {
	if len(conversation.Messages) > maxConversationMessages {
		conversation.Messages = conversation.Messages[len(conversation.Messages)-maxConversationMessages:]
	}
}
