package storage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prompt-refiner-go/internal/config"
	"github.com/prompt-refiner-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ConversationStore maps a user id to that user's in-flight conversation.
// Implementations hand out copies: callers mutate their copy and Save it.
type ConversationStore interface {
	// Get returns nil, nil when the user has no conversation.
	Get(ctx context.Context, userID string) (*models.Conversation, error)
	GetOrCreate(ctx context.Context, userID string) (*models.Conversation, error)
	Save(ctx context.Context, conv *models.Conversation) error
	Delete(ctx context.Context, userID string) error
	// Count returns the number of live conversations.
	Count() int
}

// MemoryStore implements ConversationStore using an in-memory cache.
// Everything is lost when the process exits.
type MemoryStore struct {
	conversations *cache.Cache
	idleTimeout   time.Duration
	now           func() time.Time
	logger        *logrus.Logger
}

// NewMemoryStore creates a store. A zero idleTimeout keeps conversations
// until they finish or are reset.
func NewMemoryStore(cfg *config.ConversationsConfig, logger *logrus.Logger) *MemoryStore {
	expiration := cfg.IdleTimeout
	if expiration <= 0 {
		expiration = cache.NoExpiration
	}
	cleanup := cfg.CleanupInterval
	if expiration == cache.NoExpiration || cleanup <= 0 {
		cleanup = cache.NoExpiration
	}

	return &MemoryStore{
		conversations: cache.New(expiration, cleanup),
		idleTimeout:   expiration,
		now:           time.Now,
		logger:        logger,
	}
}

// WithClock replaces the time source used for timestamps.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*models.Conversation, error) {
	if val, found := m.conversations.Get(userID); found {
		conv := val.(models.Conversation)
		return &conv, nil
	}
	return nil, nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := m.Get(ctx, userID)
	if err != nil || conv != nil {
		return conv, err
	}

	conv = models.NewConversation(userID, m.now())
	m.conversations.SetDefault(userID, *conv)
	m.logger.WithField("user_id", userID).Debug("Conversation created")
	return conv.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, conv *models.Conversation) error {
	stored := *conv
	stored.UpdatedAt = m.now()
	m.conversations.SetDefault(conv.UserID, stored)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.conversations.Delete(userID)
	return nil
}

func (m *MemoryStore) Count() int {
	return m.conversations.ItemCount()
}
