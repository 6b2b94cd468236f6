package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// SettingsKey is the fixed primary key of the single assistant settings row.
// Settings are upserted against this key rather than "most recent row wins".
const SettingsKey = "default"

// ConversationUpdate is a partial update; nil fields are left untouched.
type ConversationUpdate struct {
	Status        *string
	Summary       *string
	Preferences   *UserPreferences
	LastMessageAt *time.Time
}

// Store is the persistence boundary for the assistant. Every method is a
// single round-trip to the backend; errors are propagated unchanged.
type Store interface {
	CreateConversation(userID *string) (*Conversation, error)
	GetConversation(id string) (*Conversation, error)
	UpdateConversation(id string, upd ConversationUpdate) (*Conversation, error)

	CreateMessage(msg *Message) error
	GetMessages(conversationID string) ([]Message, error)

	GetSettings() (*AssistantSettings, error)
	SaveSettings(s *AssistantSettings) error

	CreateDocument(doc *KnowledgeDocument) error
	GetDocument(id string) (*KnowledgeDocument, error)
	ListDocuments() ([]KnowledgeDocument, error)
	UpdateDocumentStatus(id, status string) error
	UpdateDocumentEmbedding(id string, embedding []float32) error
	DeleteDocument(id string) error

	Close() error
}
