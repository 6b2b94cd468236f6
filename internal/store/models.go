package store

import "time"

// Conversation statuses.
const (
	ConversationActive = "active"
	ConversationClosed = "closed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UserPreferences captures what the visitor told the assistant about how and
// where they fish. Stored as a JSON column on the conversation.
type UserPreferences struct {
	Location string   `json:"location,omitempty"`
	Species  []string `json:"species,omitempty"`
	Methods  []string `json:"methods,omitempty"`
}

type Conversation struct {
	ID            string           `json:"id"` // UUID
	UserID        *string          `json:"user_id,omitempty"`
	Status        string           `json:"status"`
	Summary       *string          `json:"summary,omitempty"`
	Preferences   *UserPreferences `json:"user_preferences,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	LastMessageAt time.Time        `json:"last_message_at"`
}

type Message struct {
	ID             string    `json:"id"` // UUID
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	ResponseID     *string   `json:"openai_response_id,omitempty"`
	TokenCount     *int      `json:"token_count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AssistantSettings is the admin-configured assistant behaviour. The table
// keeps exactly one row under a fixed key so there is no ambiguity about
// which configuration is live.
type AssistantSettings struct {
	ID              string    `json:"id"`
	Instructions    string    `json:"instructions"`
	Context         string    `json:"context"`
	Language        string    `json:"language"`
	Personality     string    `json:"personality"`
	AvoidTopics     string    `json:"avoid_topics"`
	InitialQuestion string    `json:"initial_question"`
	VectorStoreID   string    `json:"openai_vector_store_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Knowledge document processing statuses.
const (
	DocumentCompleted = "completed"
	DocumentError     = "error"
)

// KnowledgeDocument is metadata only; the file content itself lives in the
// provider's vector store and is referenced by FileID/VectorStoreID.
type KnowledgeDocument struct {
	ID               string    `json:"id"` // UUID
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	FileName         string    `json:"file_name"`
	FileSize         int64     `json:"file_size"`
	FileType         string    `json:"file_type"`
	FileID           string    `json:"file_id"`
	VectorStoreID    string    `json:"vector_store_id"`
	ProcessingStatus string    `json:"processing_status"`
	UploadedBy       *string   `json:"uploaded_by_user_id,omitempty"`
	Embedding        []float32 `json:"-"` // for local relevance ranking, not exposed
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
