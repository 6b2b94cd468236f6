package core

import "context"

// ChatTurn is one prior message handed to the model.
type ChatTurn struct {
	Role    string // store.RoleUser or store.RoleAssistant
	Content string
}

// CompletionRequest carries the assembled system prompt and the conversation
// history, newest turn last.
type CompletionRequest struct {
	System string
	Turns  []ChatTurn
}

// CompletionResult is a finished, non-streamed model reply.
type CompletionResult struct {
	Content    string
	ResponseID string
	TokenCount int
}

// Stream event types, mirroring the provider's event taxonomy.
type StreamEventType string

const (
	EventCreated   StreamEventType = "created"
	EventDelta     StreamEventType = "delta"
	EventCompleted StreamEventType = "completed"
)

type StreamEvent struct {
	Type       StreamEventType
	Content    string // set for EventDelta
	ResponseID string
}

// CompletionStream yields stream events in provider order. After the
// EventCompleted event, Recv returns io.EOF. A stream that ends without an
// explicit completed event still yields one before io.EOF.
type CompletionStream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// Gateway is the slice of the LLM provider the chat path depends on.
// LLMService is the real implementation; tests substitute fakes.
type Gateway interface {
	CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	StreamCompletion(ctx context.Context, req CompletionRequest) (CompletionStream, error)
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeGateway is the slice the knowledge-document path depends on.
type KnowledgeGateway interface {
	EnsureVectorStore(ctx context.Context, name string) (string, error)
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	AddFileToVectorStore(ctx context.Context, vectorStoreID, fileID string) error
	DeleteVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error
	DeleteFile(ctx context.Context, fileID string) error
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}
