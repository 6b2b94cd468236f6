package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/anglersden/fishing-assistant/internal/config"
	"github.com/anglersden/fishing-assistant/internal/store"
)

const (
	pollInterval    = time.Second
	maxPollAttempts = 120
)

// LLMService wraps the OpenAI API: completions (blocking, polled and
// streaming), embeddings, file upload and vector-store management.
type LLMService struct {
	client *openai.Client
	cfg    config.OpenAIConfig
	logger *zap.Logger
}

func NewLLMService(cfg config.OpenAIConfig, logger *zap.Logger) *LLMService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.OrgID != "" {
		clientCfg.OrgID = cfg.OrgID
	}
	return &LLMService{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}
}

func (s *LLMService) chatMessages(req CompletionRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.Turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == store.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return messages
}

// CreateCompletion performs one blocking chat completion.
func (s *LLMService) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.cfg.ChatModel,
		Messages:    s.chatMessages(req),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: float32(s.cfg.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return &CompletionResult{
		Content:    resp.Choices[0].Message.Content,
		ResponseID: resp.ID,
		TokenCount: resp.Usage.TotalTokens,
	}, nil
}

// StreamCompletion opens a streaming chat completion. The returned stream's
// lifetime is bound to ctx, so cancelling the inbound request tears down the
// provider-side stream as well.
func (s *LLMService) StreamCompletion(ctx context.Context, req CompletionRequest) (CompletionStream, error) {
	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.cfg.ChatModel,
		Messages:    s.chatMessages(req),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: float32(s.cfg.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}
	return &openaiStream{stream: stream}, nil
}

// openaiStream adapts the provider's delta chunks to StreamEvents: one
// created event first, one delta event per non-empty text chunk, one
// completed event at stream end.
type openaiStream struct {
	stream     *openai.ChatCompletionStream
	responseID string
	pending    *StreamEvent
	finished   bool
}

func (s *openaiStream) Recv() (StreamEvent, error) {
	if s.pending != nil {
		ev := *s.pending
		s.pending = nil
		return ev, nil
	}
	if s.finished {
		return StreamEvent{}, io.EOF
	}

	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finished = true
			return StreamEvent{Type: EventCompleted, ResponseID: s.responseID}, nil
		}
		if err != nil {
			return StreamEvent{}, err
		}

		delta := ""
		if len(resp.Choices) > 0 {
			delta = resp.Choices[0].Delta.Content
		}

		if s.responseID == "" && resp.ID != "" {
			s.responseID = resp.ID
			if delta != "" {
				s.pending = &StreamEvent{Type: EventDelta, Content: delta, ResponseID: s.responseID}
			}
			return StreamEvent{Type: EventCreated, ResponseID: s.responseID}, nil
		}
		if delta != "" {
			return StreamEvent{Type: EventDelta, Content: delta, ResponseID: s.responseID}, nil
		}
		// Role-only and finish-reason chunks carry no text; skip them.
	}
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

// CreateEmbedding returns the embedding vector for one text.
func (s *LLMService) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(s.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding data received")
	}
	return resp.Data[0].Embedding, nil
}

// CreateResponseAndPoll runs the configured assistant (which carries the
// retrieval tool bound to the vector store) against a single question, then
// polls the run at one-second intervals until it reaches a terminal status.
// Exhausting the attempt budget is a hard error.
func (s *LLMService) CreateResponseAndPoll(ctx context.Context, question string) (string, error) {
	if s.cfg.AssistantID == "" {
		return "", fmt.Errorf("no assistant id configured")
	}

	thread, err := s.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}

	if _, err = s.client.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	}); err != nil {
		return "", fmt.Errorf("failed to add message to thread: %w", err)
	}

	run, err := s.client.CreateRun(ctx, thread.ID, openai.RunRequest{AssistantID: s.cfg.AssistantID})
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}

		run, err = s.client.RetrieveRun(ctx, thread.ID, run.ID)
		if err != nil {
			return "", fmt.Errorf("failed to retrieve run: %w", err)
		}

		switch string(run.Status) {
		case "completed":
			return s.latestAssistantReply(ctx, thread.ID, run.ID)
		case "failed", "incomplete", "expired", "cancelled":
			return "", fmt.Errorf("assistant run ended with status %s", run.Status)
		}
	}

	return "", fmt.Errorf("assistant run %s not completed after %d attempts", run.ID, maxPollAttempts)
}

func (s *LLMService) latestAssistantReply(ctx context.Context, threadID, runID string) (string, error) {
	limit := 1
	order := "desc"
	msgs, err := s.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return "", fmt.Errorf("failed to list thread messages: %w", err)
	}
	if len(msgs.Messages) == 0 {
		return "", fmt.Errorf("assistant run produced no messages")
	}
	for _, part := range msgs.Messages[0].Content {
		if part.Text != nil && part.Text.Value != "" {
			return part.Text.Value, nil
		}
	}
	return "", fmt.Errorf("assistant reply contained no text")
}

// EnsureVectorStore creates the named vector store and returns its id.
// Callers persist the id in settings so this runs once per deployment.
func (s *LLMService) EnsureVectorStore(ctx context.Context, name string) (string, error) {
	vs, err := s.client.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to create vector store: %w", err)
	}
	return vs.ID, nil
}

// UploadFile uploads raw file bytes for assistant use and returns the file id.
func (s *LLMService) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := s.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	return file.ID, nil
}

// AddFileToVectorStore attaches an uploaded file to the vector store and
// polls until the provider finishes indexing it.
func (s *LLMService) AddFileToVectorStore(ctx context.Context, vectorStoreID, fileID string) error {
	if _, err := s.client.CreateVectorStoreFile(ctx, vectorStoreID, openai.VectorStoreFileRequest{FileID: fileID}); err != nil {
		return fmt.Errorf("failed to attach file to vector store: %w", err)
	}

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}

		vsf, err := s.client.RetrieveVectorStoreFile(ctx, vectorStoreID, fileID)
		if err != nil {
			return fmt.Errorf("failed to retrieve vector store file: %w", err)
		}
		switch string(vsf.Status) {
		case "completed":
			return nil
		case "failed", "cancelled":
			return fmt.Errorf("vector store indexing ended with status %s", vsf.Status)
		}
	}

	return fmt.Errorf("vector store file %s not indexed after %d attempts", fileID, maxPollAttempts)
}

// DeleteVectorStoreFile removes a file from the vector store. A file that is
// already gone counts as success.
func (s *LLMService) DeleteVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	err := s.client.DeleteVectorStoreFile(ctx, vectorStoreID, fileID)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete vector store file: %w", err)
	}
	if err != nil {
		s.logger.Debug("vector store file already removed", zap.String("file_id", fileID))
	}
	return nil
}

// DeleteFile removes an uploaded file, treating not-found as success.
func (s *LLMService) DeleteFile(ctx context.Context, fileID string) error {
	err := s.client.DeleteFile(ctx, fileID)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is the provider's HTTP 404.
func IsNotFound(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusNotFound
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}
