package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anglersden/fishing-assistant/internal/store"
)

// ErrTurnInProgress is returned when a second chat turn is started for a
// conversation whose previous turn has not finished streaming yet.
var ErrTurnInProgress = errors.New("a turn is already in progress for this conversation")

// StreamChunk is one line of the NDJSON response body.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// ChatService drives a chat turn end to end: conversation resolution, user
// message persistence, prompt assembly, the streaming relay, and final
// persistence of the assistant reply.
type ChatService struct {
	store   store.Store
	gateway Gateway
	ranker  *RetrievalRanker
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewChatService(st store.Store, gateway Gateway, ranker *RetrievalRanker, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:    st,
		gateway:  gateway,
		ranker:   ranker,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

func (s *ChatService) StartConversation(userID *string) (*store.Conversation, error) {
	return s.store.CreateConversation(userID)
}

func (s *ChatService) ConversationWithMessages(id string) (*store.Conversation, []store.Message, error) {
	conv, err := s.store.GetConversation(id)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.store.GetMessages(id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return conv, messages, nil
}

func (s *ChatService) SetPreferences(id string, prefs *store.UserPreferences) (*store.Conversation, error) {
	return s.store.UpdateConversation(id, store.ConversationUpdate{Preferences: prefs})
}

func (s *ChatService) CloseConversation(id string) (*store.Conversation, error) {
	closed := store.ConversationClosed
	return s.store.UpdateConversation(id, store.ConversationUpdate{Status: &closed})
}

// Settings returns the live assistant settings, or nil when none were saved
// yet. Prompt assembly substitutes defaults for a nil settings row.
func (s *ChatService) Settings() (*store.AssistantSettings, error) {
	settings, err := s.store.GetSettings()
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return settings, err
}

func (s *ChatService) SaveSettings(settings *store.AssistantSettings) error {
	return s.store.SaveSettings(settings)
}

// beginTurn sets the per-conversation in-progress flag, rejecting concurrent
// turns on the same conversation instead of letting them race.
func (s *ChatService) beginTurn(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[conversationID] {
		return ErrTurnInProgress
	}
	s.inFlight[conversationID] = true
	return nil
}

func (s *ChatService) endTurn(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, conversationID)
}

// StreamChat runs one chat turn. Each provider delta is forwarded through
// emit in arrival order as {content, done:false}; after the assistant reply
// has been persisted, one final {"", done:true} chunk follows. On a stream
// error no assistant message is persisted and the error is returned so the
// caller can abort the HTTP response.
//
// The returned conversation is non-nil as soon as one was resolved, even on
// error, so callers can report which conversation the failure belongs to.
func (s *ChatService) StreamChat(ctx context.Context, conversationID, userMessage string, emit func(StreamChunk) error) (*store.Conversation, error) {
	// idle -> conversation-resolved
	var conv *store.Conversation
	var err error
	if conversationID == "" {
		conv, err = s.store.CreateConversation(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	} else {
		conv, err = s.store.GetConversation(conversationID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.beginTurn(conv.ID); err != nil {
		return conv, err
	}
	defer s.endTurn(conv.ID)

	// The user message is persisted before any model call, so it survives a
	// failed turn.
	userMsg := &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        userMessage,
	}
	if err := s.store.CreateMessage(userMsg); err != nil {
		return conv, fmt.Errorf("failed to store user message: %w", err)
	}

	req, err := s.buildRequest(ctx, conv, userMessage)
	if err != nil {
		return conv, err
	}

	// conversation-resolved -> streaming
	stream, err := s.gateway.StreamCompletion(ctx, *req)
	if err != nil {
		return conv, err
	}
	defer stream.Close()

	var accumulated strings.Builder
	var responseID string
	completed := false

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			// Plain stream end without an explicit completed event is
			// treated the same as one.
			break
		}
		if err != nil {
			// streaming -> errored: nothing persisted for the assistant.
			return conv, fmt.Errorf("completion stream failed: %w", err)
		}

		switch ev.Type {
		case EventCreated:
			responseID = ev.ResponseID
		case EventDelta:
			accumulated.WriteString(ev.Content)
			if err := emit(StreamChunk{Content: ev.Content}); err != nil {
				return conv, fmt.Errorf("failed to forward delta: %w", err)
			}
		case EventCompleted:
			if completed {
				continue // guard against a duplicate completion
			}
			completed = true
			if ev.ResponseID != "" {
				responseID = ev.ResponseID
			}
		}
	}

	// streaming -> completed: persist before emitting the final chunk so a
	// crash between "stream closed" and "message saved" cannot drop the reply.
	assistantMsg := &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        accumulated.String(),
	}
	if responseID != "" {
		assistantMsg.ResponseID = &responseID
	}
	if err := s.store.CreateMessage(assistantMsg); err != nil {
		// The client already holds the full text; log and finish the stream.
		s.logger.Error("failed to persist assistant message",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	now := time.Now().UTC()
	if _, err := s.store.UpdateConversation(conv.ID, store.ConversationUpdate{LastMessageAt: &now}); err != nil {
		s.logger.Error("failed to update conversation timestamp",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	if err := emit(StreamChunk{Done: true}); err != nil {
		return conv, fmt.Errorf("failed to emit final chunk: %w", err)
	}
	return conv, nil
}

// buildRequest loads history, settings and documents and assembles the
// completion request for this turn.
func (s *ChatService) buildRequest(ctx context.Context, conv *store.Conversation, userMessage string) (*CompletionRequest, error) {
	history, err := s.store.GetMessages(conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	settings, err := s.Settings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	documents, err := s.store.ListDocuments()
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge documents: %w", err)
	}

	system := BuildSystemPrompt(settings, documents, conv.Preferences)

	if s.ranker != nil {
		if ranked := s.ranker.Rank(ctx, userMessage, documents); len(ranked) > 0 {
			var b strings.Builder
			b.WriteString("\n\n# Most relevant for this question\n")
			for _, doc := range ranked {
				fmt.Fprintf(&b, "- %s\n", doc.Title)
			}
			system += b.String()
		}
	}

	if progress := BuildProgressSummary(history); progress != "" {
		system += "\n\n# Conversation progress\n" + progress
	}

	turns := make([]ChatTurn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, ChatTurn{Role: msg.Role, Content: msg.Content})
	}

	return &CompletionRequest{System: system, Turns: turns}, nil
}
