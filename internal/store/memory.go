package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed Store used by tests and local experiments.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]Message // keyed by conversation id, insertion order
	settings      *AssistantSettings
	documents     map[string]*KnowledgeDocument
	docOrder      []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		documents:     make(map[string]*KnowledgeDocument),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateConversation(userID *string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv := &Conversation{
		ID:            uuid.NewString(),
		UserID:        userID,
		Status:        ConversationActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}
	s.conversations[conv.ID] = conv
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) GetConversation(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) UpdateConversation(id string, upd ConversationUpdate) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Status != nil {
		conv.Status = *upd.Status
	}
	if upd.Summary != nil {
		conv.Summary = upd.Summary
	}
	if upd.Preferences != nil {
		conv.Preferences = upd.Preferences
	}
	if upd.LastMessageAt != nil {
		conv.LastMessageAt = *upd.LastMessageAt
	}
	conv.UpdatedAt = time.Now().UTC()
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) CreateMessage(msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *MemoryStore) GetMessages(conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) GetSettings() (*AssistantSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, ErrNotFound
	}
	copied := *s.settings
	return &copied, nil
}

func (s *MemoryStore) SaveSettings(st *AssistantSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	st.ID = SettingsKey
	st.UpdatedAt = now
	if s.settings != nil {
		st.CreatedAt = s.settings.CreatedAt
	} else if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	copied := *st
	s.settings = &copied
	return nil
}

func (s *MemoryStore) CreateDocument(doc *KnowledgeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	copied := *doc
	s.documents[doc.ID] = &copied
	s.docOrder = append(s.docOrder, doc.ID)
	return nil
}

func (s *MemoryStore) GetDocument(id string) (*KnowledgeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *MemoryStore) ListDocuments() ([]KnowledgeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]KnowledgeDocument, 0, len(s.docOrder))
	for _, id := range s.docOrder {
		if doc, ok := s.documents[id]; ok {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (s *MemoryStore) UpdateDocumentStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.ProcessingStatus = status
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateDocumentEmbedding(id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.Embedding = append([]float32(nil), embedding...)
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return ErrNotFound
	}
	delete(s.documents, id)
	for i, docID := range s.docOrder {
		if docID == id {
			s.docOrder = append(s.docOrder[:i], s.docOrder[i+1:]...)
			break
		}
	}
	return nil
}
