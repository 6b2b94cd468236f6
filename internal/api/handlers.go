package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/anglersden/fishing-assistant/internal/auth"
	"github.com/anglersden/fishing-assistant/internal/config"
	"github.com/anglersden/fishing-assistant/internal/core"
	"github.com/anglersden/fishing-assistant/internal/store"
)

const maxUploadSize = 32 << 20 // 32 MiB

// ResponsePoller is the blocking, retrieval-grounded answer path used by the
// admin "test the assistant" flow.
type ResponsePoller interface {
	CreateResponseAndPoll(ctx context.Context, question string) (string, error)
}

type APIHandler struct {
	chat      *core.ChatService
	knowledge *core.KnowledgeService
	poller    ResponsePoller
	authCfg   config.AuthConfig
	logger    *zap.Logger
}

func NewAPIHandler(chat *core.ChatService, knowledge *core.KnowledgeService, poller ResponsePoller, authCfg config.AuthConfig, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		chat:      chat,
		knowledge: knowledge,
		poller:    poller,
		authCfg:   authCfg,
		logger:    logger,
	}
}

// AdminAuthMiddleware guards the admin routes with the bearer JWT issued by
// LoginHandler.
func (h *APIHandler) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := auth.ValidateJWT(h.authCfg.JWTSecret, tokenString)
		if err != nil || subject != h.authCfg.AdminUser {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Username != h.authCfg.AdminUser || !auth.CheckPasswordHash(req.Password, h.authCfg.AdminPasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(h.authCfg.JWTSecret, req.Username)
	if err != nil {
		h.logger.Error("failed to generate JWT", zap.Error(err))
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chat.StartConversation(nil)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

type ConversationResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	conv, messages, err := h.chat.ConversationWithMessages(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load conversation", zap.String("conversation_id", id), zap.Error(err))
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(ConversationResponse{Conversation: conv, Messages: messages})
}

func (h *APIHandler) SetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var prefs store.UserPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	conv, err := h.chat.SetPreferences(id, &prefs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to set preferences", zap.String("conversation_id", id), zap.Error(err))
		http.Error(w, "Failed to set preferences", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(conv)
}

func (h *APIHandler) CloseConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	conv, err := h.chat.CloseConversation(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to close conversation", zap.String("conversation_id", id), zap.Error(err))
		http.Error(w, "Failed to close conversation", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(conv)
}

type ChatRequest struct {
	ConversationID string `json:"conversationId"`
	UserMessage    string `json:"userMessage"`
}

// ChatHandler relays the assistant's reply as newline-delimited JSON chunks:
// {"content":<delta>,"done":false} per delta, then {"content":"","done":true}.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		http.Error(w, "userMessage cannot be empty", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Resolve the conversation up front so its id can be returned in a
	// header before the body starts streaming.
	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := h.chat.StartConversation(nil)
		if err != nil {
			h.logger.Error("failed to create conversation", zap.Error(err))
			http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
			return
		}
		conversationID = conv.ID
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Conversation-Id", conversationID)

	encoder := json.NewEncoder(w)
	wroteAny := false
	emit := func(chunk core.StreamChunk) error {
		if err := encoder.Encode(chunk); err != nil {
			return err
		}
		flusher.Flush()
		wroteAny = true
		return nil
	}

	_, err := h.chat.StreamChat(r.Context(), conversationID, req.UserMessage, emit)
	if err != nil {
		if !wroteAny {
			switch {
			case errors.Is(err, store.ErrNotFound):
				http.Error(w, "Conversation not found", http.StatusNotFound)
			case errors.Is(err, core.ErrTurnInProgress):
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				h.logger.Error("chat turn failed", zap.String("conversation_id", conversationID), zap.Error(err))
				http.Error(w, "Failed to generate response", http.StatusInternalServerError)
			}
			return
		}
		// Mid-stream failure: the body is already partially written, so the
		// only honest signal left is terminating without a done:true line.
		h.logger.Error("chat stream aborted", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (h *APIHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.chat.Settings()
	if err != nil {
		h.logger.Error("failed to load settings", zap.Error(err))
		http.Error(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}
	if settings == nil {
		settings = &store.AssistantSettings{}
	}
	json.NewEncoder(w).Encode(settings)
}

func (h *APIHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var settings store.AssistantSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chat.SaveSettings(&settings); err != nil {
		h.logger.Error("failed to save settings", zap.Error(err))
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(settings)
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.knowledge.ListDocuments()
	if err != nil {
		h.logger.Error("failed to list documents", zap.Error(err))
		http.Error(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.KnowledgeDocument{}
	}
	json.NewEncoder(w).Encode(docs)
}

func (h *APIHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "A file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	adminUser := h.authCfg.AdminUser
	doc, err := h.knowledge.UploadDocument(r.Context(), core.UploadRequest{
		Title:       title,
		Description: r.FormValue("description"),
		FileName:    header.Filename,
		FileType:    header.Header.Get("Content-Type"),
		Data:        data,
		UploadedBy:  &adminUser,
	})
	if err != nil {
		h.logger.Error("failed to upload document", zap.String("title", title), zap.Error(err))
		http.Error(w, "Failed to upload document", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(doc)
}

func (h *APIHandler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")

	if err := h.knowledge.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Document not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to delete document", zap.String("document_id", id), zap.Error(err))
		http.Error(w, "Failed to delete document", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type AssistantTestRequest struct {
	Question string `json:"question"`
}

// AssistantTestHandler answers one question through the polled assistant run,
// with the provider-side retrieval tool. Blocks for up to the poll budget.
func (h *APIHandler) AssistantTestHandler(w http.ResponseWriter, r *http.Request) {
	var req AssistantTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question cannot be empty", http.StatusBadRequest)
		return
	}

	answer, err := h.poller.CreateResponseAndPoll(r.Context(), req.Question)
	if err != nil {
		h.logger.Error("assistant test failed", zap.Error(err))
		http.Error(w, "Failed to get assistant response", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"answer": answer})
}
