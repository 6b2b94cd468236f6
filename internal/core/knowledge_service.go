package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/anglersden/fishing-assistant/internal/store"
)

// KnowledgeService manages reference documents: the metadata rows live in the
// store, the file content lives in the provider's vector store.
type KnowledgeService struct {
	store           store.Store
	gateway         KnowledgeGateway
	vectorStoreName string
	logger          *zap.Logger
}

func NewKnowledgeService(st store.Store, gateway KnowledgeGateway, vectorStoreName string, logger *zap.Logger) *KnowledgeService {
	return &KnowledgeService{
		store:           st,
		gateway:         gateway,
		vectorStoreName: vectorStoreName,
		logger:          logger,
	}
}

type UploadRequest struct {
	Title       string
	Description string
	FileName    string
	FileType    string
	Data        []byte
	UploadedBy  *string
}

// UploadDocument uploads the file to the provider, attaches it to the vector
// store (creating the store on first use) and records the metadata row. An
// indexing failure is recorded as processing_status=error rather than
// discarding the upload.
func (s *KnowledgeService) UploadDocument(ctx context.Context, req UploadRequest) (*store.KnowledgeDocument, error) {
	if req.Title == "" || req.FileName == "" || len(req.Data) == 0 {
		return nil, fmt.Errorf("title, file name and file content are required")
	}

	vectorStoreID, err := s.ensureVectorStore(ctx)
	if err != nil {
		return nil, err
	}

	fileID, err := s.gateway.UploadFile(ctx, req.FileName, req.Data)
	if err != nil {
		return nil, err
	}

	doc := &store.KnowledgeDocument{
		Title:            req.Title,
		Description:      req.Description,
		FileName:         req.FileName,
		FileSize:         int64(len(req.Data)),
		FileType:         req.FileType,
		FileID:           fileID,
		VectorStoreID:    vectorStoreID,
		ProcessingStatus: store.DocumentCompleted,
		UploadedBy:       req.UploadedBy,
	}

	if err := s.gateway.AddFileToVectorStore(ctx, vectorStoreID, fileID); err != nil {
		s.logger.Warn("vector store indexing failed",
			zap.String("file_id", fileID), zap.Error(err))
		doc.ProcessingStatus = store.DocumentError
	}

	// The local embedding only powers relevance ranking; its absence is not
	// an upload failure.
	if embedding, err := s.gateway.CreateEmbedding(ctx, embeddingText(doc)); err != nil {
		s.logger.Warn("document embedding failed",
			zap.String("title", doc.Title), zap.Error(err))
	} else {
		doc.Embedding = embedding
	}

	if err := s.store.CreateDocument(doc); err != nil {
		return nil, fmt.Errorf("failed to record document: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes the file from the vector store and the provider,
// then deletes the metadata row. Already-removed provider files are fine.
func (s *KnowledgeService) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(id)
	if err != nil {
		return err
	}

	if err := s.gateway.DeleteVectorStoreFile(ctx, doc.VectorStoreID, doc.FileID); err != nil {
		return err
	}
	if err := s.gateway.DeleteFile(ctx, doc.FileID); err != nil {
		return err
	}

	return s.store.DeleteDocument(id)
}

func (s *KnowledgeService) ListDocuments() ([]store.KnowledgeDocument, error) {
	return s.store.ListDocuments()
}

// ensureVectorStore returns the configured vector store id, creating the
// store with the provider and persisting the id on first use.
func (s *KnowledgeService) ensureVectorStore(ctx context.Context) (string, error) {
	settings, err := s.store.GetSettings()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to load settings: %w", err)
	}
	if settings != nil && settings.VectorStoreID != "" {
		return settings.VectorStoreID, nil
	}

	id, err := s.gateway.EnsureVectorStore(ctx, s.vectorStoreName)
	if err != nil {
		return "", err
	}

	if settings == nil {
		settings = &store.AssistantSettings{}
	}
	settings.VectorStoreID = id
	if err := s.store.SaveSettings(settings); err != nil {
		return "", fmt.Errorf("failed to persist vector store id: %w", err)
	}
	s.logger.Info("created vector store", zap.String("vector_store_id", id))
	return id, nil
}

func embeddingText(doc *store.KnowledgeDocument) string {
	if doc.Description == "" {
		return doc.Title
	}
	return strings.TrimSpace(doc.Title + "\n" + doc.Description)
}
