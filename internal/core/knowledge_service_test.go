package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anglersden/fishing-assistant/internal/store"
)

type fakeKnowledgeGateway struct {
	attachErr      error
	embedErr       error
	deletedFiles   []string
	deletedVSFiles []string
	createdStores  int
}

func (g *fakeKnowledgeGateway) EnsureVectorStore(ctx context.Context, name string) (string, error) {
	g.createdStores++
	return "vs-test", nil
}

func (g *fakeKnowledgeGateway) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	return "file-" + name, nil
}

func (g *fakeKnowledgeGateway) AddFileToVectorStore(ctx context.Context, vectorStoreID, fileID string) error {
	return g.attachErr
}

func (g *fakeKnowledgeGateway) DeleteVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	g.deletedVSFiles = append(g.deletedVSFiles, fileID)
	return nil
}

func (g *fakeKnowledgeGateway) DeleteFile(ctx context.Context, fileID string) error {
	g.deletedFiles = append(g.deletedFiles, fileID)
	return nil
}

func (g *fakeKnowledgeGateway) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if g.embedErr != nil {
		return nil, g.embedErr
	}
	return []float32{0.5, 0.5}, nil
}

func newTestKnowledgeService() (*KnowledgeService, *store.MemoryStore, *fakeKnowledgeGateway) {
	st := store.NewMemoryStore()
	gateway := &fakeKnowledgeGateway{}
	return NewKnowledgeService(st, gateway, "test-knowledge", zap.NewNop()), st, gateway
}

func TestUploadDocumentRecordsMetadataAndEmbedding(t *testing.T) {
	svc, st, gateway := newTestKnowledgeService()

	doc, err := svc.UploadDocument(context.Background(), UploadRequest{
		Title:       "Carp baits",
		Description: "Seasonal bait guide",
		FileName:    "carp-baits.pdf",
		FileType:    "application/pdf",
		Data:        []byte("pdf bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, store.DocumentCompleted, doc.ProcessingStatus)
	assert.Equal(t, "file-carp-baits.pdf", doc.FileID)
	assert.Equal(t, "vs-test", doc.VectorStoreID)
	assert.Equal(t, int64(len("pdf bytes")), doc.FileSize)
	assert.NotEmpty(t, doc.Embedding)

	// The newly created vector store id was persisted to settings.
	settings, err := st.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, "vs-test", settings.VectorStoreID)

	// A second upload reuses the stored id.
	_, err = svc.UploadDocument(context.Background(), UploadRequest{
		Title: "Pike lures", FileName: "pike.pdf", Data: []byte("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, gateway.createdStores)
}

func TestUploadDocumentIndexingFailureIsRecorded(t *testing.T) {
	svc, st, gateway := newTestKnowledgeService()
	gateway.attachErr = errors.New("indexing blew up")

	doc, err := svc.UploadDocument(context.Background(), UploadRequest{
		Title: "Carp baits", FileName: "carp.pdf", Data: []byte("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, store.DocumentError, doc.ProcessingStatus)

	stored, err := st.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DocumentError, stored.ProcessingStatus)
}

func TestUploadDocumentValidation(t *testing.T) {
	svc, _, _ := newTestKnowledgeService()

	_, err := svc.UploadDocument(context.Background(), UploadRequest{FileName: "x.pdf", Data: []byte("x")})
	assert.Error(t, err)

	_, err = svc.UploadDocument(context.Background(), UploadRequest{Title: "t", FileName: "x.pdf"})
	assert.Error(t, err)
}

func TestDeleteDocumentRemovesProviderFiles(t *testing.T) {
	svc, st, gateway := newTestKnowledgeService()

	doc, err := svc.UploadDocument(context.Background(), UploadRequest{
		Title: "Carp baits", FileName: "carp.pdf", Data: []byte("x"),
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(context.Background(), doc.ID))
	assert.Equal(t, []string{doc.FileID}, gateway.deletedVSFiles)
	assert.Equal(t, []string{doc.FileID}, gateway.deletedFiles)

	_, err = st.GetDocument(doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteDocument(context.Background(), doc.ID), store.ErrNotFound)
}
