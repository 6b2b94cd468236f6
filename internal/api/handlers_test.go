package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anglersden/fishing-assistant/internal/auth"
	"github.com/anglersden/fishing-assistant/internal/config"
	"github.com/anglersden/fishing-assistant/internal/core"
	"github.com/anglersden/fishing-assistant/internal/store"
)

type fakeStream struct {
	events []core.StreamEvent
	err    error
	idx    int
}

func (f *fakeStream) Recv() (core.StreamEvent, error) {
	if f.idx < len(f.events) {
		ev := f.events[f.idx]
		f.idx++
		return ev, nil
	}
	if f.err != nil {
		return core.StreamEvent{}, f.err
	}
	return core.StreamEvent{}, io.EOF
}

func (f *fakeStream) Close() error { return nil }

type fakeGateway struct {
	events    []core.StreamEvent
	streamErr error
}

func (g *fakeGateway) CreateCompletion(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
	return &core.CompletionResult{Content: "ok"}, nil
}

func (g *fakeGateway) StreamCompletion(ctx context.Context, req core.CompletionRequest) (core.CompletionStream, error) {
	return &fakeStream{events: g.events, err: g.streamErr}, nil
}

func (g *fakeGateway) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type fakeKnowledgeGateway struct{}

func (fakeKnowledgeGateway) EnsureVectorStore(ctx context.Context, name string) (string, error) {
	return "vs-test", nil
}
func (fakeKnowledgeGateway) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	return "file-test", nil
}
func (fakeKnowledgeGateway) AddFileToVectorStore(ctx context.Context, vectorStoreID, fileID string) error {
	return nil
}
func (fakeKnowledgeGateway) DeleteVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	return nil
}
func (fakeKnowledgeGateway) DeleteFile(ctx context.Context, fileID string) error { return nil }
func (fakeKnowledgeGateway) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type fakePoller struct {
	answer string
	err    error
}

func (p *fakePoller) CreateResponseAndPoll(ctx context.Context, question string) (string, error) {
	return p.answer, p.err
}

type testEnv struct {
	server *httptest.Server
	store  *store.MemoryStore
	authCfg config.AuthConfig
}

func newTestEnv(t *testing.T, gateway *fakeGateway, poller ResponsePoller) *testEnv {
	t.Helper()

	hash, err := auth.HashPassword("reel-good-password")
	require.NoError(t, err)
	authCfg := config.AuthConfig{
		JWTSecret:         "test-secret",
		AdminUser:         "admin",
		AdminPasswordHash: hash,
	}

	st := store.NewMemoryStore()
	logger := zap.NewNop()
	ranker := core.NewRetrievalRanker(gateway, logger)
	chatService := core.NewChatService(st, gateway, ranker, logger)
	knowledgeService := core.NewKnowledgeService(st, fakeKnowledgeGateway{}, "test-knowledge", logger)

	handler := NewAPIHandler(chatService, knowledgeService, poller, authCfg, logger)
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: st, authCfg: authCfg}
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"reel-good-password"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["token"])
	return body["token"]
}

func readChunks(t *testing.T, body io.Reader) []core.StreamChunk {
	t.Helper()
	var chunks []core.StreamChunk
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk core.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(line), &chunk))
		chunks = append(chunks, chunk)
	}
	require.NoError(t, scanner.Err())
	return chunks
}

func TestChatEndToEnd(t *testing.T) {
	gateway := &fakeGateway{events: []core.StreamEvent{
		{Type: core.EventCreated, ResponseID: "resp-1"},
		{Type: core.EventDelta, Content: "Use sweetcorn "},
		{Type: core.EventDelta, Content: "and boilies."},
		{Type: core.EventCompleted, ResponseID: "resp-1"},
	}}
	env := newTestEnv(t, gateway, &fakePoller{})

	resp, err := http.Post(env.server.URL+"/api/fishing-assistant/chat", "application/json",
		strings.NewReader(`{"userMessage":"What bait works for carp in winter?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	convID := resp.Header.Get("X-Conversation-Id")
	require.NotEmpty(t, convID)

	chunks := readChunks(t, resp.Body)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Use sweetcorn ", chunks[0].Content)
	assert.Equal(t, "and boilies.", chunks[1].Content)
	assert.True(t, chunks[2].Done)
	assert.Empty(t, chunks[2].Content)

	// The conversation now holds the user message and the full reply.
	getResp, err := http.Get(env.server.URL + "/api/fishing-assistant/conversations/" + convID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var conv ConversationResponse
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&conv))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, store.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Use sweetcorn and boilies.", conv.Messages[1].Content)
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{}, &fakePoller{})

	resp, err := http.Post(env.server.URL+"/api/fishing-assistant/chat", "application/json",
		strings.NewReader(`{"userMessage":"  "}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(env.server.URL+"/api/fishing-assistant/chat", "application/json",
		strings.NewReader(`{"conversationId":"ghost","userMessage":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatMidStreamErrorAbortsWithoutDone(t *testing.T) {
	gateway := &fakeGateway{
		events:    []core.StreamEvent{{Type: core.EventDelta, Content: "partial"}},
		streamErr: errors.New("provider failure"),
	}
	env := newTestEnv(t, gateway, &fakePoller{})

	resp, err := http.Post(env.server.URL+"/api/fishing-assistant/chat", "application/json",
		strings.NewReader(`{"userMessage":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	convID := resp.Header.Get("X-Conversation-Id")
	chunks := readChunks(t, resp.Body)
	for _, c := range chunks {
		assert.False(t, c.Done, "no done chunk may follow an aborted stream")
	}

	// No assistant message was persisted for the failed turn.
	messages, err := env.store.GetMessages(convID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, store.RoleUser, messages[0].Role)
}

func TestCreateAndCloseConversation(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{}, &fakePoller{})

	resp, err := http.Post(env.server.URL+"/api/fishing-assistant/conversations", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var conv store.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	assert.Equal(t, store.ConversationActive, conv.Status)

	prefsResp, err := httpPut(env.server.URL+"/api/fishing-assistant/conversations/"+conv.ID+"/preferences",
		"", `{"location":"River Trent","species":["barbel"]}`)
	require.NoError(t, err)
	prefsResp.Body.Close()
	assert.Equal(t, http.StatusOK, prefsResp.StatusCode)

	closeResp, err := http.Post(env.server.URL+"/api/fishing-assistant/conversations/"+conv.ID+"/close",
		"application/json", nil)
	require.NoError(t, err)
	defer closeResp.Body.Close()
	require.Equal(t, http.StatusOK, closeResp.StatusCode)

	var closed store.Conversation
	require.NoError(t, json.NewDecoder(closeResp.Body).Decode(&closed))
	assert.Equal(t, store.ConversationClosed, closed.Status)
	require.NotNil(t, closed.Preferences)
	assert.Equal(t, "River Trent", closed.Preferences.Location)
}

func TestSettingsRequireAuthForWrites(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{}, &fakePoller{})

	resp, err := httpPut(env.server.URL+"/api/fishing-assistant/admin/settings", "",
		`{"initial_question":"Hi there!"}`)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	badLogin, err := http.Post(env.server.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"wrong"}`))
	require.NoError(t, err)
	badLogin.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, badLogin.StatusCode)

	token := env.adminToken(t)
	resp, err = httpPut(env.server.URL+"/api/fishing-assistant/admin/settings", token,
		`{"initial_question":"Hi there!","language":"English"}`)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The read side is public: the chat UI fetches the greeting from here.
	getResp, err := http.Get(env.server.URL + "/api/fishing-assistant/admin/settings")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var settings store.AssistantSettings
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&settings))
	assert.Equal(t, "Hi there!", settings.InitialQuestion)
}

func TestDocumentAdminFlow(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{}, &fakePoller{})
	token := env.adminToken(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Carp baits"))
	require.NoError(t, mw.WriteField("description", "Seasonal bait guide"))
	fw, err := mw.CreateFormFile("file", "carp-baits.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("pdf bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/fishing-assistant/admin/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var doc store.KnowledgeDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "Carp baits", doc.Title)
	assert.Equal(t, store.DocumentCompleted, doc.ProcessingStatus)

	listReq, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/fishing-assistant/admin/documents", nil)
	require.NoError(t, err)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listResp, err := http.DefaultClient.Do(listReq)
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var docs []store.KnowledgeDocument
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&docs))
	require.Len(t, docs, 1)

	delReq, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/fishing-assistant/admin/documents/"+doc.ID, nil)
	require.NoError(t, err)
	delReq.Header.Set("Authorization", "Bearer "+token)
	delResp, err := http.DefaultClient.Do(delReq)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	delResp, err = http.DefaultClient.Do(delReq)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, delResp.StatusCode)
}

func TestAssistantTestEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{}, &fakePoller{answer: "Feeder fishing works best."})
	token := env.adminToken(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/fishing-assistant/admin/assistant/test",
		strings.NewReader(`{"question":"Best method for bream?"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Feeder fishing works best.", body["answer"])
}

func httpPut(url, token, body string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
