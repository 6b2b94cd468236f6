package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client talks to the fishing-assistant HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{}, // no overall timeout: responses stream
	}
}

type settingsResponse struct {
	InitialQuestion string `json:"initial_question"`
}

// FetchGreeting returns the admin-configured opening line, "" when unset.
func (c *Client) FetchGreeting(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/fishing-assistant/admin/settings", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("settings request returned %s", resp.Status)
	}
	var settings settingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return "", fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings.InitialQuestion, nil
}

type conversationResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/fishing-assistant/conversations", strings.NewReader("{}"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("conversation request returned %s", resp.Status)
	}
	var conv conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("failed to decode conversation: %w", err)
	}
	return conv.ID, nil
}

type chatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	UserMessage    string `json:"userMessage"`
}

type chatChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Stream sends one user message and invokes onChunk for every NDJSON line as
// it arrives. It returns the conversation id the server attached the turn to
// (useful when none was supplied). A stream that ends without a done:true
// line is an error: the server aborted mid-reply.
func (c *Client) Stream(ctx context.Context, conversationID, userMessage string, onChunk func(content string, done bool) error) (string, error) {
	body, err := json.Marshal(chatRequest{ConversationID: conversationID, UserMessage: userMessage})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/fishing-assistant/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat request returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	convID := resp.Header.Get("X-Conversation-Id")
	if convID == "" {
		convID = conversationID
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sawDone := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return convID, fmt.Errorf("failed to parse stream line: %w", err)
		}
		if err := onChunk(chunk.Content, chunk.Done); err != nil {
			return convID, err
		}
		if chunk.Done {
			sawDone = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return convID, fmt.Errorf("stream read failed: %w", err)
	}
	if !sawDone {
		return convID, fmt.Errorf("stream ended before completion")
	}
	return convID, nil
}

// Send runs one full turn against the session state machine: submit, stream,
// settle. On failure the placeholder is rolled back.
func (c *Client) Send(ctx context.Context, session *Session, userMessage string) error {
	session.Submit(userMessage)
	convID, err := c.Stream(ctx, session.ConversationID, userMessage, func(content string, done bool) error {
		session.ApplyChunk(content, done)
		return nil
	})
	if convID != "" {
		session.ConversationID = convID
	}
	if err != nil {
		session.Fail(err)
		return err
	}
	return nil
}
