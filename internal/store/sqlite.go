package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is the default backend for local development and single-node
// deployments.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT,
        status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'closed')),
        summary TEXT,
        preferences_json TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        last_message_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        response_id TEXT,
        token_count INTEGER,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS assistant_settings (
        id TEXT PRIMARY KEY,
        instructions TEXT NOT NULL DEFAULT '',
        context TEXT NOT NULL DEFAULT '',
        language TEXT NOT NULL DEFAULT '',
        personality TEXT NOT NULL DEFAULT '',
        avoid_topics TEXT NOT NULL DEFAULT '',
        initial_question TEXT NOT NULL DEFAULT '',
        vector_store_id TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS knowledge_documents (
        id TEXT PRIMARY KEY, -- UUID
        title TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        file_name TEXT NOT NULL,
        file_size INTEGER NOT NULL DEFAULT 0,
        file_type TEXT NOT NULL DEFAULT '',
        file_id TEXT NOT NULL,
        vector_store_id TEXT NOT NULL,
        processing_status TEXT NOT NULL CHECK (processing_status IN ('completed', 'error')),
        uploaded_by TEXT,
        embedding_json TEXT, -- JSON-encoded []float32
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation methods

func (s *SQLiteStore) CreateConversation(userID *string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:            uuid.NewString(),
		UserID:        userID,
		Status:        ConversationActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}

	stmt, err := s.db.Prepare(`INSERT INTO conversations (id, user_id, status, created_at, updated_at, last_message_at)
        VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare conversation insert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(conv.ID, conv.UserID, conv.Status, conv.CreatedAt, conv.UpdatedAt, conv.LastMessageAt); err != nil {
		return nil, fmt.Errorf("failed to execute conversation insert: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(id string) (*Conversation, error) {
	row := s.db.QueryRow(`SELECT id, user_id, status, summary, preferences_json, created_at, updated_at, last_message_at
        FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

func (s *SQLiteStore) UpdateConversation(id string, upd ConversationUpdate) (*Conversation, error) {
	// Build the SET clause from the supplied fields only.
	set := "updated_at = ?"
	args := []any{time.Now().UTC()}
	if upd.Status != nil {
		set += ", status = ?"
		args = append(args, *upd.Status)
	}
	if upd.Summary != nil {
		set += ", summary = ?"
		args = append(args, *upd.Summary)
	}
	if upd.Preferences != nil {
		prefs, err := json.Marshal(upd.Preferences)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
		}
		set += ", preferences_json = ?"
		args = append(args, string(prefs))
	}
	if upd.LastMessageAt != nil {
		set += ", last_message_at = ?"
		args = append(args, *upd.LastMessageAt)
	}
	args = append(args, id)

	res, err := s.db.Exec("UPDATE conversations SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute conversation update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var userID, summary, prefsJSON sql.NullString
	err := row.Scan(&conv.ID, &userID, &conv.Status, &summary, &prefsJSON,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.LastMessageAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	if userID.Valid {
		conv.UserID = &userID.String
	}
	if summary.Valid {
		conv.Summary = &summary.String
	}
	if prefsJSON.Valid && prefsJSON.String != "" {
		var prefs UserPreferences
		if err := json.Unmarshal([]byte(prefsJSON.String), &prefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
		}
		conv.Preferences = &prefs
	}
	return &conv, nil
}

// Message methods

func (s *SQLiteStore) CreateMessage(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	stmt, err := s.db.Prepare(`INSERT INTO messages (id, conversation_id, role, content, response_id, token_count, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.ResponseID, msg.TokenCount, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, role, content, response_id, token_count, created_at
        FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var responseID sql.NullString
		var tokenCount sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &responseID, &tokenCount, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if responseID.Valid {
			msg.ResponseID = &responseID.String
		}
		if tokenCount.Valid {
			n := int(tokenCount.Int64)
			msg.TokenCount = &n
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Settings methods

func (s *SQLiteStore) GetSettings() (*AssistantSettings, error) {
	var st AssistantSettings
	err := s.db.QueryRow(`SELECT id, instructions, context, language, personality, avoid_topics, initial_question, vector_store_id, created_at, updated_at
        FROM assistant_settings WHERE id = ?`, SettingsKey).
		Scan(&st.ID, &st.Instructions, &st.Context, &st.Language, &st.Personality,
			&st.AvoidTopics, &st.InitialQuestion, &st.VectorStoreID, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) SaveSettings(st *AssistantSettings) error {
	now := time.Now().UTC()
	st.ID = SettingsKey
	st.UpdatedAt = now
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}

	stmt, err := s.db.Prepare(`INSERT INTO assistant_settings
        (id, instructions, context, language, personality, avoid_topics, initial_question, vector_store_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            instructions = excluded.instructions,
            context = excluded.context,
            language = excluded.language,
            personality = excluded.personality,
            avoid_topics = excluded.avoid_topics,
            initial_question = excluded.initial_question,
            vector_store_id = excluded.vector_store_id,
            updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare settings upsert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(st.ID, st.Instructions, st.Context, st.Language, st.Personality,
		st.AvoidTopics, st.InitialQuestion, st.VectorStoreID, st.CreatedAt, st.UpdatedAt); err != nil {
		return fmt.Errorf("failed to execute settings upsert: %w", err)
	}
	return nil
}

// Knowledge document methods

func (s *SQLiteStore) CreateDocument(doc *KnowledgeDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	embeddingJSON, err := marshalEmbedding(doc.Embedding)
	if err != nil {
		return err
	}

	stmt, err := s.db.Prepare(`INSERT INTO knowledge_documents
        (id, title, description, file_name, file_size, file_type, file_id, vector_store_id, processing_status, uploaded_by, embedding_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare document insert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(doc.ID, doc.Title, doc.Description, doc.FileName, doc.FileSize, doc.FileType,
		doc.FileID, doc.VectorStoreID, doc.ProcessingStatus, doc.UploadedBy, embeddingJSON, doc.CreatedAt, doc.UpdatedAt); err != nil {
		return fmt.Errorf("failed to execute document insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(id string) (*KnowledgeDocument, error) {
	row := s.db.QueryRow(selectDocumentSQL+" WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments() ([]KnowledgeDocument, error) {
	rows, err := s.db.Query(selectDocumentSQL + " ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []KnowledgeDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

const selectDocumentSQL = `SELECT id, title, description, file_name, file_size, file_type, file_id, vector_store_id, processing_status, uploaded_by, embedding_json, created_at, updated_at
    FROM knowledge_documents`

func scanDocument(row rowScanner) (*KnowledgeDocument, error) {
	var doc KnowledgeDocument
	var uploadedBy, embeddingJSON sql.NullString
	err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &doc.FileName, &doc.FileSize, &doc.FileType,
		&doc.FileID, &doc.VectorStoreID, &doc.ProcessingStatus, &uploadedBy, &embeddingJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan document row: %w", err)
	}
	if uploadedBy.Valid {
		doc.UploadedBy = &uploadedBy.String
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &doc.Embedding); err != nil {
			// A broken embedding only degrades local ranking, keep the row usable.
			doc.Embedding = nil
		}
	}
	return &doc, nil
}

func (s *SQLiteStore) UpdateDocumentStatus(id, status string) error {
	res, err := s.db.Exec("UPDATE knowledge_documents SET processing_status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to execute document status update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateDocumentEmbedding(id string, embedding []float32) error {
	embeddingJSON, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.Exec("UPDATE knowledge_documents SET embedding_json = ?, updated_at = ? WHERE id = ?",
		embeddingJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to execute document embedding update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteDocument(id string) error {
	res, err := s.db.Exec("DELETE FROM knowledge_documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to execute document delete: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalEmbedding(embedding []float32) (sql.NullString, error) {
	if len(embedding) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(embedding)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
