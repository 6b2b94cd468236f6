package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

//go:embed migrations.sql
var migrations embed.FS

// PostgresStore is the production backend.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) initSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("failed to read migrations file: %w", err)
	}
	if _, err = s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("failed to execute migrations: %w", err)
	}
	return nil
}

// Conversation methods

func (s *PostgresStore) CreateConversation(userID *string) (*Conversation, error) {
	conv := &Conversation{
		ID:     uuid.NewString(),
		UserID: userID,
		Status: ConversationActive,
	}
	err := s.db.QueryRow(`INSERT INTO conversations (id, user_id, status) VALUES ($1, $2, $3)
        RETURNING created_at, updated_at, last_message_at`,
		conv.ID, conv.UserID, conv.Status).
		Scan(&conv.CreatedAt, &conv.UpdatedAt, &conv.LastMessageAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(id string) (*Conversation, error) {
	row := s.db.QueryRow(`SELECT id, user_id, status, summary, preferences_json, created_at, updated_at, last_message_at
        FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *PostgresStore) UpdateConversation(id string, upd ConversationUpdate) (*Conversation, error) {
	set := "updated_at = NOW()"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if upd.Status != nil {
		set += ", status = " + arg(*upd.Status)
	}
	if upd.Summary != nil {
		set += ", summary = " + arg(*upd.Summary)
	}
	if upd.Preferences != nil {
		prefs, err := json.Marshal(upd.Preferences)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
		}
		set += ", preferences_json = " + arg(string(prefs))
	}
	if upd.LastMessageAt != nil {
		set += ", last_message_at = " + arg(*upd.LastMessageAt)
	}

	query := fmt.Sprintf("UPDATE conversations SET %s WHERE id = %s", set, arg(id))
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute conversation update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(id)
}

// Message methods

func (s *PostgresStore) CreateMessage(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err := s.db.QueryRow(`INSERT INTO messages (id, conversation_id, role, content, response_id, token_count)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.ResponseID, msg.TokenCount).
		Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, role, content, response_id, token_count, created_at
        FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`, conversationID)
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

func (s *PostgresStore) GetSettings() (*AssistantSettings, error) {
	var st AssistantSettings
	err := s.db.QueryRow(`SELECT id, instructions, context, language, personality, avoid_topics, initial_question, vector_store_id, created_at, updated_at
        FROM assistant_settings WHERE id = $1`, SettingsKey).
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

func (s *PostgresStore) SaveSettings(st *AssistantSettings) error {
	st.ID = SettingsKey
	err := s.db.QueryRow(`INSERT INTO assistant_settings
        (id, instructions, context, language, personality, avoid_topics, initial_question, vector_store_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            instructions = EXCLUDED.instructions,
            context = EXCLUDED.context,
            language = EXCLUDED.language,
            personality = EXCLUDED.personality,
            avoid_topics = EXCLUDED.avoid_topics,
            initial_question = EXCLUDED.initial_question,
            vector_store_id = EXCLUDED.vector_store_id,
            updated_at = NOW()
        RETURNING created_at, updated_at`,
		st.ID, st.Instructions, st.Context, st.Language, st.Personality,
		st.AvoidTopics, st.InitialQuestion, st.VectorStoreID).
		Scan(&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

// Knowledge document methods

func (s *PostgresStore) CreateDocument(doc *KnowledgeDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	embeddingJSON, err := marshalEmbedding(doc.Embedding)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(`INSERT INTO knowledge_documents
        (id, title, description, file_name, file_size, file_type, file_id, vector_store_id, processing_status, uploaded_by, embedding_json)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING created_at, updated_at`,
		doc.ID, doc.Title, doc.Description, doc.FileName, doc.FileSize, doc.FileType,
		doc.FileID, doc.VectorStoreID, doc.ProcessingStatus, doc.UploadedBy, embeddingJSON).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(id string) (*KnowledgeDocument, error) {
	row := s.db.QueryRow(selectDocumentSQL+" WHERE id = $1", id)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments() ([]KnowledgeDocument, error) {
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

func (s *PostgresStore) UpdateDocumentStatus(id, status string) error {
	res, err := s.db.Exec("UPDATE knowledge_documents SET processing_status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to execute document status update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentEmbedding(id string, embedding []float32) error {
	embeddingJSON, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.Exec("UPDATE knowledge_documents SET embedding_json = $1, updated_at = NOW() WHERE id = $2", embeddingJSON, id)
	if err != nil {
		return fmt.Errorf("failed to execute document embedding update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(id string) error {
	res, err := s.db.Exec("DELETE FROM knowledge_documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to execute document delete: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
