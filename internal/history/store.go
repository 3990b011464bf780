package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists completed conversation turns in SQLite so a session
// can be resumed after restart. The in-memory [History] remains the
// owner during a session; the store only sees finished messages.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the conversation database.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		thinking TEXT NOT NULL DEFAULT '',
		tool_calls TEXT,
		tool_name TEXT NOT NULL DEFAULT '',
		user_stopped BOOLEAN NOT NULL DEFAULT FALSE,
		injected BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before the injected column existed. The error
	// on an already-present column is expected and ignored.
	s.db.Exec(`ALTER TABLE messages ADD COLUMN injected BOOLEAN NOT NULL DEFAULT FALSE`)
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureConversation creates the conversation row if it does not exist.
func (s *Store) EnsureConversation(id, model string) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, model, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, id, model, now, now)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// SaveMessage persists one message. Tool calls are stored as JSON in
// their normalized object form, so a reload can never resurrect the
// string-encoded argument shape.
func (s *Store) SaveMessage(conversationID string, m Message) error {
	var toolCalls any
	if len(m.ToolCalls) > 0 {
		data, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(data)
	}

	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, thinking, tool_calls, tool_name, user_stopped, injected, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, conversationID, m.Role, m.Content, m.Thinking, toolCalls, m.ToolName, m.UserStopped, m.Injected, ts)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// LatestConversation returns the id and model of the most recently
// updated conversation, or empty strings when the store is empty.
func (s *Store) LatestConversation() (id, model string, err error) {
	row := s.db.QueryRow(`SELECT id, model FROM conversations ORDER BY updated_at DESC LIMIT 1`)
	if err := row.Scan(&id, &model); err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", fmt.Errorf("query latest conversation: %w", err)
	}
	return id, model, nil
}

// LoadMessages returns a conversation's messages in order.
func (s *Store) LoadMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, thinking, tool_calls, tool_name, user_stopped, injected, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var toolCalls sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Thinking, &toolCalls, &m.ToolName, &m.UserStopped, &m.Injected, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
