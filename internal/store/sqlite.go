package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mindwell-ai/mindwell/backend/internal/model/chat"
)

// timeLayout keeps the fractional second fixed-width so stored timestamps
// sort lexicographically. RFC3339Nano strips trailing zeros and breaks
// ORDER BY / MIN / MAX over the text column.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Schema initialization is idempotent: reopening an existing database never
// destroys data. The integer turn id is the ordering key.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	sentiment REAL,
	topics TEXT,
	emotional_state TEXT
);

CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and initializes the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation allocates a new conversation row for the session.
func (s *SQLiteStore) CreateConversation(ctx context.Context, sessionID string) (string, error) {
	id := uuid.NewString()
	createdAt := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations(id, session_id, created_at) VALUES(?,?,?)",
		id, sessionID, createdAt.Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

// AppendTurn appends a turn to an existing conversation.
func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID string, role chat.Role, content string) (chat.Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id=?", conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Turn{}, ErrUnknownConversation
	}
	if err != nil {
		return chat.Turn{}, fmt.Errorf("check conversation: %w", err)
	}

	createdAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO turns(conversation_id, role, content, created_at) VALUES(?,?,?,?)",
		conversationID, string(role), content, createdAt.Format(timeLayout))
	if err != nil {
		return chat.Turn{}, fmt.Errorf("insert turn: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return chat.Turn{}, fmt.Errorf("turn id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return chat.Turn{}, fmt.Errorf("commit turn: %w", err)
	}

	return chat.Turn{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      createdAt,
	}, nil
}

// ReadTurns returns the conversation's turns in creation order.
func (s *SQLiteStore) ReadTurns(ctx context.Context, conversationID string) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, role, content, created_at FROM turns WHERE conversation_id=? ORDER BY id",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0, 16)
	for rows.Next() {
		var (
			turn      chat.Turn
			role      string
			createdAt string
		)
		if err := rows.Scan(&turn.ID, &role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.ConversationID = conversationID
		turn.Role = chat.Role(role)
		turn.CreatedAt = parseTime(createdAt)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// UpdateAnalytics overwrites the analytics rollup fields.
func (s *SQLiteStore) UpdateAnalytics(ctx context.Context, conversationID string, sentiment float64, topics []string, emotionalState string) error {
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET sentiment=?, topics=?, emotional_state=? WHERE id=?",
		sentiment, string(topicsJSON), emotionalState, conversationID)
	if err != nil {
		return fmt.Errorf("update analytics: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUnknownConversation
	}
	return nil
}

// ListRecentConversations returns up to limit conversation summaries ordered
// by recency descending.
func (s *SQLiteStore) ListRecentConversations(ctx context.Context, limit int) ([]chat.Summary, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.created_at, COUNT(t.id), c.sentiment, c.topics
		FROM conversations c
		LEFT JOIN turns t ON c.id = t.conversation_id
		GROUP BY c.id
		ORDER BY c.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]chat.Summary, 0, limit)
	for rows.Next() {
		var (
			summary   chat.Summary
			createdAt string
			sentiment sql.NullFloat64
			topics    sql.NullString
		)
		if err := rows.Scan(&summary.ID, &summary.SessionID, &createdAt, &summary.TurnCount, &sentiment, &topics); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summary.CreatedAt = parseTime(createdAt)
		if sentiment.Valid {
			v := sentiment.Float64
			summary.Sentiment = &v
		}
		summary.Topics = decodeTopics(topics)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// ConversationMetrics aggregates turn counters and the stored rollup.
func (s *SQLiteStore) ConversationMetrics(ctx context.Context, conversationID string) (chat.Metrics, error) {
	var (
		sentiment sql.NullFloat64
		topics    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT sentiment, topics FROM conversations WHERE id=?", conversationID).
		Scan(&sentiment, &topics)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Metrics{}, ErrUnknownConversation
	}
	if err != nil {
		return chat.Metrics{}, fmt.Errorf("read conversation: %w", err)
	}

	metrics := chat.Metrics{ConversationID: conversationID}
	if sentiment.Valid {
		v := sentiment.Float64
		metrics.Sentiment = &v
	}
	metrics.Topics = decodeTopics(topics)

	var start, end sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END),
			SUM(CASE WHEN role = 'assistant' THEN 1 ELSE 0 END),
			MIN(created_at), MAX(created_at)
		FROM turns WHERE conversation_id=?`, conversationID).
		Scan(&metrics.TotalTurns, newNullInt(&metrics.UserTurns), newNullInt(&metrics.AssistantTurns), &start, &end)
	if err != nil {
		return chat.Metrics{}, fmt.Errorf("aggregate turns: %w", err)
	}
	if start.Valid {
		t := parseTime(start.String)
		metrics.StartedAt = &t
	}
	if end.Valid {
		t := parseTime(end.String)
		metrics.EndedAt = &t
	}
	return metrics, nil
}

// ExportConversation serializes the transcript for download.
func (s *SQLiteStore) ExportConversation(ctx context.Context, conversationID string, format ExportFormat) (string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id=?", conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownConversation
	}
	if err != nil {
		return "", fmt.Errorf("check conversation: %w", err)
	}

	turns, err := s.ReadTurns(ctx, conversationID)
	if err != nil {
		return "", err
	}

	switch format {
	case ExportJSON:
		data, err := json.MarshalIndent(turns, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal transcript: %w", err)
		}
		return string(data), nil
	case ExportText:
		parts := make([]string, 0, len(turns))
		for _, turn := range turns {
			parts = append(parts, fmt.Sprintf("%s (%s):\n%s",
				strings.ToUpper(string(turn.Role)),
				turn.CreatedAt.Format(time.RFC3339),
				turn.Content))
		}
		return strings.Join(parts, "\n\n"), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func decodeTopics(topics sql.NullString) []string {
	if !topics.Valid || topics.String == "" {
		return nil
	}
	var decoded []string
	if err := json.Unmarshal([]byte(topics.String), &decoded); err != nil {
		return nil
	}
	return decoded
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullInt scans a nullable integer into an int, defaulting to zero.
type nullInt struct {
	dst *int
}

func newNullInt(dst *int) *nullInt {
	return &nullInt{dst: dst}
}

func (n *nullInt) Scan(value any) error {
	if value == nil {
		*n.dst = 0
		return nil
	}
	switch v := value.(type) {
	case int64:
		*n.dst = int(v)
		return nil
	case float64:
		*n.dst = int(v)
		return nil
	default:
		return fmt.Errorf("unexpected count type %T", value)
	}
}
