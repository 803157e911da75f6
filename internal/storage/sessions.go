package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession inserts a new session row, generating an id if needed.
func (d *DB) CreateSession(s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := d.conn.Exec(`INSERT INTO sessions (id, source, created_at) VALUES (?,?,?)`,
		s.ID, s.Source, toMillis(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id.
func (d *DB) GetSession(id string) (*Session, error) {
	s := &Session{}
	var createdAt int64
	err := d.conn.QueryRow(`SELECT id, source, created_at FROM sessions WHERE id=?`, id).Scan(&s.ID, &s.Source, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	s.CreatedAt = fromMillis(createdAt)
	return s, nil
}

// AppendMessage appends one message to a session; messages are never
// mutated once written.
func (d *DB) AppendMessage(msg *SessionMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := d.conn.Exec(`
		INSERT INTO session_messages (id, session_id, role, content, created_at) VALUES (?,?,?,?,?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, toMillis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session message: %w", err)
	}
	return nil
}

// GetMessages returns all messages for a session in insertion order.
func (d *DB) GetMessages(sessionID string) ([]*SessionMessage, error) {
	rows, err := d.conn.Query(`
		SELECT id, session_id, role, content, created_at FROM session_messages
		WHERE session_id=? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer rows.Close()

	var out []*SessionMessage
	for rows.Next() {
		msg := &SessionMessage{}
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session message: %w", err)
		}
		msg.Role = MessageRole(role)
		msg.CreatedAt = fromMillis(createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MessageCount returns the number of messages recorded for a session.
func (d *DB) MessageCount(sessionID string) (int, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM session_messages WHERE session_id=?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session messages: %w", err)
	}
	return n, nil
}

// PutSessionSummary inserts a session summary. Callers must first check
// HasSessionSummary: summaries are produced at most once per session.
func (d *DB) PutSessionSummary(sum *SessionSummary) error {
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}
	_, err := d.conn.Exec(`
		INSERT INTO session_summaries (session_id, user_id, summary, topics, message_count, duration_ms, embedding, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		sum.SessionID, sum.UserID, sum.Summary, marshalJSONArray(sum.Topics), sum.MessageCount, sum.DurationMS,
		encodeEmbedding(sum.Embedding), toMillis(sum.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session summary: %w", err)
	}
	return nil
}

// HasSessionSummary reports whether a session has already been summarized.
func (d *DB) HasSessionSummary(sessionID string) (bool, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM session_summaries WHERE session_id=?`, sessionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check session summary: %w", err)
	}
	return n > 0, nil
}

// GetSessionSummary fetches a session's summary, if any.
func (d *DB) GetSessionSummary(sessionID string) (*SessionSummary, error) {
	row := d.conn.QueryRow(`
		SELECT session_id, user_id, summary, topics, message_count, duration_ms, embedding, created_at
		FROM session_summaries WHERE session_id=?`, sessionID)
	sum := &SessionSummary{}
	var topics string
	var embedding []byte
	var createdAt int64
	err := row.Scan(&sum.SessionID, &sum.UserID, &sum.Summary, &topics, &sum.MessageCount, &sum.DurationMS, &embedding, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session summary %s: %w", sessionID, err)
	}
	unmarshalJSON(topics, &sum.Topics)
	sum.Embedding = decodeEmbedding(embedding)
	sum.CreatedAt = fromMillis(createdAt)
	return sum, nil
}

// RecentSessionSummaries returns a user's session summaries created since
// cutoff, newest first, for the proactive evaluator's unresolved-thread
// heuristic.
func (d *DB) RecentSessionSummaries(userID string, since time.Time) ([]*SessionSummary, error) {
	rows, err := d.conn.Query(`
		SELECT session_id, user_id, summary, topics, message_count, duration_ms, embedding, created_at
		FROM session_summaries WHERE user_id=? AND created_at >= ? ORDER BY created_at DESC`,
		userID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("query recent session summaries: %w", err)
	}
	defer rows.Close()

	var out []*SessionSummary
	for rows.Next() {
		sum := &SessionSummary{}
		var topics string
		var embedding []byte
		var createdAt int64
		if err := rows.Scan(&sum.SessionID, &sum.UserID, &sum.Summary, &topics, &sum.MessageCount, &sum.DurationMS, &embedding, &createdAt); err != nil {
			return nil, fmt.Errorf("scan recent session summary: %w", err)
		}
		unmarshalJSON(topics, &sum.Topics)
		sum.Embedding = decodeEmbedding(embedding)
		sum.CreatedAt = fromMillis(createdAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// UnsummarizedSessionsOlderThan returns sessions with no summary row and
// whose last message predates cutoff, used by the gardener's deep tick.
func (d *DB) UnsummarizedSessionsOlderThan(cutoff time.Time) ([]*Session, error) {
	rows, err := d.conn.Query(`
		SELECT s.id, s.source, s.created_at FROM sessions s
		WHERE s.id NOT IN (SELECT session_id FROM session_summaries)
		AND s.id IN (
			SELECT session_id FROM session_messages
			GROUP BY session_id HAVING MAX(created_at) < ?
		)`, toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query unsummarized sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s := &Session{}
		var createdAt int64
		if err := rows.Scan(&s.ID, &s.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.CreatedAt = fromMillis(createdAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneOldMessages deletes messages belonging to already-summarized
// sessions older than cutoff, returning the count removed.
func (d *DB) PruneOldMessages(cutoff time.Time) (int, error) {
	res, err := d.conn.Exec(`
		DELETE FROM session_messages WHERE session_id IN (
			SELECT session_id FROM session_summaries
		) AND created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune old messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
