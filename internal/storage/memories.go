package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// defaultImportance is written when a caller omits importance; it matches
// the memories table's own column default.
const defaultImportance = 5

// maxFutureDocumentDate is how far into the future a document_date may sit
// before AddMemory clamps it back to now.
const maxFutureDocumentDate = 60 * time.Second

// AddMemory inserts a new memory row. Callers are expected to have already
// resolved category/confidence defaults; AddMemory fills in identity and
// bookkeeping fields and enforces the importance/document_date invariants
// (1 <= importance <= 10, document_date not more than 60s in the future)
// regardless of what the caller supplied, since this is the only mutation
// surface onto the memories table.
func (d *DB) AddMemory(m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	if m.DocumentDate.IsZero() {
		m.DocumentDate = m.CreatedAt
	} else if m.DocumentDate.After(now.Add(maxFutureDocumentDate)) {
		m.DocumentDate = now
	}
	if m.Importance == 0 {
		m.Importance = defaultImportance
	}
	if m.Importance < 1 {
		m.Importance = 1
	} else if m.Importance > 10 {
		m.Importance = 10
	}
	if m.Prominence == 0 {
		m.Prominence = 1.0
	}
	if m.TimesConfirmed == 0 {
		m.TimesConfirmed = 1
	}
	m.IsLatest = true

	_, err := d.conn.Exec(`
		INSERT INTO memories (
			id, user_id, content, category, memory_type, importance, confidence,
			prominence, access_count, times_confirmed, is_latest, source,
			source_chunk, learned_from, document_date, event_date, last_accessed,
			created_at, updated_at, embedding, contradiction_ids, metadata
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.UserID, m.Content, string(m.Category), string(m.MemoryType), m.Importance, m.Confidence,
		m.Prominence, m.AccessCount, m.TimesConfirmed, boolToInt(m.IsLatest), m.Source,
		m.SourceChunk, m.LearnedFrom, toMillis(m.DocumentDate), nullableMillis(m.EventDate), nullableMillis(m.LastAccessed),
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt), encodeEmbedding(m.Embedding), marshalJSONArray(m.ContradictionIDs), marshalJSON(m.Metadata),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return d.bumpCorpusStats(m.Content)
}

// MemoryPatch describes a partial update to a memory row; nil/zero fields
// are left untouched except where explicitly named (e.g. Prominence is
// always written when the Prominence pointer is set, even to 0).
type MemoryPatch struct {
	Content          *string
	Importance       *int
	Confidence       *float64
	Prominence       *float64
	AccessCount      *int
	TimesConfirmed   *int
	IsLatest         *bool
	MemoryType       *MemoryType
	Embedding        []float32
	ContradictionIDs []string
	LastAccessed     *time.Time
	// SkipUpdatedAt suppresses the updated_at bump. Full decay passes MUST
	// set this: updated_at tracks semantic change, not maintenance writes.
	SkipUpdatedAt bool
}

// UpdateMemory applies a partial patch to one memory row.
func (d *DB) UpdateMemory(id string, patch MemoryPatch) error {
	m, err := d.GetMemory(id)
	if err != nil {
		return err
	}
	if patch.Content != nil {
		m.Content = *patch.Content
	}
	if patch.Importance != nil {
		m.Importance = *patch.Importance
	}
	if patch.Confidence != nil {
		m.Confidence = *patch.Confidence
	}
	if patch.Prominence != nil {
		m.Prominence = *patch.Prominence
	}
	if patch.AccessCount != nil {
		m.AccessCount = *patch.AccessCount
	}
	if patch.TimesConfirmed != nil {
		m.TimesConfirmed = *patch.TimesConfirmed
	}
	if patch.IsLatest != nil {
		m.IsLatest = *patch.IsLatest
	}
	if patch.MemoryType != nil {
		m.MemoryType = *patch.MemoryType
	}
	if patch.Embedding != nil {
		m.Embedding = patch.Embedding
	}
	if patch.ContradictionIDs != nil {
		m.ContradictionIDs = patch.ContradictionIDs
	}
	if patch.LastAccessed != nil {
		m.LastAccessed = patch.LastAccessed
	}
	if !patch.SkipUpdatedAt {
		m.UpdatedAt = time.Now()
	}

	_, err = d.conn.Exec(`
		UPDATE memories SET content=?, importance=?, confidence=?, prominence=?,
			access_count=?, times_confirmed=?, is_latest=?, memory_type=?,
			embedding=?, contradiction_ids=?, last_accessed=?, updated_at=?
		WHERE id=?`,
		m.Content, m.Importance, m.Confidence, m.Prominence,
		m.AccessCount, m.TimesConfirmed, boolToInt(m.IsLatest), string(m.MemoryType),
		encodeEmbedding(m.Embedding), marshalJSONArray(m.ContradictionIDs), nullableMillis(m.LastAccessed), toMillis(m.UpdatedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("update memory %s: %w", id, err)
	}
	return nil
}

// GetMemory fetches one memory row by id.
func (d *DB) GetMemory(id string) (*Memory, error) {
	row := d.conn.QueryRow(`
		SELECT id, user_id, content, category, memory_type, importance, confidence,
			prominence, access_count, times_confirmed, is_latest, source, source_chunk,
			learned_from, document_date, event_date, last_accessed, created_at, updated_at,
			embedding, contradiction_ids, metadata
		FROM memories WHERE id=?`, id)
	return scanMemory(row)
}

// GetMemoriesByUser returns memory rows for a user matching the filter.
func (d *DB) GetMemoriesByUser(userID string, filter MemoryFilter) ([]*Memory, error) {
	query := `
		SELECT id, user_id, content, category, memory_type, importance, confidence,
			prominence, access_count, times_confirmed, is_latest, source, source_chunk,
			learned_from, document_date, event_date, last_accessed, created_at, updated_at,
			embedding, contradiction_ids, metadata
		FROM memories WHERE user_id = ?`
	args := []any{userID}

	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, string(filter.Category))
	}
	if filter.MemoryType != "" {
		query += " AND memory_type = ?"
		args = append(args, string(filter.MemoryType))
	}
	if filter.LatestOnly {
		query += " AND is_latest = 1"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReinforceMemory implements the reinforcement law: confidence never
// decreases, times_confirmed never decreases, prominence never decreases.
func (d *DB) ReinforceMemory(id string) (*Memory, error) {
	m, err := d.GetMemory(id)
	if err != nil {
		return nil, err
	}
	m.TimesConfirmed++
	m.Confidence = minFloat(m.Confidence+0.05, 0.99)
	m.Prominence = 1.0
	m.LastAccessed = timePtr(time.Now())

	_, err = d.conn.Exec(`
		UPDATE memories SET times_confirmed=?, confidence=?, prominence=?, last_accessed=?
		WHERE id=?`,
		m.TimesConfirmed, m.Confidence, m.Prominence, nullableMillis(m.LastAccessed), id)
	if err != nil {
		return nil, fmt.Errorf("reinforce memory %s: %w", id, err)
	}
	return m, nil
}

// AddContradiction records a bidirectional contradiction link between two
// memories by appending each id to the other's contradiction_ids.
func (d *DB) AddContradiction(aID, bID string) error {
	a, err := d.GetMemory(aID)
	if err != nil {
		return err
	}
	b, err := d.GetMemory(bID)
	if err != nil {
		return err
	}
	if !containsString(a.ContradictionIDs, bID) {
		a.ContradictionIDs = append(a.ContradictionIDs, bID)
	}
	if !containsString(b.ContradictionIDs, aID) {
		b.ContradictionIDs = append(b.ContradictionIDs, aID)
	}
	if _, err := d.conn.Exec(`UPDATE memories SET contradiction_ids=? WHERE id=?`, marshalJSONArray(a.ContradictionIDs), aID); err != nil {
		return fmt.Errorf("update contradiction ids %s: %w", aID, err)
	}
	if _, err := d.conn.Exec(`UPDATE memories SET contradiction_ids=? WHERE id=?`, marshalJSONArray(b.ContradictionIDs), bID); err != nil {
		return fmt.Errorf("update contradiction ids %s: %w", bID, err)
	}
	return nil
}

// IncrementAccessCount bumps access_count and last_accessed for a set of
// memories in one pass, used after every search call.
func (d *DB) IncrementAccessCount(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := toMillis(time.Now())
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE memories SET access_count = access_count + 1, last_accessed=? WHERE id=?`, now, id); err != nil {
			return fmt.Errorf("bump access count %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// AllLatestMemories returns every is_latest=1 memory across all users,
// used by full decay and dream-cycle scans.
func (d *DB) AllLatestMemories() ([]*Memory, error) {
	rows, err := d.conn.Query(`
		SELECT id, user_id, content, category, memory_type, importance, confidence,
			prominence, access_count, times_confirmed, is_latest, source, source_chunk,
			learned_from, document_date, event_date, last_accessed, created_at, updated_at,
			embedding, contradiction_ids, metadata
		FROM memories WHERE is_latest = 1`)
	if err != nil {
		return nil, fmt.Errorf("query latest memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// StaleSinceAccessed returns is_latest memories whose last_accessed (or
// created_at) is older than since, bounded by limit; used by the light
// decay tick's rolling window.
func (d *DB) StaleSinceAccessed(since time.Time, limit int) ([]*Memory, error) {
	rows, err := d.conn.Query(`
		SELECT id, user_id, content, category, memory_type, importance, confidence,
			prominence, access_count, times_confirmed, is_latest, source, source_chunk,
			learned_from, document_date, event_date, last_accessed, created_at, updated_at,
			embedding, contradiction_ids, metadata
		FROM memories
		WHERE is_latest = 1 AND COALESCE(last_accessed, created_at) < ?
		ORDER BY COALESCE(last_accessed, created_at) ASC
		LIMIT ?`, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query stale memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LowUtilityCandidates returns is_latest, non-static, non-derived memories
// older than minAge, ordered by prominence * (1 + access_count) ascending.
// That order is not the same as the utility prominence * ln(1+access_count)
// that gardener archival computes itself.
func (d *DB) LowUtilityCandidates(minAge time.Duration, limit int) ([]*Memory, error) {
	cutoff := toMillis(time.Now().Add(-minAge))
	rows, err := d.conn.Query(`
		SELECT id, user_id, content, category, memory_type, importance, confidence,
			prominence, access_count, times_confirmed, is_latest, source, source_chunk,
			learned_from, document_date, event_date, last_accessed, created_at, updated_at,
			embedding, contradiction_ids, metadata
		FROM memories
		WHERE is_latest = 1 AND memory_type NOT IN ('static_profile', 'derived') AND created_at < ?
		ORDER BY (prominence * (1.0 + access_count)) ASC
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query low utility candidates: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HardDeleteDecayedArchived deletes already-superseded rows whose
// prominence has decayed below 0.01.
func (d *DB) HardDeleteDecayedArchived() (int, error) {
	res, err := d.conn.Exec(`DELETE FROM memories WHERE is_latest = 0 AND memory_type = 'superseded' AND prominence < 0.01`)
	if err != nil {
		return 0, fmt.Errorf("hard delete decayed memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (d *DB) bumpCorpusStats(content string) error {
	_, err := d.conn.Exec(`
		UPDATE memory_corpus_stats SET document_count = document_count + 1, total_length = total_length + ?
		WHERE id = 1`, len(content))
	if err != nil {
		return fmt.Errorf("bump corpus stats: %w", err)
	}
	return nil
}

// CorpusStats returns the running document count and total length used by
// BM25's average-document-length normalization.
func (d *DB) CorpusStats() (docCount int, totalLength int, err error) {
	err = d.conn.QueryRow(`SELECT document_count, total_length FROM memory_corpus_stats WHERE id = 1`).Scan(&docCount, &totalLength)
	return
}

// BumpTermDocumentFrequency increments the document-frequency counter for
// each distinct term, maintaining BM25's streaming document-frequency map.
func (d *DB) BumpTermDocumentFrequency(terms []string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, t := range terms {
		if _, err := tx.Exec(`
			INSERT INTO term_document_frequency (term, document_count) VALUES (?, 1)
			ON CONFLICT(term) DO UPDATE SET document_count = document_count + 1`, t); err != nil {
			return fmt.Errorf("bump term df %q: %w", t, err)
		}
	}
	return tx.Commit()
}

// TermDocumentFrequency returns the document frequency for a term (0 if
// never seen).
func (d *DB) TermDocumentFrequency(term string) (int, error) {
	var n int
	err := d.conn.QueryRow(`SELECT document_count FROM term_document_frequency WHERE term=?`, term).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("term df %q: %w", term, err)
	}
	return n, nil
}

func scanMemory(row *sql.Row) (*Memory, error) {
	m := &Memory{}
	var category, memType string
	var isLatest int
	var eventDate, lastAccessed sql.NullInt64
	var embedding []byte
	var contradictionIDs, metadata string

	err := row.Scan(&m.ID, &m.UserID, &m.Content, &category, &memType, &m.Importance, &m.Confidence,
		&m.Prominence, &m.AccessCount, &m.TimesConfirmed, &isLatest, &m.Source, &m.SourceChunk,
		&m.LearnedFrom, &wrapDocumentDate{m}, &eventDate, &lastAccessed, &wrapCreatedAt{m}, &wrapUpdatedAt{m},
		&embedding, &contradictionIDs, &metadata)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	finishMemoryScan(m, category, memType, isLatest, eventDate, lastAccessed, embedding, contradictionIDs, metadata)
	return m, nil
}

func scanMemoryRows(rows *sql.Rows) (*Memory, error) {
	m := &Memory{}
	var category, memType string
	var isLatest int
	var eventDate, lastAccessed sql.NullInt64
	var embedding []byte
	var contradictionIDs, metadata string

	err := rows.Scan(&m.ID, &m.UserID, &m.Content, &category, &memType, &m.Importance, &m.Confidence,
		&m.Prominence, &m.AccessCount, &m.TimesConfirmed, &isLatest, &m.Source, &m.SourceChunk,
		&m.LearnedFrom, &wrapDocumentDate{m}, &eventDate, &lastAccessed, &wrapCreatedAt{m}, &wrapUpdatedAt{m},
		&embedding, &contradictionIDs, &metadata)
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	finishMemoryScan(m, category, memType, isLatest, eventDate, lastAccessed, embedding, contradictionIDs, metadata)
	return m, nil
}

func finishMemoryScan(m *Memory, category, memType string, isLatest int, eventDate, lastAccessed sql.NullInt64, embedding []byte, contradictionIDs, metadata string) {
	m.Category = MemoryCategory(category)
	m.MemoryType = MemoryType(memType)
	m.IsLatest = isLatest != 0
	m.EventDate = fromNullableMillis(eventDate)
	m.LastAccessed = fromNullableMillis(lastAccessed)
	m.Embedding = decodeEmbedding(embedding)
	unmarshalJSON(contradictionIDs, &m.ContradictionIDs)
	unmarshalJSON(metadata, &m.Metadata)
}

// wrapDocumentDate/CreatedAt/UpdatedAt adapt int64-millis columns directly
// into time.Time fields via database/sql.Scanner without an intermediate
// variable at every call site.
type wrapDocumentDate struct{ m *Memory }

func (w *wrapDocumentDate) Scan(src any) error {
	ms, err := scanInt64(src)
	if err != nil {
		return err
	}
	w.m.DocumentDate = fromMillis(ms)
	return nil
}

type wrapCreatedAt struct{ m *Memory }

func (w *wrapCreatedAt) Scan(src any) error {
	ms, err := scanInt64(src)
	if err != nil {
		return err
	}
	w.m.CreatedAt = fromMillis(ms)
	return nil
}

type wrapUpdatedAt struct{ m *Memory }

func (w *wrapUpdatedAt) Scan(src any) error {
	ms, err := scanInt64(src)
	if err != nil {
		return err
	}
	w.m.UpdatedAt = fromMillis(ms)
	return nil
}

func scanInt64(src any) (int64, error) {
	switch v := src.(type) {
	case int64:
		return v, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T for millis column", src)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func timePtr(t time.Time) *time.Time { return &t }

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
