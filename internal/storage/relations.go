package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddRelation inserts a typed edge, idempotent on (source, target, type):
// a repeat call is a no-op rather than an error.
func (d *DB) AddRelation(sourceID, targetID string, relType RelationType, confidence float64) (*MemoryRelation, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("relation %s would be a self-loop on %s", relType, sourceID)
	}
	existing, err := d.findRelation(sourceID, targetID, relType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	rel := &MemoryRelation{
		ID:           uuid.NewString(),
		SourceID:     sourceID,
		TargetID:     targetID,
		RelationType: relType,
		Confidence:   confidence,
		CreatedAt:    time.Now(),
	}
	_, err = d.conn.Exec(`
		INSERT INTO memory_relations (id, source_id, target_id, relation_type, confidence, created_at)
		VALUES (?,?,?,?,?,?)`,
		rel.ID, rel.SourceID, rel.TargetID, string(rel.RelationType), rel.Confidence, toMillis(rel.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert relation: %w", err)
	}
	return rel, nil
}

func (d *DB) findRelation(sourceID, targetID string, relType RelationType) (*MemoryRelation, error) {
	row := d.conn.QueryRow(`
		SELECT id, source_id, target_id, relation_type, confidence, created_at
		FROM memory_relations WHERE source_id=? AND target_id=? AND relation_type=?`,
		sourceID, targetID, string(relType))
	rel, err := scanRelation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// GetRelations returns every relation touching id, optionally filtered to
// one type, regardless of direction.
func (d *DB) GetRelations(id string, relType RelationType) ([]*MemoryRelation, error) {
	query := `SELECT id, source_id, target_id, relation_type, confidence, created_at
		FROM memory_relations WHERE (source_id=? OR target_id=?)`
	args := []any{id, id}
	if relType != "" {
		query += " AND relation_type=?"
		args = append(args, string(relType))
	}
	return d.queryRelations(query, args...)
}

// GetOutgoing returns relations where id is the source.
func (d *DB) GetOutgoing(id string, relType RelationType) ([]*MemoryRelation, error) {
	query := `SELECT id, source_id, target_id, relation_type, confidence, created_at
		FROM memory_relations WHERE source_id=?`
	args := []any{id}
	if relType != "" {
		query += " AND relation_type=?"
		args = append(args, string(relType))
	}
	return d.queryRelations(query, args...)
}

// GetIncoming returns relations where id is the target.
func (d *DB) GetIncoming(id string, relType RelationType) ([]*MemoryRelation, error) {
	query := `SELECT id, source_id, target_id, relation_type, confidence, created_at
		FROM memory_relations WHERE target_id=?`
	args := []any{id}
	if relType != "" {
		query += " AND relation_type=?"
		args = append(args, string(relType))
	}
	return d.queryRelations(query, args...)
}

// DeleteRelation removes one edge by id.
func (d *DB) DeleteRelation(id string) error {
	if _, err := d.conn.Exec(`DELETE FROM memory_relations WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete relation %s: %w", id, err)
	}
	return nil
}

// PruneOrphanedRelations deletes relations whose source or target no
// longer exists in memories, returning the count removed.
func (d *DB) PruneOrphanedRelations() (int, error) {
	res, err := d.conn.Exec(`
		DELETE FROM memory_relations
		WHERE source_id NOT IN (SELECT id FROM memories) OR target_id NOT IN (SELECT id FROM memories)`)
	if err != nil {
		return 0, fmt.Errorf("prune orphaned relations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AllRelations returns every relation row, used by graph traversal helpers
// (spreading activation, fusion clustering) that need the whole adjacency.
func (d *DB) AllRelations() ([]*MemoryRelation, error) {
	return d.queryRelations(`SELECT id, source_id, target_id, relation_type, confidence, created_at FROM memory_relations`)
}

func (d *DB) queryRelations(query string, args ...any) ([]*MemoryRelation, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	var out []*MemoryRelation
	for rows.Next() {
		rel, err := scanRelationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func scanRelation(row *sql.Row) (*MemoryRelation, error) {
	rel := &MemoryRelation{}
	var relType string
	var createdAt int64
	if err := row.Scan(&rel.ID, &rel.SourceID, &rel.TargetID, &relType, &rel.Confidence, &createdAt); err != nil {
		return nil, err
	}
	rel.RelationType = RelationType(relType)
	rel.CreatedAt = fromMillis(createdAt)
	return rel, nil
}

func scanRelationRows(rows *sql.Rows) (*MemoryRelation, error) {
	rel := &MemoryRelation{}
	var relType string
	var createdAt int64
	if err := rows.Scan(&rel.ID, &rel.SourceID, &rel.TargetID, &relType, &rel.Confidence, &createdAt); err != nil {
		return nil, fmt.Errorf("scan relation: %w", err)
	}
	rel.RelationType = RelationType(relType)
	rel.CreatedAt = fromMillis(createdAt)
	return rel, nil
}
