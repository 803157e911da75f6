package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateScheduledItem inserts a new pending item.
func (d *DB) CreateScheduledItem(item *ScheduledItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = item.CreatedAt
	if item.Status == "" {
		item.Status = StatusPending
	}
	if item.BoardStatus == "" {
		item.BoardStatus = BoardScheduled
	}

	_, err := d.conn.Exec(`
		INSERT INTO scheduled_items (
			id, user_id, session_id, source, kind, type, message, context, trigger_at,
			status, board_status, recurring, source_memory_id, task_config, depends_on,
			priority, labels, goal_id, result, fired_at, acted_at, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		item.ID, item.UserID, nullString(item.SessionID), string(item.Source), string(item.Kind), item.Type, item.Message,
		marshalJSON(item.Context), toMillis(item.TriggerAt), string(item.Status), string(item.BoardStatus),
		marshalRecurring(item.Recurring), nullString(item.SourceMemoryID), marshalNullableJSON(item.TaskConfig),
		marshalJSONArray(item.DependsOn), item.Priority, marshalJSONArray(item.Labels), nullString(item.GoalID),
		marshalNullableResult(item.Result), nullableMillis(item.FiredAt), nullableMillis(item.ActedAt),
		toMillis(item.CreatedAt), toMillis(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert scheduled item: %w", err)
	}
	return nil
}

// GetScheduledItem fetches one item by id.
func (d *DB) GetScheduledItem(id string) (*ScheduledItem, error) {
	row := d.conn.QueryRow(scheduledItemSelect+" WHERE id=?", id)
	item, err := scanScheduledItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scheduled item not found: %s", id)
	}
	return item, err
}

// ClaimDueScheduledItems is the atomic contract of the scheduler: inside a
// single transaction, every pending row whose trigger_at has passed is
// flipped to processing and returned in that post-write state, so a
// concurrent caller observes an empty set for the same rows.
func (d *DB) ClaimDueScheduledItems(now time.Time) ([]*ScheduledItem, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(scheduledItemSelect+" WHERE status='pending' AND trigger_at <= ? ORDER BY trigger_at ASC", toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("query due items: %w", err)
	}
	var ids []string
	var items []*ScheduledItem
	for rows.Next() {
		item, err := scanScheduledItemRows(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, item.ID)
		items = append(items, item)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, toMillis(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := tx.Exec(fmt.Sprintf(`UPDATE scheduled_items SET status='processing', updated_at=? WHERE id IN (%s)`, placeholders), args...); err != nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}
	for _, item := range items {
		item.Status = StatusProcessing
	}
	return items, tx.Commit()
}

// ExpireOldScheduledItems sweeps pending/processing items whose trigger_at
// predates now-maxAge to expired. This recovers rows stuck in processing
// across a crash by expiring them, never by replaying them.
func (d *DB) ExpireOldScheduledItems(maxAge time.Duration) (int, error) {
	cutoff := toMillis(time.Now().Add(-maxAge))
	res, err := d.conn.Exec(`
		UPDATE scheduled_items SET status='expired', updated_at=?
		WHERE status IN ('pending','processing') AND trigger_at < ?`,
		toMillis(time.Now()), cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire old scheduled items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ConsolidateDuplicateScheduledItems collapses pending rows sharing
// (user_id, normalized message, recurring key) into the one with the
// earliest trigger_at, deleting the rest. Running it twice in a row is a
// no-op the second time.
func (d *DB) ConsolidateDuplicateScheduledItems() (int, error) {
	rows, err := d.conn.Query(`SELECT id, user_id, message, recurring, trigger_at FROM scheduled_items WHERE status='pending'`)
	if err != nil {
		return 0, fmt.Errorf("query pending for consolidation: %w", err)
	}
	type row struct {
		id, userID, message, recurring string
		triggerAt                      int64
	}
	var all []row
	for rows.Next() {
		var r row
		var recurring sql.NullString
		if err := rows.Scan(&r.id, &r.userID, &r.message, &recurring, &r.triggerAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan pending for consolidation: %w", err)
		}
		r.recurring = recurring.String
		all = append(all, r)
	}
	rows.Close()

	groups := map[string][]row{}
	for _, r := range all {
		key := r.userID + "|" + normalizeMessage(r.message) + "|" + r.recurring
		groups[key] = append(groups[key], r)
	}

	removed := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		keepIdx := 0
		for i, r := range group {
			if r.triggerAt < group[keepIdx].triggerAt {
				keepIdx = i
			}
		}
		for i, r := range group {
			if i == keepIdx {
				continue
			}
			if _, err := d.conn.Exec(`DELETE FROM scheduled_items WHERE id=?`, r.id); err != nil {
				return removed, fmt.Errorf("delete duplicate scheduled item %s: %w", r.id, err)
			}
			removed++
		}
	}
	return removed, nil
}

func normalizeMessage(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ActiveGoalItems returns every scheduled item carrying a goal_id whose
// board_status has not reached done/archived, for the proactive
// evaluator's stale-goal heuristic.
func (d *DB) ActiveGoalItems(userID string) ([]*ScheduledItem, error) {
	rows, err := d.conn.Query(scheduledItemSelect+`
		WHERE user_id=? AND goal_id IS NOT NULL AND goal_id != '' AND board_status NOT IN ('done','archived')`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query active goal items: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledItem
	for rows.Next() {
		item, err := scanScheduledItemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListScheduledItemsByUser returns every scheduled item for a user, most
// recently created first, for the control API's operational-visibility
// endpoint.
func (d *DB) ListScheduledItemsByUser(userID string) ([]*ScheduledItem, error) {
	rows, err := d.conn.Query(scheduledItemSelect+` WHERE user_id=? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query scheduled items by user: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledItem
	for rows.Next() {
		item, err := scanScheduledItemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// HasSimilarPendingScheduledItem reports whether a pending item already
// exists for the user with the same normalized message text.
func (d *DB) HasSimilarPendingScheduledItem(userID, message string) (bool, error) {
	rows, err := d.conn.Query(`SELECT message FROM scheduled_items WHERE user_id=? AND status='pending'`, userID)
	if err != nil {
		return false, fmt.Errorf("query pending for similarity: %w", err)
	}
	defer rows.Close()
	target := normalizeMessage(message)
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return false, fmt.Errorf("scan pending message: %w", err)
		}
		if normalizeMessage(m) == target {
			return true, nil
		}
	}
	return false, rows.Err()
}

// MarkScheduledItemFired sets status=fired, board_status=done, fired_at=now.
func (d *DB) MarkScheduledItemFired(id string) error {
	now := time.Now()
	_, err := d.conn.Exec(`
		UPDATE scheduled_items SET status='fired', board_status='done', fired_at=?, updated_at=? WHERE id=?`,
		toMillis(now), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("mark scheduled item fired %s: %w", id, err)
	}
	return nil
}

// MarkScheduledItemActed sets status=acted, acted_at=now. Called by
// engagement detection.
func (d *DB) MarkScheduledItemActed(id string) error {
	now := time.Now()
	_, err := d.conn.Exec(`UPDATE scheduled_items SET status='acted', acted_at=?, updated_at=? WHERE id=?`,
		toMillis(now), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("mark scheduled item acted %s: %w", id, err)
	}
	return nil
}

// ResetScheduledItemToPending resets an item to pending with a new
// trigger_at and board_status (quiet-hours deferral, dependency waits).
func (d *DB) ResetScheduledItemToPending(id string, triggerAt time.Time, boardStatus BoardStatus) error {
	_, err := d.conn.Exec(`
		UPDATE scheduled_items SET status='pending', board_status=?, trigger_at=?, updated_at=? WHERE id=?`,
		string(boardStatus), toMillis(triggerAt), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("reset scheduled item to pending %s: %w", id, err)
	}
	return nil
}

// UpdateScheduledItemBoard patches board_status and/or result without
// touching the queue status.
func (d *DB) UpdateScheduledItemBoard(id string, boardStatus BoardStatus, result *ScheduledItemResult) error {
	if result == nil {
		_, err := d.conn.Exec(`UPDATE scheduled_items SET board_status=?, updated_at=? WHERE id=?`,
			string(boardStatus), toMillis(time.Now()), id)
		if err != nil {
			return fmt.Errorf("update scheduled item board %s: %w", id, err)
		}
		return nil
	}
	_, err := d.conn.Exec(`UPDATE scheduled_items SET board_status=?, result=?, updated_at=? WHERE id=?`,
		string(boardStatus), marshalNullableResult(result), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update scheduled item board+result %s: %w", id, err)
	}
	return nil
}

// UnnotifiedResults returns items with a set result whose notifiedAt is
// still null, for the morning digest.
func (d *DB) UnnotifiedResults(userID string) ([]*ScheduledItem, error) {
	rows, err := d.conn.Query(scheduledItemSelect+" WHERE user_id=? AND result IS NOT NULL", userID)
	if err != nil {
		return nil, fmt.Errorf("query unnotified results: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledItem
	for rows.Next() {
		item, err := scanScheduledItemRows(rows)
		if err != nil {
			return nil, err
		}
		if item.Result != nil && item.Result.NotifiedAt == nil {
			out = append(out, item)
		}
	}
	return out, rows.Err()
}

// MarkResultNotified sets result.notifiedAt = now.
func (d *DB) MarkResultNotified(id string) error {
	item, err := d.GetScheduledItem(id)
	if err != nil {
		return err
	}
	if item.Result == nil {
		return nil
	}
	now := time.Now()
	item.Result.NotifiedAt = &now
	_, err = d.conn.Exec(`UPDATE scheduled_items SET result=?, updated_at=? WHERE id=?`,
		marshalNullableResult(item.Result), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("mark result notified %s: %w", id, err)
	}
	return nil
}

// RecentlyFiredAgentItems returns agent-sourced fired items for a user
// within the engagement window, for engagement detection.
func (d *DB) RecentlyFiredAgentItems(userID string, window time.Duration) ([]*ScheduledItem, error) {
	cutoff := toMillis(time.Now().Add(-window))
	rows, err := d.conn.Query(scheduledItemSelect+" WHERE user_id=? AND source='agent' AND status='fired' AND fired_at >= ?",
		userID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recently fired agent items: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledItem
	for rows.Next() {
		item, err := scanScheduledItemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

const scheduledItemSelect = `
	SELECT id, user_id, session_id, source, kind, type, message, context, trigger_at,
		status, board_status, recurring, source_memory_id, task_config, depends_on,
		priority, labels, goal_id, result, fired_at, acted_at, created_at, updated_at
	FROM scheduled_items`

func scanScheduledItem(row *sql.Row) (*ScheduledItem, error) {
	item := &ScheduledItem{}
	var sessionID, source, kind, status, board, recurring, sourceMemID, taskConfig, goalID, result, context, dependsOn, labels sql.NullString
	var triggerAt, createdAt, updatedAt int64
	var firedAt, actedAt sql.NullInt64

	err := row.Scan(&item.ID, &item.UserID, &sessionID, &source, &kind, &item.Type, &item.Message, &context,
		&triggerAt, &status, &board, &recurring, &sourceMemID, &taskConfig, &dependsOn,
		&item.Priority, &labels, &goalID, &result, &firedAt, &actedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	finishScheduledItemScan(item, sessionID, source, kind, status, board, recurring, sourceMemID, taskConfig, goalID, result, context, dependsOn, labels, triggerAt, createdAt, updatedAt, firedAt, actedAt)
	return item, nil
}

func scanScheduledItemRows(rows *sql.Rows) (*ScheduledItem, error) {
	item := &ScheduledItem{}
	var sessionID, source, kind, status, board, recurring, sourceMemID, taskConfig, goalID, result, context, dependsOn, labels sql.NullString
	var triggerAt, createdAt, updatedAt int64
	var firedAt, actedAt sql.NullInt64

	err := rows.Scan(&item.ID, &item.UserID, &sessionID, &source, &kind, &item.Type, &item.Message, &context,
		&triggerAt, &status, &board, &recurring, &sourceMemID, &taskConfig, &dependsOn,
		&item.Priority, &labels, &goalID, &result, &firedAt, &actedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan scheduled item: %w", err)
	}
	finishScheduledItemScan(item, sessionID, source, kind, status, board, recurring, sourceMemID, taskConfig, goalID, result, context, dependsOn, labels, triggerAt, createdAt, updatedAt, firedAt, actedAt)
	return item, nil
}

func finishScheduledItemScan(item *ScheduledItem, sessionID, source, kind, status, board, recurring, sourceMemID, taskConfig, goalID, result, context, dependsOn, labels sql.NullString,
	triggerAt, createdAt, updatedAt int64, firedAt, actedAt sql.NullInt64) {
	item.SessionID = sessionID.String
	item.Source = ScheduledItemSource(source.String)
	item.Kind = ScheduledItemKind(kind.String)
	item.Status = ScheduledItemStatus(status.String)
	item.BoardStatus = BoardStatus(board.String)
	item.SourceMemoryID = sourceMemID.String
	item.GoalID = goalID.String
	item.TriggerAt = fromMillis(triggerAt)
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	item.FiredAt = fromNullableMillis(firedAt)
	item.ActedAt = fromNullableMillis(actedAt)
	unmarshalJSON(context.String, &item.Context)
	unmarshalJSON(dependsOn.String, &item.DependsOn)
	unmarshalJSON(labels.String, &item.Labels)
	if recurring.Valid {
		var r Recurrence
		unmarshalJSON(recurring.String, &r)
		item.Recurring = &r
	}
	if taskConfig.Valid {
		unmarshalJSON(taskConfig.String, &item.TaskConfig)
	}
	if result.Valid {
		var r ScheduledItemResult
		unmarshalJSON(result.String, &r)
		item.Result = &r
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalRecurring(r *Recurrence) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: marshalJSON(r), Valid: true}
}

func marshalNullableJSON(v map[string]any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: marshalJSON(v), Valid: true}
}

func marshalNullableResult(r *ScheduledItemResult) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: marshalJSON(r), Valid: true}
}
