package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SetStaticProfileValue upserts one key/value fact with confidence.
func (d *DB) SetStaticProfileValue(userID, key, value string, confidence float64) error {
	_, err := d.conn.Exec(`
		INSERT INTO static_profile (user_id, key, value, confidence, updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(user_id, key) DO UPDATE SET value=excluded.value, confidence=excluded.confidence, updated_at=excluded.updated_at`,
		userID, key, value, confidence, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("set static profile %s/%s: %w", userID, key, err)
	}
	return nil
}

// GetStaticProfile returns every key/value pair recorded for a user.
func (d *DB) GetStaticProfile(userID string) ([]*StaticProfile, error) {
	rows, err := d.conn.Query(`SELECT user_id, key, value, confidence, updated_at FROM static_profile WHERE user_id=?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query static profile: %w", err)
	}
	defer rows.Close()

	var out []*StaticProfile
	for rows.Next() {
		p := &StaticProfile{}
		var updatedAt int64
		if err := rows.Scan(&p.UserID, &p.Key, &p.Value, &p.Confidence, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan static profile: %w", err)
		}
		p.UpdatedAt = fromMillis(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetDynamicProfile fetches the dynamic profile row, creating a zero value
// implicitly if none exists yet.
func (d *DB) GetDynamicProfile(userID string) (*DynamicProfile, error) {
	row := d.conn.QueryRow(`
		SELECT user_id, recent_topics, active_projects, current_mood, last_interaction_at
		FROM dynamic_profile WHERE user_id=?`, userID)
	p := &DynamicProfile{UserID: userID}
	var topics, projects string
	var lastInteraction int64
	err := row.Scan(&p.UserID, &topics, &projects, &p.CurrentMood, &lastInteraction)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dynamic profile %s: %w", userID, err)
	}
	unmarshalJSON(topics, &p.RecentTopics)
	unmarshalJSON(projects, &p.ActiveProjects)
	p.LastInteractionAt = fromMillis(lastInteraction)
	return p, nil
}

// PutDynamicProfile upserts the whole dynamic profile row.
func (d *DB) PutDynamicProfile(p *DynamicProfile) error {
	_, err := d.conn.Exec(`
		INSERT INTO dynamic_profile (user_id, recent_topics, active_projects, current_mood, last_interaction_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET recent_topics=excluded.recent_topics, active_projects=excluded.active_projects,
			current_mood=excluded.current_mood, last_interaction_at=excluded.last_interaction_at`,
		p.UserID, marshalJSONArray(p.RecentTopics), marshalJSONArray(p.ActiveProjects), p.CurrentMood, toMillis(p.LastInteractionAt))
	if err != nil {
		return fmt.Errorf("put dynamic profile %s: %w", p.UserID, err)
	}
	return nil
}

// GetBehavioralPattern fetches the behavioral pattern row for a user.
func (d *DB) GetBehavioralPattern(userID string) (*BehavioralPattern, error) {
	row := d.conn.QueryRow(`
		SELECT user_id, communication_style, expertise_areas, active_hours, response_preferences,
			message_frequency, session_engagement, topic_switch, response_length,
			affect_valence, affect_arousal, smoothed_valence, smoothed_arousal, last_analyzed_count, updated_at
		FROM behavioral_patterns WHERE user_id=?`, userID)
	p := &BehavioralPattern{UserID: userID}
	var expertise, hours, prefs string
	var updatedAt int64
	err := row.Scan(&p.UserID, &p.CommunicationStyle, &expertise, &hours, &prefs,
		&p.MessageFrequency, &p.SessionEngagement, &p.TopicSwitch, &p.ResponseLength,
		&p.AffectValence, &p.AffectArousal, &p.SmoothedValence, &p.SmoothedArousal, &p.LastAnalyzedCount, &updatedAt)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get behavioral pattern %s: %w", userID, err)
	}
	unmarshalJSON(expertise, &p.ExpertiseAreas)
	unmarshalJSON(hours, &p.ActiveHours)
	unmarshalJSON(prefs, &p.ResponsePreferences)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

// PutBehavioralPattern upserts the whole behavioral pattern row.
func (d *DB) PutBehavioralPattern(p *BehavioralPattern) error {
	p.UpdatedAt = time.Now()
	_, err := d.conn.Exec(`
		INSERT INTO behavioral_patterns (
			user_id, communication_style, expertise_areas, active_hours, response_preferences,
			message_frequency, session_engagement, topic_switch, response_length,
			affect_valence, affect_arousal, smoothed_valence, smoothed_arousal, last_analyzed_count, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET
			communication_style=excluded.communication_style, expertise_areas=excluded.expertise_areas,
			active_hours=excluded.active_hours, response_preferences=excluded.response_preferences,
			message_frequency=excluded.message_frequency, session_engagement=excluded.session_engagement,
			topic_switch=excluded.topic_switch, response_length=excluded.response_length,
			affect_valence=excluded.affect_valence, affect_arousal=excluded.affect_arousal,
			smoothed_valence=excluded.smoothed_valence, smoothed_arousal=excluded.smoothed_arousal,
			last_analyzed_count=excluded.last_analyzed_count, updated_at=excluded.updated_at`,
		p.UserID, p.CommunicationStyle, marshalJSONArray(p.ExpertiseAreas), marshalJSONArray(p.ActiveHours), marshalJSON(p.ResponsePreferences),
		p.MessageFrequency, p.SessionEngagement, p.TopicSwitch, p.ResponseLength,
		p.AffectValence, p.AffectArousal, p.SmoothedValence, p.SmoothedArousal, p.LastAnalyzedCount, toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put behavioral pattern %s: %w", p.UserID, err)
	}
	return nil
}

// AllBehavioralPatternUserIDs returns every user_id with a dynamic_profile
// row (not the behavioral_patterns table), used to find "active users" for
// incremental inference.
func (d *DB) AllBehavioralPatternUserIDs() ([]string, error) {
	rows, err := d.conn.Query(`SELECT DISTINCT user_id FROM dynamic_profile`)
	if err != nil {
		return nil, fmt.Errorf("query active user ids: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
