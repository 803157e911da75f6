package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/memoryd/gateway/internal/embedding"
	"github.com/memoryd/gateway/internal/llm"
	"github.com/memoryd/gateway/internal/storage"
)

const minMessagesForSummary = 4

// Summarizer produces a one-time summary per session once it has enough
// messages.
type Summarizer struct {
	llmProvider llm.Provider
	db          *storage.DB
	embedder    embedding.Provider
}

// NewSummarizer builds a Summarizer.
func NewSummarizer(llmProvider llm.Provider, db *storage.DB, embedder embedding.Provider) *Summarizer {
	return &Summarizer{llmProvider: llmProvider, db: db, embedder: embedder}
}

type summaryResponse struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// Summarize produces and persists a session summary, returning false
// without calling the LLM if the session already has one or doesn't have
// enough messages yet.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string) (bool, error) {
	has, err := s.db.HasSessionSummary(sessionID)
	if err != nil {
		return false, fmt.Errorf("check existing summary: %w", err)
	}
	if has {
		return false, nil
	}

	messages, err := s.db.GetMessages(sessionID)
	if err != nil {
		return false, fmt.Errorf("fetch session messages: %w", err)
	}
	if len(messages) < minMessagesForSummary {
		return false, nil
	}

	session, err := s.db.GetSession(sessionID)
	if err != nil {
		return false, fmt.Errorf("fetch session: %w", err)
	}

	resp, err := s.llmProvider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: buildSummaryPrompt(messages)}}},
		},
		MaxTokens:      512,
		ResponseFormat: "json",
	})
	if err != nil {
		return false, fmt.Errorf("summarize call: %w", err)
	}

	var parsed summaryResponse
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return false, fmt.Errorf("parse summary response: %w", err)
	}

	var vec []float32
	if s.embedder != nil {
		vec, _ = s.embedder.Embed(ctx, parsed.Summary)
	}

	duration := messages[len(messages)-1].CreatedAt.Sub(session.CreatedAt)
	sum := &storage.SessionSummary{
		SessionID:    sessionID,
		UserID:       session.Source,
		Summary:      parsed.Summary,
		Topics:       parsed.Topics,
		MessageCount: len(messages),
		DurationMS:   duration.Milliseconds(),
		Embedding:    vec,
		CreatedAt:    time.Now(),
	}
	if err := s.db.PutSessionSummary(sum); err != nil {
		return false, fmt.Errorf("persist session summary: %w", err)
	}
	return true, nil
}

func buildSummaryPrompt(messages []*storage.SessionMessage) string {
	var b strings.Builder
	b.WriteString("Summarize this conversation. Return JSON {\"summary\":string,\"topics\":[string]}.\n")
	for _, m := range messages {
		b.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}
	return b.String()
}
