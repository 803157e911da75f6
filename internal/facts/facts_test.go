package facts

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memoryd/gateway/internal/llm"
	"github.com/memoryd/gateway/internal/memorystore"
	"github.com/memoryd/gateway/internal/storage"
)

func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("no more scripted responses")
	}
	text := s.responses[s.calls]
	s.calls++
	return &llm.Response{Content: []llm.ContentBlock{{Type: llm.BlockText, Text: text}}}, nil
}
func (s *scriptedLLM) IsAvailable() bool { return true }
func (s *scriptedLLM) Name() string      { return "scripted" }

func TestExtractorInsertsNewFactWhenNoMatch(t *testing.T) {
	db := setupTestDB(t)
	store := memorystore.New(db, nil, nil, nil)
	scripted := &scriptedLLM{responses: []string{
		`{"facts":[{"content":"Works at Acme","subject":"user","category":"fact","confidence":0.9,"action":"fact"}],"proactive_triggers":[]}`,
	}}
	ex := New(scripted, store, nil, nil)

	outcomes, _, err := ex.ProcessTurn(context.Background(), "u1", "I work at Acme")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, "insert", outcomes[0].Action)
}

func TestSummarizerSkipsBelowMinMessages(t *testing.T) {
	db := setupTestDB(t)
	scripted := &scriptedLLM{}
	summarizer := NewSummarizer(scripted, db, nil)

	session := &storage.Session{Source: "u1"}
	require.NoError(t, db.CreateSession(session))
	require.NoError(t, db.AppendMessage(&storage.SessionMessage{SessionID: session.ID, Role: storage.RoleUser, Content: "hi"}))

	ok, err := summarizer.Summarize(context.Background(), session.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, scripted.calls)
}

func TestSummarizerProducesAtMostOnce(t *testing.T) {
	db := setupTestDB(t)
	scripted := &scriptedLLM{responses: []string{
		`{"summary":"Discussed project plans","topics":["work"]}`,
	}}
	summarizer := NewSummarizer(scripted, db, nil)

	session := &storage.Session{Source: "u1"}
	require.NoError(t, db.CreateSession(session))
	for i := 0; i < minMessagesForSummary; i++ {
		require.NoError(t, db.AppendMessage(&storage.SessionMessage{
			SessionID: session.ID, Role: storage.RoleUser, Content: "message", CreatedAt: time.Now(),
		}))
	}

	ok, err := summarizer.Summarize(context.Background(), session.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, scripted.calls)

	ok2, err := summarizer.Summarize(context.Background(), session.ID)
	require.NoError(t, err)
	require.False(t, ok2)
	require.Equal(t, 1, scripted.calls, "re-summarization must not call the LLM again")
}
