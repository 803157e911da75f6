package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSource struct {
	name     string
	sent     []string
	succeeds bool
}

func (s *recordingSource) SendMessage(userID, message string) bool {
	s.sent = append(s.sent, userID+":"+message)
	return s.succeeds
}

func (s *recordingSource) SendFile(userID, path, caption string) bool {
	return s.succeeds
}

func (s *recordingSource) GetName() string { return s.name }

func TestPrefixSplitsUserID(t *testing.T) {
	prefix, rest, ok := Prefix("telegram:42")
	require.True(t, ok)
	require.Equal(t, "telegram", prefix)
	require.Equal(t, "42", rest)
}

func TestPrefixReturnsFalseWithoutColon(t *testing.T) {
	_, _, ok := Prefix("no-prefix-here")
	require.False(t, ok)
}

func TestSenderDeliversThroughRegisteredChannel(t *testing.T) {
	src := &recordingSource{name: "telegram", succeeds: true}
	reg := NewRegistry()
	reg.Register("telegram", src)
	sender := NewSender(reg)

	err := sender.Send(context.Background(), "telegram:42", "hello")
	require.NoError(t, err)
	require.Equal(t, []string{"telegram:42:hello"}, src.sent)
}

func TestSenderErrorsWhenChannelFails(t *testing.T) {
	src := &recordingSource{name: "telegram", succeeds: false}
	reg := NewRegistry()
	reg.Register("telegram", src)
	sender := NewSender(reg)

	err := sender.Send(context.Background(), "telegram:42", "hello")
	require.Error(t, err)
}

func TestSenderErrorsWhenNoChannelRegistered(t *testing.T) {
	reg := NewRegistry()
	sender := NewSender(reg)

	err := sender.Send(context.Background(), "api:ws-abc", "hello")
	require.Error(t, err)
}

func TestSenderErrorsOnMissingPrefix(t *testing.T) {
	reg := NewRegistry()
	sender := NewSender(reg)

	err := sender.Send(context.Background(), "no-prefix", "hello")
	require.Error(t, err)
}
