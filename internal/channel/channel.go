// Package channel routes outbound messages to whichever external chat
// channel owns a user, without the scheduler or proactive evaluator knowing
// which channel implementations exist. Channel adapters themselves
// (Telegram, WebSocket, HTTP) live outside this module; this package only
// defines the interface they satisfy and the user-ID-prefix routing that
// picks one.
package channel

import (
	"context"
	"fmt"
	"strings"
)

// TriggerSource is the external collaborator interface a chat channel
// adapter implements. SendMessage and SendFile report success/failure by
// return value rather than error so a channel outage degrades to "delivery
// failed" without forcing every caller to branch on error types it can't
// interpret.
type TriggerSource interface {
	SendMessage(userID, message string) bool
	SendFile(userID, path, caption string) bool
	GetName() string
}

// Registry resolves a user ID's channel prefix (e.g. "telegram:42",
// "api:ws-abc") to the TriggerSource registered for that prefix.
type Registry struct {
	sources map[string]TriggerSource
}

// NewRegistry builds an empty registry; call Register for each channel
// adapter before wiring a Sender into the scheduler.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]TriggerSource)}
}

// Register associates a prefix (without the trailing colon, e.g.
// "telegram") with the adapter that owns it.
func (r *Registry) Register(prefix string, source TriggerSource) {
	r.sources[prefix] = source
}

// Prefix splits a user ID of the form "prefix:rest" into its prefix and the
// channel-local identifier. A user ID with no colon has no prefix.
func Prefix(userID string) (prefix, rest string, ok bool) {
	idx := strings.IndexByte(userID, ':')
	if idx < 0 {
		return "", userID, false
	}
	return userID[:idx], userID[idx+1:], true
}

// Resolve looks up the TriggerSource registered for userID's prefix.
func (r *Registry) Resolve(userID string) (TriggerSource, error) {
	prefix, _, ok := Prefix(userID)
	if !ok {
		return nil, fmt.Errorf("user id %q has no channel prefix", userID)
	}
	source, ok := r.sources[prefix]
	if !ok {
		return nil, fmt.Errorf("no channel registered for prefix %q", prefix)
	}
	return source, nil
}

// Sender adapts a Registry to the scheduler's ChannelSender interface
// (Send(ctx, userID, message) error), translating the bool-returning
// TriggerSource calls into an error the scheduler's delivery-failure path
// can act on.
type Sender struct {
	registry *Registry
}

// NewSender wraps registry as a scheduler.ChannelSender.
func NewSender(registry *Registry) *Sender {
	return &Sender{registry: registry}
}

// Send resolves userID's channel and delivers message, returning an error
// if no channel is registered for the prefix or the channel reports failure.
func (s *Sender) Send(ctx context.Context, userID, message string) error {
	source, err := s.registry.Resolve(userID)
	if err != nil {
		return err
	}
	if !source.SendMessage(userID, message) {
		return fmt.Errorf("channel %q failed to deliver to %q", source.GetName(), userID)
	}
	return nil
}
