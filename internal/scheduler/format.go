package scheduler

import (
	"regexp"
	"strings"

	"github.com/memoryd/gateway/internal/storage"
)

const digestMessageMaxChars = 200

// formatItem renders the delivered text for a claimed item, classifying
// proactive-evaluator-originated nudges into a distinct voice from plain
// task results: an unresolved-thread gap reads as an inner thought, any
// other evaluator-sourced gap reads as a gentle scan note, and an item
// carrying a task result is always rendered as the result regardless of
// its originating context.
func formatItem(item *storage.ScheduledItem) string {
	if item.Result != nil && item.Result.Response != "" {
		return sanitizeForDelivery(item.Result.Response)
	}

	source, _ := item.Context["source"].(string)
	gapType, _ := item.Context["gapType"].(string)

	if source == "proactive_evaluator" {
		if gapType == "unresolved_thread" {
			return innerThoughtVoice(item.Message)
		}
		return gapScannerVoice(item.Message)
	}

	return item.Message
}

func innerThoughtVoice(message string) string {
	return "(thinking back on this) " + message
}

func gapScannerVoice(message string) string {
	return message
}

var (
	xmlLikeTag   = regexp.MustCompile(`(?s)<[a-zA-Z_][\w:-]*[^>]*>.*?</[a-zA-Z_][\w:-]*>`)
	errorPrefix  = regexp.MustCompile(`(?m)^Error:.*$`)
	thinkBlock   = regexp.MustCompile(`(?is)<think>.*?</think>`)
)

// sanitizeForDelivery strips tool-call markup, thinking blocks, and
// Error: lines that an LLM-produced task result might carry, then
// truncates to a channel-friendly length.
func sanitizeForDelivery(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = xmlLikeTag.ReplaceAllString(s, "")
	s = errorPrefix.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return truncate(s, digestMessageMaxChars)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}
