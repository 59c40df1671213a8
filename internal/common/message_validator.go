package common

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxContentLength is the content limit in runes when none is configured
const DefaultMaxContentLength = 2000

// ValidateMessage checks an outgoing direct message and returns the trimmed content.
//
// Rejected before any store call:
//   - empty sender or receiver
//   - ids containing ':' (reserved by conversation keys)
//   - self-addressed messages (senderID == receiverID)
//   - content that is empty after trimming, or longer than maxLen runes
func ValidateMessage(senderID, receiverID, content string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLength
	}
	if strings.TrimSpace(senderID) == "" {
		return "", NewValidationError("sender_id", "required")
	}
	if strings.TrimSpace(receiverID) == "" {
		return "", NewValidationError("receiver_id", "required")
	}
	if strings.ContainsRune(senderID, ':') {
		return "", NewValidationError("sender_id", "must not contain ':'")
	}
	if strings.ContainsRune(receiverID, ':') {
		return "", NewValidationError("receiver_id", "must not contain ':'")
	}
	if senderID == receiverID {
		return "", NewValidationError("receiver_id", "cannot send a message to yourself")
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", NewValidationError("content", "must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxLen {
		return "", NewValidationError("content", "too long")
	}
	return trimmed, nil
}
