package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxMessageBytes  = 100000
	maxTitleRunes    = 256
	maxUsernameRunes = 64
	// bcrypt ignores input past 72 bytes and x/crypto rejects it.
	maxPasswordBytes = 72
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxMessageBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}

// ValidateCredentials checks username and password shape before they reach the store.
func ValidateCredentials(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	if utf8.RuneCountInString(username) > maxUsernameRunes {
		return errors.New("username exceeds maximum length")
	}
	if len(password) > maxPasswordBytes {
		return errors.New("password exceeds maximum length")
	}
	return nil
}
