package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

const (
	MinThreads = 1
	MaxThreads = 20

	maxDocumentIDLength = 128
)

func ValidateThreadCount(threads int) error {
	if threads < MinThreads || threads > MaxThreads {
		return fmt.Errorf("thread count must be between %d and %d, got %d", MinThreads, MaxThreads, threads)
	}
	return nil
}

func ValidateNonEmptyString(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

// ValidateDocumentID accepts the opaque identifiers the server hands out:
// non-empty, bounded, printable and without path separators.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("document ID cannot be empty")
	}
	if len(id) > maxDocumentIDLength {
		return fmt.Errorf("document ID is longer than %d characters", maxDocumentIDLength)
	}
	for _, r := range id {
		if r == '/' || r == '\\' || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return fmt.Errorf("invalid document ID: %q", id)
		}
	}
	return nil
}

func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address: %s", email)
	}
	return nil
}

func ValidateRateLimit(bytesPerSecond int64) error {
	if bytesPerSecond < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %d", bytesPerSecond)
	}
	return nil
}
