package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// Security limits and configuration
const (
	// MaxRegistryIDLength is the maximum length for registry ids
	MaxRegistryIDLength = 512

	// MaxInputSize is the maximum size in bytes for a serialized input body (1MB)
	MaxInputSize = 1 << 20

	// MaxRetries is the hard limit for retry attempts
	MaxRetries = 100

	// MaxPoolSize is the hard limit for worker pool slots
	MaxPoolSize = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxStackLength is the maximum length for stored stack traces
	MaxStackLength = 16384

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 255
)

// validRegistryID matches Go symbol paths such as
// "github.com/acme/app/billing.Charge" or "app.(*Svc).Run".
var validRegistryID = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\./()*]*$`)

// ValidateRegistryID validates a registry id
func ValidateRegistryID(id string) error {
	if id == "" {
		return core.ErrInvalidRegistryID
	}
	if len(id) > MaxRegistryIDLength {
		return core.ErrRegistryIDTooLong
	}
	if !validRegistryID.MatchString(id) {
		return core.ErrInvalidRegistryID
	}
	return nil
}

// ValidateQueueName validates a queue name. Queues default to registry ids so
// both share the same alphabet.
func ValidateQueueName(name string) error {
	if name == "" {
		return core.ErrInvalidQueueName
	}
	if len(name) > MaxQueueNameLength {
		return core.ErrQueueNameTooLong
	}
	if !validRegistryID.MatchString(name) {
		return core.ErrInvalidQueueName
	}
	return nil
}

// ValidateInputSize rejects serialized input bodies above MaxInputSize
func ValidateInputSize(body []byte) error {
	if len(body) > MaxInputSize {
		return core.ErrInputTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	return sanitize(msg, MaxErrorMessageLength)
}

// SanitizeStack truncates and sanitizes stack traces for storage
func SanitizeStack(stack string) string {
	return sanitize(stack, MaxStackLength)
}

func sanitize(msg string, limit int) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > limit {
		runes := []rune(result)
		result = string(runes[:limit-3]) + "..."
	}

	return result
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampPoolSize ensures a pool size is within limits
func ClampPoolSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxPoolSize {
		return MaxPoolSize
	}
	return n
}
