package dropmail

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Limits holds email validation limits.
type Limits struct {
	MaxSubjectLength  int
	MaxBodySize       int
	MaxRecipientCount int
}

// MaxAddressLength is the longest address accepted (RFC 5321 path limit).
const MaxAddressLength = 320

// DefaultLimits returns the default email limits.
func DefaultLimits() Limits {
	return Limits{
		MaxSubjectLength:  DefaultMaxSubjectLength,
		MaxBodySize:       DefaultMaxBodySize,
		MaxRecipientCount: DefaultMaxRecipientCount,
	}
}

// ValidateEmail checks e against limits before anything is persisted.
//
// An empty To list is rejected. A To list whose entries are all blank is
// accepted: the email is stored but no inbox can reach it.
func ValidateEmail(e Email, limits Limits) error {
	if err := ValidateRecipients(e.To, limits); err != nil {
		return err
	}
	if err := ValidateSubject(e.Subject, limits); err != nil {
		return err
	}
	return ValidateBody(e.Text, e.HTML, limits)
}

// ValidateRecipients validates the To list.
func ValidateRecipients(to []Address, limits Limits) error {
	if len(to) == 0 {
		return &ValidationError{Field: "to", Message: "at least one recipient is required", Err: ErrEmptyRecipients}
	}

	if len(to) > limits.MaxRecipientCount {
		return &ValidationError{
			Field:   "to",
			Message: fmt.Sprintf("recipient count %d exceeds max %d", len(to), limits.MaxRecipientCount),
			Err:     ErrTooManyRecipients,
		}
	}

	for _, a := range to {
		if len(a.Address) > MaxAddressLength {
			return &ValidationError{
				Field:   "to",
				Message: fmt.Sprintf("address length %d exceeds max %d", len(a.Address), MaxAddressLength),
				Err:     ErrInvalidContent,
			}
		}
		if hasControl(a.Address) || !utf8.ValidString(a.Address) {
			return &ValidationError{Field: "to", Message: "address contains invalid characters", Err: ErrInvalidContent}
		}
	}
	return nil
}

// ValidateSubject validates a subject. Empty subjects are allowed.
func ValidateSubject(subject string, limits Limits) error {
	if utf8.RuneCountInString(subject) > limits.MaxSubjectLength {
		return &ValidationError{
			Field:   "subject",
			Message: fmt.Sprintf("subject length %d exceeds max %d", utf8.RuneCountInString(subject), limits.MaxSubjectLength),
			Err:     ErrSubjectTooLong,
		}
	}

	// Check for valid UTF-8 and no control characters (except newline/tab)
	if !utf8.ValidString(subject) {
		return &ValidationError{Field: "subject", Message: "subject contains invalid UTF-8", Err: ErrInvalidContent}
	}

	for _, r := range subject {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return &ValidationError{
				Field:   "subject",
				Message: fmt.Sprintf("subject contains control character U+%04X", r),
				Err:     ErrInvalidContent,
			}
		}
	}

	return nil
}

// ValidateBody validates the text and HTML bodies. Their combined size is
// limited; either may be empty.
func ValidateBody(text, html string, limits Limits) error {
	if size := len(text) + len(html); size > limits.MaxBodySize {
		return &ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("body size %d exceeds max %d bytes", size, limits.MaxBodySize),
			Err:     ErrBodyTooLarge,
		}
	}

	for field, body := range map[string]string{"text": text, "html": html} {
		if !utf8.ValidString(body) {
			return &ValidationError{Field: field, Message: field + " contains invalid UTF-8", Err: ErrInvalidContent}
		}
		// Null bytes are rejected by several backends
		if strings.ContainsRune(body, '\x00') {
			return &ValidationError{Field: field, Message: field + " contains null bytes", Err: ErrInvalidContent}
		}
	}

	return nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
