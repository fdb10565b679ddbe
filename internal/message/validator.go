package message

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MaxTextBytes   = 4096 // max encoded size
	MaxTextChars   = 2000 // max character count
	MaxSenderChars = 64   // display label bound
)

// ErrInvalid marks validation failures; wrap details with %w so callers can
// test with errors.Is.
var ErrInvalid = errors.New("message: invalid")

// Validate checks the sender label and message text against content bounds.
// It runs before any store mutation.
func Validate(sender, text string) error {
	if sender == "" {
		return fmt.Errorf("%w: sender is empty", ErrInvalid)
	}
	if utf8.RuneCountInString(sender) > MaxSenderChars {
		return fmt.Errorf("%w: sender exceeds %d character limit", ErrInvalid, MaxSenderChars)
	}
	if !utf8.ValidString(sender) {
		return fmt.Errorf("%w: sender contains invalid UTF-8", ErrInvalid)
	}
	if len(text) == 0 {
		return fmt.Errorf("%w: text is empty", ErrInvalid)
	}
	if len(text) > MaxTextBytes {
		return fmt.Errorf("%w: text exceeds %d byte limit", ErrInvalid, MaxTextBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: text exceeds %d character limit", ErrInvalid, MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text contains invalid UTF-8", ErrInvalid)
	}
	return nil
}
