package types

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// KeyValidationConfig tunes what the KeyValidator accepts.
type KeyValidationConfig struct {
	ReservedPatterns  []string
	MaxKeyLength      int
	AllowEmpty        bool
	AllowControlChars bool
	AllowWhitespace   bool
}

// DefaultKeyValidationConfig caps keys at 1 KiB and rejects empty keys and
// control characters. Whitespace is allowed since callers routinely embed
// human-readable fragments in keys.
func DefaultKeyValidationConfig() KeyValidationConfig {
	return KeyValidationConfig{
		MaxKeyLength:    1024,
		AllowWhitespace: true,
	}
}

// KeyValidator rejects malformed keys before any tier is touched. Every
// failure wraps ErrInvalidKey.
type KeyValidator struct {
	config KeyValidationConfig
}

func NewKeyValidator(config KeyValidationConfig) *KeyValidator {
	return &KeyValidator{config: config}
}

// Validate reports whether key is acceptable under the configured rules.
// A MaxKeyLength of zero disables the length cap.
func (v *KeyValidator) Validate(key string) error {
	if key == "" {
		if v.config.AllowEmpty {
			return nil
		}
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if limit := v.config.MaxKeyLength; limit > 0 && len(key) > limit {
		return fmt.Errorf("%w: %d bytes exceeds maximum of %d", ErrInvalidKey, len(key), limit)
	}

	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidKey)
	}

	if err := v.scanRunes(key); err != nil {
		return err
	}

	for _, pattern := range v.config.ReservedPatterns {
		if strings.Contains(key, pattern) {
			return fmt.Errorf("%w: contains reserved pattern %q", ErrInvalidKey, pattern)
		}
	}
	return nil
}

// scanRunes enforces the control-character and whitespace rules. The key is
// already known to be valid UTF-8.
func (v *KeyValidator) scanRunes(key string) error {
	for i, r := range key {
		isControl := r < 0x20 || r == 0x7f
		if isControl && !v.config.AllowControlChars {
			return fmt.Errorf("%w: control character %q at byte %d", ErrInvalidKey, r, i)
		}
		if !isControl && !v.config.AllowWhitespace && unicode.IsSpace(r) {
			return fmt.Errorf("%w: whitespace at byte %d", ErrInvalidKey, i)
		}
	}
	return nil
}

// DefaultKeyValidator applies DefaultKeyValidationConfig.
var DefaultKeyValidator = NewKeyValidator(DefaultKeyValidationConfig())

// ValidateKey checks key against the default validator.
func ValidateKey(key string) error {
	return DefaultKeyValidator.Validate(key)
}
