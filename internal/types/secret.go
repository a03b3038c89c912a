package types

import "encoding/json"

// SecretString holds a sensitive value (shared-store passwords) and
// redacts it when printed or marshaled so it cannot leak through logs,
// error messages, or config dumps.
type SecretString struct {
	raw string
}

func NewSecretString(value string) SecretString {
	return SecretString{raw: value}
}

// Value returns the underlying secret for use at connection time.
func (s SecretString) Value() string {
	return s.raw
}

func (s SecretString) String() string {
	if s.raw == "" {
		return ""
	}
	return "[REDACTED]"
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	if s.raw == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

func (s *SecretString) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	s.raw = value
	return nil
}

func (s SecretString) IsEmpty() bool {
	return s.raw == ""
}
