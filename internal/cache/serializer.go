package cache

import (
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/strata/internal/types"
)

// JSONSerializer implements Serializer using JSON encoding. It backs the
// structured serialization mode.
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Marshal serializes a value to JSON bytes.
func (s *JSONSerializer) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSerialization, err)
	}
	return data, nil
}

// Unmarshal deserializes JSON bytes into the destination.
func (s *JSONSerializer) Unmarshal(data []byte, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerialization, err)
	}
	return nil
}

// RawSerializer implements Serializer for the opaque binary mode: values
// must already be byte slices and pass through untouched.
type RawSerializer struct{}

// NewRawSerializer creates a new raw byte serializer.
func NewRawSerializer() *RawSerializer {
	return &RawSerializer{}
}

// Marshal accepts []byte values only.
func (s *RawSerializer) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		if b == nil {
			return nil, fmt.Errorf("%w: nil byte slice pointer", types.ErrSerialization)
		}
		return *b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("%w: raw serialization requires []byte or string, got %T", types.ErrSerialization, v)
	}
}

// Unmarshal copies the stored bytes into a *[]byte or *string destination.
func (s *RawSerializer) Unmarshal(data []byte, dest any) error {
	switch d := dest.(type) {
	case *[]byte:
		buf := make([]byte, len(data))
		copy(buf, data)
		*d = buf
		return nil
	case *string:
		*d = string(data)
		return nil
	default:
		return fmt.Errorf("%w: raw deserialization requires *[]byte or *string, got %T", types.ErrSerialization, dest)
	}
}

var (
	_ types.Serializer = (*JSONSerializer)(nil)
	_ types.Serializer = (*RawSerializer)(nil)
)
