package codec

import "encoding/json"

// Codec is a non-generic marshal/unmarshal pair, useful where the wire
// value's type isn't known until runtime, e.g. pretty-printing a
// dispatch payload for a CLI tool.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec pretty-prints; it exists for human-facing output, not the
// wire path.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.MarshalIndent(v, "", "  ") }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// JSON is the generic partition.Serializer[T] counterpart used on the
// wire path, where the response type is known at compile time.
type JSON[T any] struct{}

func (JSON[T]) Marshal(v T) ([]byte, error)       { return json.Marshal(v) }
func (JSON[T]) Unmarshal(data []byte, v *T) error { return json.Unmarshal(data, v) }
