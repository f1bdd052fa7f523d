package surface

import (
	"errors"
	"fmt"

	"github.com/danmuck/wamctl/internal/codec"
)

const blobVersion uint8 = 1

var (
	ErrEmptyBlob          = errors.New("surface: empty blob")
	ErrUnsupportedVersion = errors.New("surface: unsupported blob version")
)

type record struct {
	_          struct{} `cbor:",toarray"`
	Kind       uint8
	Edge       int8
	Width      uint32
	Source     string
	EntryPoint string
}

type envelope struct {
	Version  uint8    `cbor:"v"`
	Surfaces []record `cbor:"s"`
}

// Encode serializes descriptors in order. A nil or empty list encodes to a
// valid blob holding zero records.
func Encode(list []Descriptor) ([]byte, error) {
	env := envelope{Version: blobVersion, Surfaces: make([]record, 0, len(list))}
	for i, d := range list {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("surface[%d]: %w", i, err)
		}
		env.Surfaces = append(env.Surfaces, record{
			Kind:       uint8(d.Kind),
			Edge:       int8(d.Edge),
			Width:      d.Width,
			Source:     d.Source,
			EntryPoint: d.EntryPoint,
		})
	}
	return codec.Marshal(env)
}

// Decode parses a blob produced by Encode. The result is never nil.
func Decode(blob []byte) ([]Descriptor, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}
	var env envelope
	if err := codec.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if env.Version != blobVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	out := make([]Descriptor, 0, len(env.Surfaces))
	for i, r := range env.Surfaces {
		d := Descriptor{
			Kind:       Kind(r.Kind),
			Edge:       Edge(r.Edge),
			Width:      r.Width,
			Source:     r.Source,
			EntryPoint: r.EntryPoint,
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("surface[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}
