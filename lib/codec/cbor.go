// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the deterministic encoder. Struct fields and map keys
// are sorted bytewise, so declaration order and map insertion order
// never leak into an encoding (or into a hash computed over it).
var encMode cbor.EncMode

// decMode is the decoder. Unknown fields are tolerated for payload
// evolution; duplicate map keys are rejected outright, since no
// canonical encoder produces them and their presence means the input
// did not come from this engine.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
		// Event payloads are decoded into typed structs, but audit
		// tooling decodes envelopes into any-typed values for JSON
		// output. CBOR permits non-string map keys; this engine never
		// writes them, so any-typed targets decode to map[string]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Decoder = cbor.Decoder

// RawMessage is a raw, already-encoded CBOR value. Event envelopes
// carry their type-specific payload as a RawMessage so the envelope
// can be hashed, stored, and replayed without re-encoding the payload.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder writing to w with the canonical
// encoding configuration, for callers that stream a sequence of
// values rather than marshaling one.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
