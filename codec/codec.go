// Package codec encodes definition sets into the message body consumed
// downstream. JSON is the default wire format; CBOR uses the RFC 8949 core
// deterministic encoding.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/dcshock/defsync/definition"
	"github.com/dcshock/defsync/pipeline"
	"github.com/fxamacker/cbor/v2"
)

// Format names a wire encoding.
type Format string

const (
	JSON Format = "json"
	CBOR Format = "cbor"
)

// Content types set on published messages.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Envelope is the published document.
type Envelope struct {
	Version    string                `json:"version" cbor:"version"`
	Digest     string                `json:"digest" cbor:"digest"`
	Categories []definition.Category `json:"categories" cbor:"categories"`
}

// Encoder implements pipeline.Encoder for one Format.
type Encoder struct {
	format Format
	cbor   cbor.EncMode
}

var _ pipeline.Encoder = (*Encoder)(nil)

// New returns an Encoder for format. An empty format selects JSON.
func New(format Format) (*Encoder, error) {
	switch format {
	case "", JSON:
		return &Encoder{format: JSON}, nil
	case CBOR:
		mode, err := cbor.CoreDetEncOptions().EncMode()
		if err != nil {
			return nil, fmt.Errorf("codec: cbor enc mode: %w", err)
		}
		return &Encoder{format: CBOR, cbor: mode}, nil
	default:
		return nil, fmt.Errorf("codec: unknown format %q", format)
	}
}

// Format returns the encoder's wire format.
func (e *Encoder) Format() Format { return e.format }

// Encode builds the envelope for set. Equal sets always produce equal
// bodies and message ids.
func (e *Encoder) Encode(set *definition.Set) (pipeline.Message, error) {
	if set == nil {
		return pipeline.Message{}, fmt.Errorf("codec: nil definition set")
	}
	env := Envelope{Version: set.Version, Digest: set.Digest, Categories: set.Categories}
	if env.Categories == nil {
		env.Categories = []definition.Category{}
	}

	var (
		body        []byte
		contentType string
		err         error
	)
	switch e.format {
	case CBOR:
		body, err = e.cbor.Marshal(env)
		contentType = ContentTypeCBOR
	default:
		body, err = json.Marshal(env)
		contentType = ContentTypeJSON
	}
	if err != nil {
		return pipeline.Message{}, fmt.Errorf("codec: encode %s: %w", e.format, err)
	}
	return pipeline.Message{
		ID:          MessageID(set),
		ContentType: contentType,
		Body:        body,
		Version:     pipeline.VersionID(set.Version),
		Digest:      set.Digest,
	}, nil
}

// MessageID is the idempotency key of a set: its version and content digest.
func MessageID(set *definition.Set) string {
	return set.Version + ":" + set.Digest
}

// Decode parses a body produced by Encode.
func Decode(contentType string, body []byte) (*Envelope, error) {
	var env Envelope
	var err error
	switch contentType {
	case ContentTypeCBOR:
		err = cbor.Unmarshal(body, &env)
	case ContentTypeJSON, "":
		err = json.Unmarshal(body, &env)
	default:
		return nil, fmt.Errorf("codec: unsupported content type %q", contentType)
	}
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return &env, nil
}
