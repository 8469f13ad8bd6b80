// Package cluster ships work queues from peer nodes to the node that owns an
// index's writer.
package cluster

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

const envelopeVersion = 1

const codecZstd = "zstd"

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Envelope carries one serialized work queue to the master of indexName.
// The payload is opaque to the transport.
type Envelope struct {
	indexName string
	payload   []byte
}

// NewEnvelope wraps payload for indexName. The payload is copied.
func NewEnvelope(indexName string, payload []byte) (Envelope, error) {
	if indexName == "" {
		return Envelope{}, ierrors.New(ierrors.ErrCodeInvalidEnvelope, "envelope requires an index name", nil)
	}
	return Envelope{indexName: indexName, payload: append([]byte(nil), payload...)}, nil
}

// IndexName returns the target index.
func (e Envelope) IndexName() string { return e.indexName }

// Payload returns a copy of the serialized queue.
func (e Envelope) Payload() []byte { return append([]byte(nil), e.payload...) }

type wireEnvelope struct {
	Version int    `json:"v"`
	Index   string `json:"index"`
	Codec   string `json:"codec"`
	Payload []byte `json:"payload"`
}

// Marshal encodes the envelope for the wire, compressing the payload.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(wireEnvelope{
		Version: envelopeVersion,
		Index:   e.indexName,
		Codec:   codecZstd,
		Payload: encoder.EncodeAll(e.payload, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes Marshal output.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var we wireEnvelope
	if err := json.Unmarshal(data, &we); err != nil {
		return Envelope{}, ierrors.New(ierrors.ErrCodeInvalidEnvelope, "malformed envelope", err)
	}
	if we.Version != envelopeVersion {
		return Envelope{}, ierrors.New(ierrors.ErrCodeInvalidEnvelope,
			fmt.Sprintf("unsupported envelope version %d", we.Version), nil)
	}
	if we.Codec != codecZstd {
		return Envelope{}, ierrors.New(ierrors.ErrCodeInvalidEnvelope, "unsupported envelope codec "+we.Codec, nil)
	}
	payload, err := decoder.DecodeAll(we.Payload, nil)
	if err != nil {
		return Envelope{}, ierrors.New(ierrors.ErrCodeInvalidEnvelope, "corrupt envelope payload", err)
	}
	return NewEnvelope(we.Index, payload)
}
