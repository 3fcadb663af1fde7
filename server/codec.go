package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborCodec carries service messages as CBOR. Connect negotiates it by
// name, so requests use the content type application/cbor (Connect) or
// application/grpc+cbor (gRPC).
type cborCodec struct {
	enc cbor.EncMode
}

// Codec is the message codec shared by the handlers and clients.
var Codec = newCBORCodec()

func newCBORCodec() *cborCodec {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return &cborCodec{enc: enc}
}

func (c *cborCodec) Name() string { return "cbor" }

func (c *cborCodec) Marshal(msg any) ([]byte, error) {
	b, err := c.enc.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("cbor: marshal %T: %w", msg, err)
	}
	return b, nil
}

func (c *cborCodec) Unmarshal(data []byte, msg any) error {
	if err := cbor.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("cbor: unmarshal %T: %w", msg, err)
	}
	return nil
}
