package convo

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// CodecName is the gRPC content subtype of the convo.v1 API: application/grpc+convo.
// Payloads are protobuf wire messages, field numbers are listed in wire.go.
const CodecName = "convo"

func init() {
	encoding.RegisterCodec(codec{})
}

// wireMessage is implemented by every convo.v1 message.
type wireMessage interface {
	appendWire(b []byte) []byte
	consumeWire(b []byte) error
}

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case wireMessage:
		return m.appendWire(nil), nil
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("convo codec: cannot marshal %T", v)
}

func (codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case wireMessage:
		return m.consumeWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("convo codec: cannot unmarshal into %T", v)
}

func (codec) Name() string { return CodecName }

// CallOption selects the convo codec on a client connection.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
