package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets this service's hand-declared ServiceDesc (below) carry
// plain Go structs over the wire instead of protobuf messages: there is no
// protoc run in this module, so the request/response types are ordinary
// JSON-tagged structs and the codec just marshals them. Registered under
// "json", so the server uses it for any call whose client sends the
// "application/grpc+json" content type; this package contains no client.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
