package planner

import (
	"encoding/json"
	"sync"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype used on the planner connection.
const CodecName = "json"

var registerCodecOnce sync.Once

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// EnsureJSONCodec registers the JSON codec with gRPC. Both the client and any
// in-process planner server call it before use.
func EnsureJSONCodec() {
	registerCodecOnce.Do(func() {
		encoding.RegisterCodec(jsonCodec{})
	})
}
