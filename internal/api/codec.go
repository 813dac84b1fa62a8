package api

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype the terminal service is spoken in.
const codecName = "json"

// jsonCodec carries the terminal service's messages as JSON, so the wire
// types are plain Go structs shared with the rest of the daemon.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCall selects the JSON codec for one call.
var jsonCall = grpc.CallContentSubtype(codecName)
