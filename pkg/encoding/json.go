package encoding

import (
	json "github.com/goccy/go-json"
)

// jsonCodec backs the default "json" codec with goccy/go-json, the
// same JSON library the admin JSON-RPC surface uses.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
