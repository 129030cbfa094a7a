// Package jsonx routes JSON encoding through one implementation so decoders
// and HTTP handlers agree on number and null handling.
package jsonx

import "github.com/goccy/go-json"

var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewEncoder = json.NewEncoder
)

type RawMessage = json.RawMessage
