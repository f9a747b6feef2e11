// Package encoding serializes events before they are framed to disk.
package encoding

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Record is the envelope persisted for every event. Date is the corrected
// write time in milliseconds since the epoch.
type Record struct {
	Date    int64  `json:"date" cbor:"date"`
	Type    string `json:"type" cbor:"type"`
	Payload any    `json:"payload" cbor:"payload"`
}

// Encoder turns a value into the bytes stored in one event block.
type Encoder interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ForName returns the encoder registered under name. Empty means json.
func ForName(name string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return CBOR(), nil
	}
	return nil, fmt.Errorf("unknown encoding %q", name)
}

// JSON is the default text encoding.
type JSON struct{}

func (JSON) Name() string                       { return "json" }
func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborEncoder struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var defaultCBOR *cborEncoder

func init() {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("encoding: CBOR encoder initialization failed: " + err.Error())
	}
	// map[string]any keeps decoded payloads interchangeable with JSON ones.
	dec, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic("encoding: CBOR decoder initialization failed: " + err.Error())
	}
	defaultCBOR = &cborEncoder{enc: enc, dec: dec}
}

// CBOR returns the deterministic CBOR encoder.
func CBOR() Encoder { return defaultCBOR }

func (c *cborEncoder) Name() string                       { return "cbor" }
func (c *cborEncoder) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c *cborEncoder) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// ToJSON re-encodes a stored event as JSON so uploads have a single wire
// format regardless of the on-disk encoding.
func ToJSON(e Encoder, data []byte) ([]byte, error) {
	if e == nil || e.Name() == "json" {
		return data, nil
	}
	var v any
	if err := e.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", e.Name(), err)
	}
	return json.Marshal(v)
}
