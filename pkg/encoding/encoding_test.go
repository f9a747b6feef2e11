package encoding

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForName(t *testing.T) {
	for name, want := range map[string]string{"": "json", "JSON": "json", "cbor": "cbor"} {
		e, err := ForName(name)
		require.NoError(t, err)
		require.Equal(t, want, e.Name())
	}
	_, err := ForName("xml")
	require.Error(t, err)
}

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{Date: 1700000000123, Type: "log", Payload: map[string]any{"message": "hello", "status": "info"}}
	for _, e := range []Encoder{JSON{}, CBOR()} {
		data, err := e.Marshal(rec)
		require.NoError(t, err, e.Name())

		var got Record
		require.NoError(t, e.Unmarshal(data, &got), e.Name())
		require.Equal(t, rec.Date, got.Date)
		require.Equal(t, rec.Type, got.Type)
		require.Equal(t, "hello", got.Payload.(map[string]any)["message"])
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2, "c": []any{"x"}}
	first, err := CBOR().Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := CBOR().Marshal(v)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestToJSON(t *testing.T) {
	data, err := CBOR().Marshal(Record{Date: 5, Type: "span", Payload: "p"})
	require.NoError(t, err)
	out, err := ToJSON(CBOR(), data)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Equal(t, "span", m["type"])
	require.EqualValues(t, 5, m["date"])

	raw := []byte(`{"x":1}`)
	same, err := ToJSON(JSON{}, raw)
	require.NoError(t, err)
	require.Equal(t, raw, same)

	_, err = ToJSON(CBOR(), []byte{0xff, 0x00})
	require.Error(t, err)
}

func TestJSONMarshalFailure(t *testing.T) {
	_, err := JSON{}.Marshal(Record{Payload: make(chan int)})
	require.Error(t, err)
}
