package datablock

import (
	"bytes"
	"testing"

	"github.com/valyala/bytebufferpool"
)

func TestEncodeLayout(t *testing.T) {
	b, err := Encode(Event, []byte("abc"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c'}
	if !bytes.Equal(b, want) {
		t.Fatalf("layout: got %x want %x", b, want)
	}
	if EncodedSize(3) != len(want) {
		t.Fatalf("EncodedSize mismatch")
	}
}

func TestAppendMatchesEncode(t *testing.T) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := Append(bb, Metadata, []byte("m")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := Append(bb, Event, []byte("event")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	m, _ := Encode(Metadata, []byte("m"))
	e, _ := Encode(Event, []byte("event"))
	if !bytes.Equal(bb.B, append(m, e...)) {
		t.Fatalf("append output differs from concatenated Encode")
	}
}

func TestReaderSequence(t *testing.T) {
	var data []byte
	for _, p := range []string{"one", "", "three"} {
		b, _ := Encode(Event, []byte(p))
		data = append(data, b...)
	}
	blocks, truncated := Decode(data)
	if truncated {
		t.Fatalf("unexpected truncation")
	}
	if len(blocks) != 3 {
		t.Fatalf("blocks: got %d want 3", len(blocks))
	}
	if string(blocks[2].Data) != "three" || len(blocks[1].Data) != 0 {
		t.Fatalf("unexpected payloads: %q %q", blocks[1].Data, blocks[2].Data)
	}
}

func TestReaderTornHeaderAndPayload(t *testing.T) {
	good, _ := Encode(Event, []byte("kept"))
	torn, _ := Encode(Event, []byte("lost-in-crash"))

	cases := map[string][]byte{
		"partial header":  append(append([]byte{}, good...), torn[:3]...),
		"partial payload": append(append([]byte{}, good...), torn[:HeaderSize+4]...),
		"header only":     append(append([]byte{}, good...), torn[:HeaderSize]...),
	}
	for name, data := range cases {
		r := NewReader(data)
		b, ok := r.Next()
		if !ok || string(b.Data) != "kept" {
			t.Fatalf("%s: first block lost", name)
		}
		if _, ok := r.Next(); ok {
			t.Fatalf("%s: torn block decoded", name)
		}
		if !r.Truncated() {
			t.Fatalf("%s: truncation not reported", name)
		}
		if r.Offset() != len(good) {
			t.Fatalf("%s: offset %d want %d", name, r.Offset(), len(good))
		}
		// restartable
		r.Reset()
		if _, ok := r.Next(); !ok {
			t.Fatalf("%s: reset did not rewind", name)
		}
	}
}

func TestReaderEmpty(t *testing.T) {
	blocks, truncated := Decode(nil)
	if len(blocks) != 0 || truncated {
		t.Fatalf("empty input must decode to nothing")
	}
}

func TestBlockDataIsCapped(t *testing.T) {
	a, _ := Encode(Event, []byte("aa"))
	b, _ := Encode(Event, []byte("bb"))
	blocks, _ := Decode(append(a, b...))
	_ = append(blocks[0].Data, 'X')
	if string(blocks[1].Data) != "bb" {
		t.Fatalf("appending to a block overwrote its neighbour")
	}
}
