// Package datablock frames typed, length-prefixed records. A block is a
// 1-byte type tag, a 4-byte little-endian payload length and the payload.
// A batch file is a plain concatenation of blocks, possibly ending in a
// torn block left by a crash mid-append.
package datablock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/valyala/bytebufferpool"
)

// BlockType tags the payload of a block.
type BlockType uint8

const (
	// Event blocks carry one serialized event.
	Event BlockType = 0x01
	// Metadata blocks carry producer metadata for the event block that
	// immediately follows them.
	Metadata BlockType = 0x02
)

func (t BlockType) String() string {
	switch t {
	case Event:
		return "event"
	case Metadata:
		return "metadata"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// HeaderSize is the fixed per-block overhead.
const HeaderSize = 5

// MaxPayloadSize is the largest payload the 4-byte length can describe.
const MaxPayloadSize = math.MaxUint32

// ErrPayloadTooLarge is returned when a payload cannot be framed.
var ErrPayloadTooLarge = errors.New("datablock: payload exceeds 4GiB")

// Block is one decoded record.
type Block struct {
	Type BlockType
	Data []byte
}

// EncodedSize returns the framed size of a payload of n bytes.
func EncodedSize(n int) int { return HeaderSize + n }

// Encode frames payload as a block of type t.
func Encode(t BlockType, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, HeaderSize+len(payload))
	putHeader(out, t, len(payload))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Append frames payload onto a pooled buffer so several blocks can be
// written to disk with a single append.
func Append(bb *bytebufferpool.ByteBuffer, t BlockType, payload []byte) error {
	if bb == nil {
		return errors.New("datablock: nil buffer")
	}
	if uint64(len(payload)) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	var hdr [HeaderSize]byte
	putHeader(hdr[:], t, len(payload))
	if _, err := bb.Write(hdr[:]); err != nil {
		return err
	}
	_, err := bb.Write(payload)
	return err
}

func putHeader(dst []byte, t BlockType, n int) {
	dst[0] = byte(t)
	binary.LittleEndian.PutUint32(dst[1:HeaderSize], uint32(n))
}
