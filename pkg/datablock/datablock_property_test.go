package datablock

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Any prefix of a valid stream decodes to a prefix of its blocks, and never
// loses a block that was fully present.
func TestTruncatedStreamKeepsCompleteBlocks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("prefix decoding keeps complete blocks", prop.ForAll(
		func(payloads []string, cut int) bool {
			var data []byte
			var ends []int
			for _, p := range payloads {
				b, err := Encode(Event, []byte(p))
				if err != nil {
					return false
				}
				data = append(data, b...)
				ends = append(ends, len(data))
			}
			if len(data) == 0 {
				blocks, truncated := Decode(data)
				return len(blocks) == 0 && !truncated
			}
			cut = cut % (len(data) + 1)
			blocks, truncated := Decode(data[:cut])

			complete := 0
			for _, e := range ends {
				if e <= cut {
					complete++
				}
			}
			if len(blocks) != complete {
				return false
			}
			for i, b := range blocks {
				if !bytes.Equal(b.Data, []byte(payloads[i])) {
					return false
				}
			}
			onBoundary := cut == 0
			for _, e := range ends {
				if e == cut {
					onBoundary = true
				}
			}
			return truncated == !onBoundary
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}

func TestRoundTripFidelity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("encode then decode is identity", prop.ForAll(
		func(payload []byte, meta bool) bool {
			typ := Event
			if meta {
				typ = Metadata
			}
			b, err := Encode(typ, payload)
			if err != nil {
				return false
			}
			blocks, truncated := Decode(b)
			return !truncated && len(blocks) == 1 && blocks[0].Type == typ && bytes.Equal(blocks[0].Data, payload)
		},
		gen.SliceOf(gen.UInt8()),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
