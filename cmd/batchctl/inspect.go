package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"telemetrycore/pkg/datablock"
	"telemetrycore/pkg/encoding"
	"telemetrycore/pkg/encryption"
)

type inspectOptions struct {
	decryptKey  string
	ageIdentity string
	encoding    string
	raw         bool
}

func newInspectCmd() *cobra.Command {
	var opts inspectOptions
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode a batch file block by block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.decryptKey, "decrypt-key", "", "hex AES-256 key the blocks were sealed with")
	cmd.Flags().StringVar(&opts.ageIdentity, "age-identity", "", "age identity (AGE-SECRET-KEY-...) the blocks were sealed with")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "json", "event encoding: json or cbor")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print payload bytes without decoding")
	return cmd
}

func runInspect(out io.Writer, path string, opts inspectOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	enc, err := encoding.ForName(opts.encoding)
	if err != nil {
		return err
	}
	var crypt encryption.DataEncryption
	switch {
	case opts.decryptKey != "":
		if crypt, err = encryption.NewAESGCMHex(opts.decryptKey); err != nil {
			return err
		}
	case opts.ageIdentity != "":
		if crypt, err = encryption.NewAge("", opts.ageIdentity); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%s (%s)\n", path, humanize.IBytes(uint64(len(data))))
	rd := datablock.NewReader(data)
	counts := map[datablock.BlockType]int{}
	for {
		start := rd.Offset()
		blk, ok := rd.Next()
		if !ok {
			break
		}
		counts[blk.Type]++
		fmt.Fprintf(out, "@%-8d %-8s %6d bytes  %s\n", start, blk.Type, len(blk.Data), render(blk, crypt, enc, opts.raw))
	}
	fmt.Fprintf(out, "events=%d metadata=%d\n", counts[datablock.Event], counts[datablock.Metadata])
	if rd.Truncated() {
		fmt.Fprintf(out, "truncated: torn block at offset %d, %d trailing bytes ignored\n", rd.Offset(), len(data)-rd.Offset())
	}
	return nil
}

func render(blk datablock.Block, crypt encryption.DataEncryption, enc encoding.Encoder, raw bool) string {
	payload := blk.Data
	if crypt != nil {
		pt, err := crypt.Decrypt(payload)
		if err != nil {
			return "<decrypt failed: " + err.Error() + ">"
		}
		payload = pt
	}
	if raw {
		return fmt.Sprintf("%q", payload)
	}
	switch blk.Type {
	case datablock.Event, datablock.Metadata:
		if enc.Name() == "json" && !json.Valid(payload) {
			return fmt.Sprintf("<not json, %d bytes; sealed?>", len(payload))
		}
		js, err := encoding.ToJSON(enc, payload)
		if err != nil {
			return "<" + err.Error() + ">"
		}
		return string(js)
	}
	return "<unknown block type>"
}
