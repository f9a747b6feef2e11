package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"telemetrycore/pkg/state"
	"telemetrycore/pkg/storage"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <root>",
		Short: "List features and their batch files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLs(cmd.OutOrStdout(), args[0], time.Now())
		},
	}
}

func runLs(out io.Writer, root string, now time.Time) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	features, err := state.ListFeatures(root)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tAREA\tFILE\tSIZE\tAGE")
	for _, name := range features {
		paths := state.FeaturePathsFor(root, name)
		for _, area := range []struct{ label, dir string }{
			{"live", paths.Live},
			{"pending", paths.Provisional},
		} {
			if _, err := os.Stat(area.dir); err != nil {
				continue
			}
			dir, err := storage.OpenDirectory(area.dir)
			if err != nil {
				return err
			}
			files, err := dir.Files()
			if err != nil {
				return err
			}
			var total int64
			for _, f := range files {
				size, err := f.Size()
				if err != nil {
					continue
				}
				total += size
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, area.label, f.Name(),
					humanize.IBytes(uint64(size)), humanize.RelTime(f.CreatedAt(), now, "ago", "from now"))
			}
			if len(files) > 0 {
				fmt.Fprintf(tw, "%s\t%s\t(%d files)\t%s\t\n", name, area.label, len(files), humanize.IBytes(uint64(total)))
			}
		}
	}
	return tw.Flush()
}
