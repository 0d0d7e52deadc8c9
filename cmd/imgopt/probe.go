package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dunamismax/imageoptimizer/internal/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "probe FILE...",
		Short:   "Print the natural dimensions of images",
		Example: `  imgopt probe hero.png banner.webp`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tDIMENSIONS\tSIZE")

			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				dims, err := pipeline.Probe(data)
				if err != nil {
					failed++
					fmt.Fprintf(tw, "%s\t%s\t%s\n", path, "error: "+err.Error(), humanize.IBytes(uint64(len(data))))
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", path, dims, humanize.IBytes(uint64(len(data))))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be probed", failed, len(args))
			}
			return nil
		},
	}
}
