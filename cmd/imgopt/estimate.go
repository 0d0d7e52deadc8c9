package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dunamismax/imageoptimizer/internal/editor"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newEstimateCmd() *cobra.Command {
	var flags transformFlags

	cmd := &cobra.Command{
		Use:   "estimate [flags] FILE...",
		Short: "Print the exact encoded size of images for the given settings",
		Example: `  # Size of every image resized to 800px wide, keeping aspect ratio
  imgopt estimate --width 800 --format webp photos/*.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, &flags, args, func(ctx context.Context, sess *editor.Session) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FILE\tOUTPUT\tSOURCE\tESTIMATED\tSAVED")

				for _, item := range sess.Items() {
					rendered, err := sess.Render(ctx, item.ID)
					if err != nil {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", item.Filename, item.OutputName, humanize.IBytes(uint64(item.SourceBytes)), "error: "+err.Error())
						continue
					}
					size := rendered.Image.Size()
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						item.Filename,
						rendered.Filename,
						humanize.IBytes(uint64(item.SourceBytes)),
						humanize.IBytes(uint64(size)),
						savings(item.SourceBytes, size),
					)
				}
				return tw.Flush()
			})
		},
	}
	flags.register(cmd)

	return cmd
}

func savings(source, encoded int) string {
	if source <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*(1-float64(encoded)/float64(source)))
}
