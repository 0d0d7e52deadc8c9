package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/editor"
	"github.com/dunamismax/imageoptimizer/internal/export"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var (
		flags  transformFlags
		outDir string
	)

	cmd := &cobra.Command{
		Use:     "export [flags] -o DIR FILE...",
		Short:   "Write a zip archive of the optimized images",
		Example: `  imgopt export --height 600 --format jpeg --quality 80 --project shop -o ./out images/*.png`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, &flags, args, func(ctx context.Context, sess *editor.Session) error {
				var buf bytes.Buffer
				result, err := sess.Export(ctx, &buf)
				for _, f := range result.Failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %s (%s)\n", f.ItemID, f.Reason, f.Cause)
				}
				if err != nil {
					return err
				}

				stored, err := export.LocalDirSink{Dir: outDir}.Store(ctx, "", export.ArchiveName(time.Now()), buf.Bytes())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d images, %s)\n", stored.Path, len(result.Entries), humanize.IBytes(uint64(stored.Bytes)))
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "Directory to write the archive into")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
