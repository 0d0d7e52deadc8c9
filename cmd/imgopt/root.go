package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/editor"
	"github.com/dunamismax/imageoptimizer/internal/pipeline"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgopt",
		Short: "Resize, re-encode and export images in batches",
		Long: `imgopt runs the image optimizer pipeline from the command line.

It probes image dimensions, reports the exact encoded size for a set of
transform settings and writes zip archives of the optimized images.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newProbeCmd())
	cmd.AddCommand(newEstimateCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

// transformFlags are the settings shared by estimate and export. Only flags
// set on the command line are applied; width and height are linked by
// aspect ratio when just one of them is given.
type transformFlags struct {
	width    int
	height   int
	quality  int
	format   string
	project  string
	section  string
	element  string
	maxFiles int
	verbose  bool
}

func (f *transformFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.width, "width", 0, "Target width in pixels")
	cmd.Flags().IntVar(&f.height, "height", 0, "Target height in pixels")
	cmd.Flags().IntVar(&f.quality, "quality", domain.DefaultQuality, "Encoder quality (10-100, ignored for png)")
	cmd.Flags().StringVar(&f.format, "format", string(domain.DefaultFormat), "Output format: jpeg, png or webp")
	cmd.Flags().StringVar(&f.project, "project", "", "Project name used in output filenames")
	cmd.Flags().StringVar(&f.section, "section", "", "Section name used in output filenames")
	cmd.Flags().StringVar(&f.element, "element", "", "Element name used in output filenames")
	cmd.Flags().IntVar(&f.maxFiles, "max-files", editor.DefaultMaxItems, "Maximum number of images per run")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log pipeline events to stderr")
}

func (f *transformFlags) patch(cmd *cobra.Command) (editor.SettingsPatch, error) {
	var p editor.SettingsPatch
	changed := cmd.Flags().Changed

	if changed("width") {
		p.Width = &f.width
	}
	if changed("height") {
		p.Height = &f.height
	}
	if changed("quality") {
		p.Quality = &f.quality
	}
	if changed("format") {
		format, err := domain.ParseFormat(f.format)
		if err != nil {
			return p, err
		}
		p.Format = &format
	}
	if changed("project") {
		p.ProjectName = &f.project
	}
	if changed("section") {
		p.SectionName = &f.section
	}
	if changed("element") {
		p.ElementName = &f.element
	}
	return p, nil
}

// openSession loads files into a fresh session and applies the flag settings
// to every accepted item.
func (f *transformFlags) openSession(cmd *cobra.Command, paths []string) (*editor.Session, error) {
	logger := log.New(os.Stderr, "[imgopt] ", log.LstdFlags|log.Lmsgprefix)
	if !f.verbose {
		logger.SetOutput(io.Discard)
	}

	engine, err := pipeline.NewEngine()
	if err != nil {
		return nil, err
	}

	files, err := readFiles(paths)
	if err != nil {
		return nil, err
	}

	sess := editor.NewSession("", engine,
		editor.WithMaxItems(f.maxFiles),
		editor.WithLogger(logger),
	)
	result, err := sess.Ingest(cmd.Context(), files)
	if err != nil {
		sess.Close()
		return nil, err
	}

	patch, err := f.patch(cmd)
	if err != nil {
		sess.Close()
		return nil, err
	}
	if hasChanges(patch) && sess.Len() > 0 {
		sess.SetApplyToAll(true)
		if _, err := sess.UpdateSettings("", patch); err != nil {
			sess.Close()
			return nil, err
		}
	}

	reportIngest(cmd, result)
	return sess, nil
}

func hasChanges(p editor.SettingsPatch) bool {
	return p.Width != nil || p.Height != nil || p.Quality != nil || p.Format != nil ||
		p.ProjectName != nil || p.SectionName != nil || p.ElementName != nil
}

func reportIngest(cmd *cobra.Command, result editor.IngestResult) {
	out := cmd.ErrOrStderr()
	for _, name := range result.Skipped {
		fmt.Fprintf(out, "skipped %s: not an image\n", name)
	}
	for _, r := range result.Rejected {
		fmt.Fprintf(out, "rejected %s: %s\n", r.Filename, r.Reason)
	}
	if result.Warning != nil {
		fmt.Fprintf(out, "warning: %v\n", result.Warning)
	}
}

func readFiles(paths []string) ([]domain.IngestFile, error) {
	files := make([]domain.IngestFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, domain.IngestFile{
			Filename: filepath.Base(p),
			MIMEType: detectMIME(p, data),
			Data:     data,
		})
	}
	return files, nil
}

func detectMIME(path string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

func withSession(cmd *cobra.Command, f *transformFlags, paths []string, fn func(ctx context.Context, sess *editor.Session) error) error {
	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("image backend startup: %w", err)
	}
	defer pipeline.Shutdown()

	sess, err := f.openSession(cmd, paths)
	if err != nil {
		return err
	}
	defer sess.Close()

	if sess.Len() == 0 {
		return fmt.Errorf("%w: no image files given", domain.ErrNoValidFiles)
	}
	return fn(cmd.Context(), sess)
}
