package export

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

const archivePrefix = "image-optimizer-export-"

func ArchiveName(now time.Time) string {
	return fmt.Sprintf("%s%d.zip", archivePrefix, now.UnixMilli())
}

// WriteArchive writes one zip entry per successful item. Encoded images are
// already compressed, so entries are stored rather than deflated.
func WriteArchive(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	now := time.Now()
	for _, entry := range entries {
		header := &zip.FileHeader{
			Name:     entry.Filename,
			Method:   zip.Store,
			Modified: now,
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create archive entry %s: %w", entry.Filename, err)
		}
		if _, err := fw.Write(entry.Data); err != nil {
			return fmt.Errorf("write archive entry %s: %w", entry.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
