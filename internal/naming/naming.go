package naming

import (
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

const (
	defaultProject = "project"
	defaultSection = "section"
	defaultElement = "image"
)

// Resolve maps an item's original filename and settings to its output name.
// Any non-empty naming field switches to the project template; missing parts
// fall back to their placeholders.
func Resolve(originalFilename string, s domain.TransformSettings) string {
	size := fmt.Sprintf("%dx%d", s.Width, s.Height)
	ext := s.Format.Extension()

	if s.ProjectName != "" || s.SectionName != "" || s.ElementName != "" {
		return fmt.Sprintf("%s-%s_%s-%s.%s",
			sanitize(orDefault(s.ProjectName, defaultProject)),
			sanitize(orDefault(s.SectionName, defaultSection)),
			sanitize(orDefault(s.ElementName, defaultElement)),
			size,
			ext,
		)
	}
	return fmt.Sprintf("%s-%s.%s", sanitize(Basename(originalFilename)), size, ext)
}

// Basename strips exactly the final extension segment. Names without a dot
// are returned whole; directory components are dropped.
func Basename(filename string) string {
	filename = path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if filename == "." || filename == "/" {
		return ""
	}
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return filename
	}
	return filename[:idx]
}

// Disambiguate returns names in input order with every repeat suffixed by
// "-2", "-3", ... before the extension, skipping suffixes that collide with
// names already taken.
func Disambiguate(names []string) []string {
	out := make([]string, len(names))
	taken := make(map[string]struct{}, len(names))
	for _, name := range names {
		taken[name] = struct{}{}
	}

	assigned := make(map[string]struct{}, len(names))
	for i, name := range names {
		if _, dup := assigned[name]; !dup {
			out[i] = name
			assigned[name] = struct{}{}
			continue
		}

		stem, ext := splitExt(name)
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
			if _, used := assigned[candidate]; used {
				continue
			}
			if _, reserved := taken[candidate]; reserved {
				continue
			}
			out[i] = candidate
			assigned[candidate] = struct{}{}
			break
		}
	}
	return out
}

func splitExt(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx:]
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// sanitize keeps archive entries flat.
func sanitize(in string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(in)
}
