package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// expandSources turns the source patterns of a target into absolute file
// paths. A pattern containing a glob metacharacter is expanded against
// baseDir (doublestar, so ** works); anything else is taken as a literal
// path. Missing files and matchless globs yield warnings, never errors: the
// compile step will complain if the file was actually needed.
func expandSources(baseDir string, patterns []string) (files, warnings []string) {
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[") {
			path := abs(baseDir, pattern)
			if _, err := os.Stat(path); err != nil {
				warnings = append(warnings, fmt.Sprintf("source file %s not found", path))
			}
			files = append(files, path)
			continue
		}
		matches, err := doublestar.FilepathGlob(abs(baseDir, filepath.FromSlash(pattern)))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("source pattern %q: %v", pattern, err))
			continue
		}
		if len(matches) == 0 {
			warnings = append(warnings, fmt.Sprintf("source pattern %q matched no files", pattern))
			continue
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, warnings
}
