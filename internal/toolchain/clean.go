package toolchain

import (
	"os"
	"path/filepath"

	"github.com/oximake/oximake/internal/manifest"
	"golang.org/x/xerrors"
)

// Clean removes the object directory and final artifact of each target named
// in targets, or of every target when targets is empty. Each removal is
// reported on out (when non-nil); paths that do not exist are silently fine.
func Clean(proj *manifest.Project, targets []string, out chan<- string) error {
	send := func(line string) {
		if out != nil {
			out <- line
		}
	}
	for _, t := range proj.Targets {
		if len(targets) > 0 && !contains(targets, t.Name) {
			continue
		}
		objDir := filepath.Join(t.OutputDir, "obj", t.Name)
		if _, err := os.Stat(objDir); err == nil {
			if err := os.RemoveAll(objDir); err != nil {
				return xerrors.Errorf("clean %s: %w", t.Name, err)
			}
			send("[CLEAN] " + slashPath(objDir))
		}
		artifact := ArtifactPath(t)
		if _, err := os.Stat(artifact); err == nil {
			if err := os.Remove(artifact); err != nil {
				return xerrors.Errorf("clean %s: %w", t.Name, err)
			}
			send("[CLEAN] " + slashPath(artifact))
		}
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
