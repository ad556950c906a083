package toolchain

import (
	"os"
	"time"
)

// upToDate reports whether object exists and is not older than source. Any
// stat failure means "needs compiling".
func upToDate(object, source string) bool {
	objTime, ok := mtime(object)
	if !ok {
		return false
	}
	srcTime, ok := mtime(source)
	if !ok {
		return false
	}
	return !objTime.Before(srcTime)
}

// linkUpToDate reports whether artifact exists and none of the objects or
// dependency artifacts are newer. Any stat failure forces a relink.
func linkUpToDate(artifact string, objects, deps []string) bool {
	artTime, ok := mtime(artifact)
	if !ok {
		return false
	}
	for _, paths := range [][]string{objects, deps} {
		for _, p := range paths {
			t, ok := mtime(p)
			if !ok || artTime.Before(t) {
				return false
			}
		}
	}
	return true
}

func mtime(path string) (time.Time, bool) {
	st, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return st.ModTime(), true
}
