package cmakeconv

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
)

// sourceExts are the file extensions kept in emitted source lists; headers
// and anything unrecognized are dropped.
var sourceExts = []string{".cpp", ".cxx", ".cc", ".c", ".C", ".c++"}

var manifestTmpl = template.Must(template.New("build.toml").Funcs(template.FuncMap{
	"q":    strconv.Quote,
	"list": tomlList,
}).Parse(`{{ if .Module -}}
[module]
name = {{ q .Name }}
{{ else -}}
[project]
name = {{ q .Name }}
version = {{ q .Version }}
{{ if .Std }}cxx_standard = {{ .Std }}
{{ end }}{{ end -}}
{{ if .Includes }}includes = {{ list .Includes }}
{{ end }}
{{- range .Targets }}
[[target]]
name = {{ q .Name }}
type = {{ q .Type }}
sources = {{ list .Sources }}
{{ if .IncludeDirs }}include_dirs = {{ list .IncludeDirs }}
{{ end -}}
{{ if .Deps }}deps = {{ list .Deps }}
{{ end -}}
{{ if .Libs }}libs = {{ list .Libs }}
{{ end -}}
{{ if .Flags }}flags = {{ list .Flags }}
{{ end -}}
{{ end }}`))

func tomlList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteString("[\n")
	for _, it := range items {
		fmt.Fprintf(&b, "    %s,\n", strconv.Quote(it))
	}
	b.WriteString("]")
	return b.String()
}

type emitTarget struct {
	Name        string
	Type        string
	Sources     []string
	IncludeDirs []string
	Deps        []string
	Libs        []string
	Flags       []string
}

type emitFile struct {
	Module   bool
	Name     string
	Version  string
	Std      int
	Includes []string
	Targets  []emitTarget
}

// emitManifest renders one build.toml for the targets declared in dirRel.
// The root ("") gets the [project] header plus the includes list,
// subdirectories get [module]. Accumulated paths are root-relative and are
// rebased onto dirRel so the manifest works from its own directory.
func emitManifest(proj *Project, targets []*Target, dirRel string, includes []string) (string, error) {
	file := emitFile{
		Module:   dirRel != "",
		Name:     proj.Name,
		Version:  proj.Version,
		Includes: includes,
	}
	if dirRel != "" {
		file.Name = strings.ReplaceAll(dirRel, "/", "_")
	}
	if std, ok := proj.Vars["CMAKE_CXX_STANDARD"]; ok && dirRel == "" {
		if n, err := strconv.Atoi(strings.TrimSpace(std)); err == nil {
			file.Std = n
		}
	}
	for _, t := range targets {
		file.Targets = append(file.Targets, emitTarget{
			Name:        t.Name,
			Type:        t.Type,
			Sources:     shapeSources(t, dirRel),
			IncludeDirs: shapeIncludes(proj, t, dirRel),
			Deps:        lo.Uniq(t.Deps),
			Libs:        shapeLibs(t),
			Flags:       shapeFlags(t),
		})
	}
	var b strings.Builder
	if err := manifestTmpl.Execute(&b, file); err != nil {
		return "", xerrors.Errorf("emit manifest: %w", err)
	}
	return b.String(), nil
}

// shapeSources filters a target's accumulated sources down to real C/C++
// translation units. Sources are recorded relative to the directory that
// declared the target, which for the manifest being emitted is dirRel
// itself, so they pass through unless the target was declared elsewhere.
func shapeSources(t *Target, dirRel string) []string {
	var out []string
	for _, s := range t.Sources {
		if unresolved(s) || strings.EqualFold(s, "OBJECT") {
			continue
		}
		if !hasSourceExt(s) {
			continue
		}
		if t.SourceDir != dirRel && !strings.HasPrefix(s, "/") {
			s = rebase(dirRel, path.Join(t.SourceDir, s))
		}
		out = append(out, s)
	}
	return lo.Uniq(out)
}

func hasSourceExt(s string) bool {
	for _, ext := range sourceExts {
		if strings.HasSuffix(s, ext) {
			return true
		}
	}
	return false
}

// shapeIncludes cleans the include list, adds the target's own source
// directory, folds in the interface and ordinary include directories of
// sibling targets named as plain libraries, and rebases everything onto the
// emitting directory.
func shapeIncludes(proj *Project, t *Target, dirRel string) []string {
	dirs := append([]string(nil), t.IncludeDirs...)
	if t.SourceDir != "" {
		dirs = append(dirs, t.SourceDir)
	}
	for _, lib := range t.Libs {
		sibling := proj.target(lib)
		if sibling == nil {
			sibling = proj.target(strings.ReplaceAll(lib, "::", "_"))
		}
		if sibling == nil {
			continue
		}
		dirs = append(dirs, sibling.InterfaceIncludes...)
		dirs = append(dirs, sibling.IncludeDirs...)
	}
	var out []string
	for _, d := range dirs {
		if d == "" || strings.HasPrefix(d, "#") || unresolved(d) ||
			strings.Contains(d, "`") || isVisibilityKeyword(d) {
			continue
		}
		out = append(out, rebase(dirRel, d))
	}
	return lo.Uniq(out)
}

// rebase turns a root-relative path into one relative to dirRel.
func rebase(dirRel, p string) string {
	if dirRel == "" || strings.HasPrefix(p, "/") {
		return p
	}
	rel, err := filepath.Rel(filepath.FromSlash(dirRel), filepath.FromSlash(p))
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

func shapeLibs(t *Target) []string {
	var out []string
	for _, lib := range t.Libs {
		if isVisibilityKeyword(lib) || unresolved(lib) {
			continue
		}
		out = append(out, lib)
	}
	return lo.Uniq(out)
}

func shapeFlags(t *Target) []string {
	flags := append([]string(nil), t.Flags...)
	for _, def := range t.Definitions {
		flags = append(flags, "-D"+def)
	}
	return lo.Uniq(flags)
}
