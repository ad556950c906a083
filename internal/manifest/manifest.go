// Package manifest loads build.toml project manifests: the root file plus all
// transitively included module files, flattened into a single target table
// with interface properties propagated.
package manifest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/oximake/oximake"
	"golang.org/x/xerrors"
)

// Kind is the artifact category a target produces.
type Kind int

const (
	Executable Kind = iota
	StaticLib
	SharedLib
)

func (k Kind) String() string {
	switch k {
	case StaticLib:
		return "static_lib"
	case SharedLib:
		return "shared_lib"
	default:
		return "executable"
	}
}

// ParseKind accepts the manifest spellings of a target type. The legacy
// spellings "static" and "shared" are still emitted by older converters.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "executable":
		return Executable, nil
	case "static_lib", "static":
		return StaticLib, nil
	case "shared_lib", "shared":
		return SharedLib, nil
	}
	return Executable, xerrors.Errorf("unknown target type %q", s)
}

// Compiler selects which external compiler driver builds a target.
type Compiler int

const (
	GXX Compiler = iota
	GCC
	Clang
)

// Command returns the executable name of the compiler driver.
func (c Compiler) Command() string {
	switch c {
	case GCC:
		return "gcc"
	case Clang:
		return "clang"
	default:
		return "g++"
	}
}

func (c Compiler) String() string { return c.Command() }

func ParseCompiler(s string) (Compiler, error) {
	switch s {
	case "", "g++":
		return GXX, nil
	case "gcc":
		return GCC, nil
	case "clang":
		return Clang, nil
	}
	return GXX, xerrors.Errorf("unknown compiler %q", s)
}

// Target is one resolved build unit. All paths are absolute; list order is
// declaration order (with interface-propagated entries appended).
type Target struct {
	Name          string
	Kind          Kind
	Sources       []string
	IncludeDirs   []string
	LibDirs       []string
	Libs          []string
	Flags         []string
	CompilerFlags []string
	LinkerFlags   []string
	Std           int // e.g. 17 for -std=c++17, 0 if unset
	Deps          []string
	OutputDir     string
	Compiler      Compiler
}

// Project is a fully loaded and flattened project. It is immutable after
// Load returns.
type Project struct {
	Name    string
	Version string
	Root    string // directory of the root manifest
	Std     int    // project-wide -std override, 0 if unset

	Targets []*Target // first-definition order

	// Warnings are non-fatal findings from the load (missing source files,
	// globs without matches). The engine never logs; callers decide.
	Warnings []string

	byName map[string]*Target
}

// Target returns the named target, if defined.
func (p *Project) Target(name string) (*Target, bool) {
	t, ok := p.byName[name]
	return t, ok
}

// Names returns all target names, sorted.
func (p *Project) Names() []string {
	names := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// The on-disk schema. A root manifest carries [project], an included one
// [module]. Very old root files had name/version/includes at the top level.
type manifestFile struct {
	Project  *projectTable `toml:"project"`
	Module   *moduleTable  `toml:"module"`
	Name     string        `toml:"name"`
	Version  string        `toml:"version"`
	Includes []string      `toml:"includes"`
	Targets  []targetTable `toml:"target"`
}

type projectTable struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	CXXStandard int      `toml:"cxx_standard"`
	Includes    []string `toml:"includes"`
}

type moduleTable struct {
	Name     string   `toml:"name"`
	Includes []string `toml:"includes"`
}

type targetTable struct {
	Name          string   `toml:"name"`
	Type          string   `toml:"type"`
	Sources       []string `toml:"sources"`
	IncludeDirs   []string `toml:"include_dirs"`
	LibDirs       []string `toml:"lib_dirs"`
	Libs          []string `toml:"libs"`
	Flags         []string `toml:"flags"`
	CompilerFlags []string `toml:"compiler_flags"`
	LinkerFlags   []string `toml:"linker_flags"`
	Deps          []string `toml:"deps"`
	Compiler      string   `toml:"compiler"`
	OutputDir     string   `toml:"output_dir"`
	CXXStandard   int      `toml:"cxx_standard"`
}

// Load reads the manifest at path and returns the flattened project. If path
// is included (transitively) by an ancestor manifest, that workspace root is
// loaded instead, so building from a leaf behaves like building from the
// root.
func Load(path string) (*Project, error) {
	if root, ok := FindWorkspaceRoot(path); ok {
		path = root
	}
	canon, err := canonicalize(path)
	if err != nil {
		return nil, xerrors.Errorf("manifest %s: %w", path, err)
	}
	p := &Project{
		Root:   filepath.Dir(canon),
		byName: make(map[string]*Target),
	}
	l := &loader{proj: p, seen: make(map[string]bool)}
	if err := l.loadFile(canon, true); err != nil {
		return nil, err
	}
	if p.Std != 0 {
		// A project-wide standard is ABI-affecting; it overrides every
		// per-target value.
		for _, t := range p.Targets {
			t.Std = p.Std
		}
	}
	propagate(p)
	return p, nil
}

type loader struct {
	proj *Project
	seen map[string]bool
}

func (l *loader) loadFile(path string, root bool) error {
	if l.seen[path] {
		return nil // diamond include
	}
	l.seen[path] = true

	b, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("manifest %s: %w", path, err)
	}
	var mf manifestFile
	if err := toml.Unmarshal(b, &mf); err != nil {
		return xerrors.Errorf("manifest %s: %w", path, err)
	}
	baseDir := filepath.Dir(path)

	var includes []string
	switch {
	case mf.Project != nil:
		includes = mf.Project.Includes
		if root {
			l.proj.Name = mf.Project.Name
			l.proj.Version = mf.Project.Version
			l.proj.Std = mf.Project.CXXStandard
		}
	case mf.Module != nil:
		includes = mf.Module.Includes
		if root {
			l.proj.Name = mf.Module.Name
		}
	default:
		// Backward compatibility: top-level keys instead of a [project]
		// table.
		includes = mf.Includes
		if root {
			l.proj.Name = mf.Name
			l.proj.Version = mf.Version
		}
	}
	if root {
		if l.proj.Name == "" {
			l.proj.Name = filepath.Base(baseDir)
		}
		if l.proj.Version == "" {
			l.proj.Version = "0.1.0"
		}
	}

	for _, tt := range mf.Targets {
		if err := l.addTarget(baseDir, tt); err != nil {
			return xerrors.Errorf("manifest %s: %w", path, err)
		}
	}

	for _, inc := range includes {
		incPath, err := canonicalize(filepath.Join(baseDir, inc))
		if err != nil {
			return xerrors.Errorf("manifest %s: include %q: %w", path, inc, err)
		}
		if err := l.loadFile(incPath, false); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) addTarget(baseDir string, tt targetTable) error {
	if tt.Name == "" {
		return xerrors.New("target without a name")
	}
	if _, ok := l.proj.byName[tt.Name]; ok {
		return nil // first definition wins
	}
	kind, err := ParseKind(tt.Type)
	if err != nil {
		return xerrors.Errorf("target %q: %w", tt.Name, err)
	}
	comp, err := ParseCompiler(tt.Compiler)
	if err != nil {
		return xerrors.Errorf("target %q: %w", tt.Name, err)
	}
	sources, warnings := expandSources(baseDir, tt.Sources)
	l.proj.Warnings = append(l.proj.Warnings, warnings...)

	outputDir := tt.OutputDir
	if outputDir == "" {
		outputDir = "build"
	}
	t := &Target{
		Name:          tt.Name,
		Kind:          kind,
		Sources:       sources,
		IncludeDirs:   absAll(baseDir, tt.IncludeDirs),
		LibDirs:       absAll(baseDir, tt.LibDirs),
		Libs:          append([]string(nil), tt.Libs...),
		Flags:         append([]string(nil), tt.Flags...),
		CompilerFlags: append([]string(nil), tt.CompilerFlags...),
		LinkerFlags:   append([]string(nil), tt.LinkerFlags...),
		Std:           tt.CXXStandard,
		Deps:          append([]string(nil), tt.Deps...),
		OutputDir:     abs(baseDir, outputDir),
		Compiler:      comp,
	}
	l.proj.Targets = append(l.proj.Targets, t)
	l.proj.byName[t.Name] = t
	return nil
}

// FindWorkspaceRoot walks the parent chain of path. Whenever an ancestor
// directory contains a manifest whose includes list (transitively) covers
// path, that ancestor manifest becomes the new candidate. The second return
// is false if no ancestor includes path.
func FindWorkspaceRoot(path string) (string, bool) {
	cur, err := canonicalize(path)
	if err != nil {
		return "", false
	}
	orig := cur
	dir := filepath.Dir(cur)
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		candidate := filepath.Join(dir, oximake.ManifestName)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if includesPath(candidate, cur) {
			cur = candidate
		}
	}
	if cur == orig {
		return "", false
	}
	return cur, true
}

// includesPath reports whether the manifest at manifestPath lists target
// (canonicalized) in its includes.
func includesPath(manifestPath, target string) bool {
	b, err := os.ReadFile(manifestPath)
	if err != nil {
		return false
	}
	var mf manifestFile
	if err := toml.Unmarshal(b, &mf); err != nil {
		return false
	}
	var includes []string
	switch {
	case mf.Project != nil:
		includes = mf.Project.Includes
	case mf.Module != nil:
		includes = mf.Module.Includes
	default:
		includes = mf.Includes
	}
	baseDir := filepath.Dir(manifestPath)
	for _, inc := range includes {
		p, err := canonicalize(filepath.Join(baseDir, inc))
		if err != nil {
			continue
		}
		if p == target {
			return true
		}
	}
	return false
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

func abs(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

func absAll(baseDir string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = abs(baseDir, p)
	}
	return out
}
