package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadSingleTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "main.cpp"), "int main() {}\n")
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "hello"
version = "1.2.3"

[[target]]
name = "hello"
type = "executable"
sources = ["src/main.cpp"]
include_dirs = ["include"]
flags = ["-O2", "-Wall"]
compiler = "clang"
`)

	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := p.Name, "hello"; got != want {
		t.Errorf("project name: got %q, want %q", got, want)
	}
	if got, want := p.Version, "1.2.3"; got != want {
		t.Errorf("project version: got %q, want %q", got, want)
	}
	tgt, ok := p.Target("hello")
	if !ok {
		t.Fatal("target hello not found")
	}
	if tgt.Kind != Executable {
		t.Errorf("kind: got %v, want executable", tgt.Kind)
	}
	if tgt.Compiler.Command() != "clang" {
		t.Errorf("compiler: got %v, want clang", tgt.Compiler)
	}
	if len(tgt.Sources) != 1 || !filepath.IsAbs(tgt.Sources[0]) {
		t.Errorf("sources not resolved to absolute paths: %v", tgt.Sources)
	}
	if len(tgt.IncludeDirs) != 1 || !strings.HasSuffix(tgt.IncludeDirs[0], string(filepath.Separator)+"include") {
		t.Errorf("include dirs: got %v, want one ending in /include", tgt.IncludeDirs)
	}
	if !strings.HasSuffix(tgt.OutputDir, string(filepath.Separator)+"build") {
		t.Errorf("output dir: got %s, want the build default", tgt.OutputDir)
	}
	if len(p.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", p.Warnings)
	}
}

// resolve normalizes through symlinks so paths compare on systems where
// TempDir lives behind one (e.g. /tmp → /private/tmp).
func resolve(t *testing.T, path string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return r
}

func TestLoadIncludedModules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "proj"
version = "0.1.0"
includes = ["liba/build.toml", "libb/build.toml"]

[[target]]
name = "app"
deps = ["a", "b"]
`)
	writeFile(t, filepath.Join(dir, "liba", "build.toml"), `
[module]
name = "liba"

[[target]]
name = "a"
type = "static_lib"
`)
	// An included file may still use [project]; accepted for compatibility.
	writeFile(t, filepath.Join(dir, "libb", "build.toml"), `
[project]
name = "libb"

[[target]]
name = "b"
type = "shared_lib"
`)

	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := p.Names(), []string{"a", "app", "b"}; !cmp.Equal(got, want) {
		t.Errorf("targets: got %v, want %v", got, want)
	}
	if got, want := p.Name, "proj"; got != want {
		t.Errorf("project name: got %q, want %q", got, want)
	}
	b, _ := p.Target("b")
	if b.Kind != SharedLib {
		t.Errorf("kind of b: got %v, want shared_lib", b.Kind)
	}
}

func TestLoadDiamondIncludeFirstDefinitionWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "proj"
version = "0.1.0"
includes = ["left/build.toml", "right/build.toml"]
`)
	writeFile(t, filepath.Join(dir, "left", "build.toml"), `
[module]
name = "left"
includes = ["../common/build.toml"]
`)
	writeFile(t, filepath.Join(dir, "right", "build.toml"), `
[module]
name = "right"
includes = ["../common/build.toml"]
`)
	writeFile(t, filepath.Join(dir, "common", "build.toml"), `
[module]
name = "common"

[[target]]
name = "common"
type = "static_lib"
flags = ["-DCOMMON"]
`)

	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := len(p.Targets), 1; got != want {
		t.Fatalf("diamond include duplicated the target: %d targets", got)
	}
}

func TestLoadDuplicateTargetFirstWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "proj"
version = "0.1.0"

[[target]]
name = "x"
flags = ["-DFIRST"]

[[target]]
name = "x"
flags = ["-DSECOND"]
`)
	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	x, _ := p.Target("x")
	if got, want := x.Flags, []string{"-DFIRST"}; !cmp.Equal(got, want) {
		t.Errorf("flags: got %v, want %v", got, want)
	}
}

func TestLoadLegacyTopLevelKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
name = "legacy"
version = "2.0.0"

[[target]]
name = "legacy"
`)
	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "legacy" || p.Version != "2.0.0" {
		t.Errorf("legacy keys not honored: name %q version %q", p.Name, p.Version)
	}
}

func TestLoadMissingInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "proj"
version = "0.1.0"
includes = ["nope/build.toml"]
`)
	_, err := Load(filepath.Join(dir, "build.toml"))
	if err == nil {
		t.Fatal("Load succeeded despite missing include")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error does not name the offending include: %v", err)
	}
}

func TestGlobSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "a.cpp"), "")
	writeFile(t, filepath.Join(dir, "src", "b.cpp"), "")
	writeFile(t, filepath.Join(dir, "src", "sub", "c.cpp"), "")
	writeFile(t, filepath.Join(dir, "src", "header.h"), "")
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "proj"
version = "0.1.0"

[[target]]
name = "app"
sources = ["src/**/*.cpp"]
`)
	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	app, _ := p.Target("app")
	var bases []string
	for _, s := range app.Sources {
		bases = append(bases, filepath.Base(s))
	}
	if want := []string{"a.cpp", "b.cpp", "c.cpp"}; !cmp.Equal(bases, want) {
		t.Errorf("glob expansion: got %v, want %v", bases, want)
	}
}

func TestMissingSourceWarnsButLoads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "proj"
version = "0.1.0"

[[target]]
name = "app"
sources = ["src/missing.cpp"]
`)
	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.Warnings) == 0 {
		t.Error("expected a warning for the missing source file")
	}
	app, _ := p.Target("app")
	if len(app.Sources) != 1 {
		t.Errorf("literal missing source should still be listed: %v", app.Sources)
	}
}

func TestInterfacePropagationFixedPoint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "proj"
version = "0.1.0"

[[target]]
name = "core"
type = "static_lib"
include_dirs = ["core/include"]
libs = ["m"]
flags = ["-DCORE"]

[[target]]
name = "mid"
type = "static_lib"
deps = ["core"]
include_dirs = ["mid/include"]

[[target]]
name = "app"
deps = ["mid"]
`)
	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	app, _ := p.Target("app")
	// app never names core directly; its properties must still arrive
	// through mid.
	joined := strings.Join(app.IncludeDirs, " ")
	if !strings.Contains(joined, filepath.Join("core", "include")) {
		t.Errorf("core include dir did not propagate transitively: %v", app.IncludeDirs)
	}
	if !strings.Contains(joined, filepath.Join("mid", "include")) {
		t.Errorf("mid include dir did not propagate: %v", app.IncludeDirs)
	}
	if got, want := app.Libs, []string{"m"}; !cmp.Equal(got, want) {
		t.Errorf("libs: got %v, want %v", got, want)
	}
	if got, want := app.Flags, []string{"-DCORE"}; !cmp.Equal(got, want) {
		t.Errorf("flags: got %v, want %v", got, want)
	}
}

func TestRootStandardOverridesTargets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "proj"
version = "0.1.0"
cxx_standard = 20

[[target]]
name = "a"
cxx_standard = 11

[[target]]
name = "b"
`)
	p, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		tgt, _ := p.Target(name)
		if got, want := tgt.Std, 20; got != want {
			t.Errorf("std of %s: got %d, want %d", name, got, want)
		}
	}
}

func TestFindWorkspaceRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "root"
version = "0.1.0"
includes = ["sub/build.toml"]
`)
	writeFile(t, filepath.Join(dir, "sub", "build.toml"), `
[module]
name = "sub"
includes = ["inner/build.toml"]

[[target]]
name = "sub"
`)
	writeFile(t, filepath.Join(dir, "sub", "inner", "build.toml"), `
[module]
name = "inner"

[[target]]
name = "inner"
`)

	root, ok := FindWorkspaceRoot(filepath.Join(dir, "sub", "inner", "build.toml"))
	if !ok {
		t.Fatal("workspace root not found for transitively included leaf")
	}
	if got, want := root, resolve(t, filepath.Join(dir, "build.toml")); got != want {
		t.Errorf("workspace root: got %s, want %s", got, want)
	}

	// Loading the leaf builds the whole workspace.
	p, err := Load(filepath.Join(dir, "sub", "inner", "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := p.Name, "root"; got != want {
		t.Errorf("loaded project: got %q, want %q", got, want)
	}
	if len(p.Targets) != 2 {
		t.Errorf("expected both workspace targets, got %v", p.Names())
	}
}

func TestFindWorkspaceRootUnrelated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.toml"), `
[project]
name = "standalone"
version = "0.1.0"
`)
	if root, ok := FindWorkspaceRoot(filepath.Join(dir, "build.toml")); ok {
		t.Errorf("unexpected workspace root %s for standalone manifest", root)
	}
}

// Round trip: re-serializing each [[target]] with identical field values and
// reloading yields an equal project.
func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "a.cpp"), "")
	original := `
[project]
name = "proj"
version = "0.1.0"

[[target]]
name = "lib"
type = "static_lib"
sources = ["src/a.cpp"]
include_dirs = ["include"]
lib_dirs = ["libs"]
libs = ["z"]
flags = ["-O2"]
compiler_flags = ["-Wall"]
linker_flags = ["-s"]
compiler = "gcc"
output_dir = "out"
cxx_standard = 14

[[target]]
name = "app"
sources = ["src/a.cpp"]
deps = ["lib"]
`
	writeFile(t, filepath.Join(dir, "build.toml"), original)
	p1, err := Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	type file struct {
		Project projectTable  `toml:"project"`
		Targets []targetTable `toml:"target"`
	}
	out := file{Project: projectTable{Name: p1.Name, Version: p1.Version}}
	out.Targets = []targetTable{
		{
			Name: "lib", Type: "static_lib", Sources: []string{"src/a.cpp"},
			IncludeDirs: []string{"include"}, LibDirs: []string{"libs"},
			Libs: []string{"z"}, Flags: []string{"-O2"},
			CompilerFlags: []string{"-Wall"}, LinkerFlags: []string{"-s"},
			Compiler: "gcc", OutputDir: "out", CXXStandard: 14,
		},
		{Name: "app", Sources: []string{"src/a.cpp"}, Deps: []string{"lib"}},
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(out); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dir2 := t.TempDir()
	writeFile(t, filepath.Join(dir2, "src", "a.cpp"), "")
	writeFile(t, filepath.Join(dir2, "build.toml"), b.String())
	p2, err := Load(filepath.Join(dir2, "build.toml"))
	if err != nil {
		t.Fatalf("Load round-tripped manifest: %v", err)
	}

	strip := func(p *Project) []Target {
		var out []Target
		base := p.Root
		for _, tgt := range p.Targets {
			c := *tgt
			c.Sources = stripBase(base, c.Sources)
			c.IncludeDirs = stripBase(base, c.IncludeDirs)
			c.LibDirs = stripBase(base, c.LibDirs)
			c.OutputDir = strings.TrimPrefix(c.OutputDir, base)
			out = append(out, c)
		}
		return out
	}
	if diff := cmp.Diff(strip(p1), strip(p2)); diff != "" {
		t.Errorf("round trip diverged: diff (-first +second):\n%s", diff)
	}
}

func stripBase(base string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = strings.TrimPrefix(p, base)
	}
	return out
}
