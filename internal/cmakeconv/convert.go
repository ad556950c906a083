// Package cmakeconv partially evaluates a CMakeLists.txt tree and emits one
// build.toml manifest per source directory, preserving target topology and
// the common configuration commands. It is best-effort by design: anything
// it does not recognize is skipped, and the correctness guarantee of the
// build engine only covers the manifests it produces.
package cmakeconv

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// maxDepth bounds add_subdirectory/include recursion so a pathological
// cycle cannot hang the translator.
const maxDepth = 10

// Target is a build target accumulated from CMake commands. Kinds use the
// manifest spellings.
type Target struct {
	Name        string
	Type        string // "executable", "static_lib", "shared_lib"
	Sources     []string
	IncludeDirs []string

	// InterfaceIncludes are the PUBLIC/INTERFACE include directories, the
	// subset that propagates to dependents.
	InterfaceIncludes []string

	LibDirs     []string
	Libs        []string
	Flags       []string
	Deps        []string
	Definitions []string

	// SourceDir is the directory (relative to the project root) whose
	// CMakeLists.txt declared this target. Empty for the root.
	SourceDir string
}

// Project is the accumulator a parse run fills.
type Project struct {
	Name     string
	Version  string
	Targets  []*Target
	Subdirs  []string
	Vars     map[string]string
	Warnings []string
}

func (p *Project) target(name string) *Target {
	for _, t := range p.Targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// ParseFile parses the CMakeLists.txt at cmakePath. With recursive set,
// add_subdirectory loads the subdirectory's CMakeLists.txt into the same
// accumulator; otherwise subdirectories are only recorded.
func ParseFile(cmakePath string, recursive bool) (*Project, error) {
	root := filepath.Dir(cmakePath)
	proj := &Project{
		Name:    "Project",
		Version: "1.0.0",
		Vars:    make(map[string]string),
	}
	p := &parser{root: root, proj: proj, recursive: recursive}
	if err := p.parseFile(cmakePath, ""); err != nil {
		return nil, err
	}
	propagateInterfaceIncludes(proj)
	return proj, nil
}

type parser struct {
	root      string
	proj      *Project
	recursive bool
	depth     int
}

func (p *parser) parseFile(cmakePath, dirRel string) error {
	b, err := os.ReadFile(cmakePath)
	if err != nil {
		return xerrors.Errorf("read %s: %w", cmakePath, err)
	}
	p.parseContent(string(b), dirRel)
	return nil
}

func (p *parser) parseContent(content, dirRel string) {
	content = stripComments(content)
	vars := p.proj.Vars

	// Built-in variables are seeded per file.
	srcDir := dirRel
	if srcDir == "" {
		srcDir = "."
	}
	vars["CMAKE_CURRENT_SOURCE_DIR"] = srcDir
	vars["CMAKE_CURRENT_BINARY_DIR"] = path.Join(dirRel, "build")
	vars["PROJECT_SOURCE_DIR"] = "."

	for _, args := range extractCommand(content, "project") {
		p.proj.Name = args[0]
		if len(args) > 1 && !strings.EqualFold(args[1], "VERSION") {
			p.proj.Version = args[1]
		} else if len(args) > 2 && strings.EqualFold(args[1], "VERSION") {
			p.proj.Version = args[2]
		}
	}

	for _, args := range extractCommand(content, "include") {
		p.parseInclude(args, dirRel)
	}

	for _, args := range extractCommand(content, "set") {
		if len(args) < 2 {
			continue
		}
		values := args[1:]
		// CACHE type docstring (and FORCE) decorate the binding; the value
		// list ends where they begin.
		for i, v := range values {
			if u := strings.ToUpper(v); u == "CACHE" || u == "FORCE" {
				values = values[:i]
				break
			}
		}
		vars[args[0]] = resolveVars(strings.Join(values, " "), vars)
	}

	for _, args := range extractCommand(content, "add_subdirectory") {
		p.parseSubdirectory(args, dirRel)
	}

	for _, args := range extractCommand(content, "add_executable") {
		if len(args) < 1 || (len(args) >= 2 && strings.EqualFold(args[1], "ALIAS")) {
			continue
		}
		p.addTarget(args[0], "executable", p.collectSources(args[1:]), dirRel)
	}

	for _, args := range extractCommand(content, "add_library") {
		p.parseAddLibrary(args, dirRel)
	}

	for _, args := range extractCommand(content, "target_sources") {
		if len(args) < 2 {
			continue
		}
		if t := p.proj.target(args[0]); t != nil {
			t.Sources = append(t.Sources, p.collectSources(args[1:])...)
		}
	}

	for _, args := range extractCommand(content, "target_link_libraries") {
		p.parseLinkLibraries(args)
	}

	for _, args := range extractCommand(content, "target_include_directories") {
		p.parseIncludeDirectories(args)
	}

	for _, args := range extractCommand(content, "target_compile_options") {
		if len(args) < 2 {
			continue
		}
		t := p.proj.target(args[0])
		if t == nil {
			continue
		}
		for _, arg := range args[1:] {
			flag := resolveVars(arg, p.proj.Vars)
			if isVisibilityKeyword(flag) || unresolved(flag) {
				continue
			}
			t.Flags = append(t.Flags, flag)
		}
	}

	for _, args := range extractCommand(content, "target_compile_definitions") {
		if len(args) < 2 {
			continue
		}
		t := p.proj.target(args[0])
		if t == nil {
			continue
		}
		for _, arg := range args[1:] {
			def := resolveVars(arg, p.proj.Vars)
			if isVisibilityKeyword(def) || unresolved(def) {
				continue
			}
			def = strings.TrimPrefix(def, "-D")
			if !containsStr(t.Definitions, def) {
				t.Definitions = append(t.Definitions, def)
			}
		}
	}

	for _, args := range extractCommand(content, "set_property") {
		p.parseSetProperty(args)
	}
}

func (p *parser) parseInclude(args []string, dirRel string) {
	if len(args) == 0 {
		return
	}
	name := resolveVars(args[0], p.proj.Vars)
	if !strings.HasSuffix(name, ".cmake") || unresolved(name) {
		return // module includes (include(GNUInstallDirs) etc.) are skipped
	}
	candidates := []string{
		filepath.Join(p.root, dirRel, name),
		filepath.Join(p.root, dirRel, "cmake", name),
		filepath.Join(p.root, "cmake", name),
		filepath.Join(p.root, name),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		if p.depth >= maxDepth {
			return
		}
		p.depth++
		if err := p.parseFile(c, dirRel); err != nil {
			p.proj.Warnings = append(p.proj.Warnings, err.Error())
		}
		p.depth--
		return
	}
	p.proj.Warnings = append(p.proj.Warnings, fmt.Sprintf("included file %s not found", name))
}

func (p *parser) parseSubdirectory(args []string, dirRel string) {
	if len(args) == 0 {
		return
	}
	subdir := resolveVars(args[0], p.proj.Vars)
	if unresolved(subdir) {
		return
	}
	subRel := path.Join(dirRel, subdir)
	subCMake := filepath.Join(p.root, filepath.FromSlash(subRel), "CMakeLists.txt")
	if _, err := os.Stat(subCMake); err != nil {
		p.proj.Warnings = append(p.proj.Warnings, fmt.Sprintf("add_subdirectory(%s): no CMakeLists.txt", subdir))
		return
	}
	if !containsStr(p.proj.Subdirs, subRel) {
		p.proj.Subdirs = append(p.proj.Subdirs, subRel)
	}
	if !p.recursive || p.depth >= maxDepth {
		return
	}
	p.depth++
	if err := p.parseFile(subCMake, subRel); err != nil {
		p.proj.Warnings = append(p.proj.Warnings, err.Error())
	}
	p.depth--
}

func (p *parser) parseAddLibrary(args []string, dirRel string) {
	if len(args) < 1 {
		return
	}
	if len(args) >= 2 && strings.EqualFold(args[1], "ALIAS") {
		return // aliases do not create targets
	}
	kind := "static_lib"
	rest := args[1:]
	if len(args) >= 2 {
		switch strings.ToUpper(args[1]) {
		case "STATIC", "OBJECT", "INTERFACE":
			rest = args[2:]
		case "SHARED", "MODULE":
			kind = "shared_lib"
			rest = args[2:]
		}
	}
	p.addTarget(args[0], kind, p.collectSources(rest), dirRel)
}

func (p *parser) addTarget(name, kind string, sources []string, dirRel string) {
	if existing := p.proj.target(name); existing != nil {
		for _, s := range sources {
			if !containsStr(existing.Sources, s) {
				existing.Sources = append(existing.Sources, s)
			}
		}
		return
	}
	p.proj.Targets = append(p.proj.Targets, &Target{
		Name:      name,
		Type:      kind,
		Sources:   sources,
		SourceDir: dirRel,
	})
}

// collectSources expands variables and re-splits on whitespace: a source
// list stored in one variable arrives as a single space-joined token.
// Unresolved tokens are dropped here; header filtering happens at emission.
func (p *parser) collectSources(args []string) []string {
	var sources []string
	for _, arg := range args {
		if isVisibilityKeyword(arg) {
			continue
		}
		for _, s := range strings.Fields(resolveVars(arg, p.proj.Vars)) {
			if unresolved(s) || strings.EqualFold(s, "OBJECT") {
				continue
			}
			sources = append(sources, s)
		}
	}
	return sources
}

func (p *parser) parseLinkLibraries(args []string) {
	if len(args) < 2 {
		return
	}
	t := p.proj.target(args[0])
	if t == nil {
		return
	}
	for _, arg := range args[1:] {
		dep := resolveVars(arg, p.proj.Vars)
		if isVisibilityKeyword(dep) || unresolved(dep) {
			continue
		}
		// Threads is a find_package pseudo-target: it means -pthread, not
		// -lThreads.
		if strings.EqualFold(dep, "Threads") || dep == "Threads::Threads" {
			if !containsStr(t.Flags, "-pthread") {
				t.Flags = append(t.Flags, "-pthread")
			}
			continue
		}
		normalized := strings.ReplaceAll(dep, "::", "_")
		if p.proj.target(normalized) != nil || p.proj.target(dep) != nil {
			if !containsStr(t.Deps, normalized) {
				t.Deps = append(t.Deps, normalized)
			}
			continue
		}
		lib := strings.TrimPrefix(normalized, "lib")
		if !containsStr(t.Libs, lib) {
			t.Libs = append(t.Libs, lib)
		}
	}
}

func (p *parser) parseIncludeDirectories(args []string) {
	if len(args) < 2 {
		return
	}
	t := p.proj.target(args[0])
	if t == nil {
		return
	}
	scope := "PRIVATE"
	for _, arg := range args[1:] {
		if isVisibilityKeyword(arg) {
			scope = strings.ToUpper(arg)
			continue
		}
		dir := resolveVars(arg, p.proj.Vars)
		dir, ok := unwrapGenerator(dir)
		if !ok || dir == "" || strings.Contains(dir, "${") {
			continue
		}
		dir = p.rootRelative(dir, t.SourceDir)
		if !containsStr(t.IncludeDirs, dir) {
			t.IncludeDirs = append(t.IncludeDirs, dir)
		}
		if scope == "PUBLIC" || scope == "INTERFACE" {
			if !containsStr(t.InterfaceIncludes, dir) {
				t.InterfaceIncludes = append(t.InterfaceIncludes, dir)
			}
		}
	}
}

// rootRelative rebases an include directory onto the project root: paths a
// CMakeLists.txt states are relative to its own directory, but targets from
// every directory share one accumulator. Paths that already lead with the
// directory (typical after ${CMAKE_CURRENT_SOURCE_DIR} substitution) pass
// through.
func (p *parser) rootRelative(dir, declDir string) string {
	dir = collapseDots(dir)
	if declDir == "" || strings.HasPrefix(dir, "/") ||
		dir == declDir || strings.HasPrefix(dir, declDir+"/") {
		return dir
	}
	return collapseDots(path.Join(declDir, dir))
}

// parseSetProperty handles
// set_property(TARGET t1 t2 APPEND PROPERTY LINK_LIBRARIES d1 d2).
func (p *parser) parseSetProperty(args []string) {
	if len(args) < 5 || !strings.EqualFold(args[0], "TARGET") {
		return
	}
	i := 1
	var names []string
	for i < len(args) && !strings.EqualFold(args[i], "APPEND") && !strings.EqualFold(args[i], "PROPERTY") {
		names = append(names, args[i])
		i++
	}
	if i < len(args) && strings.EqualFold(args[i], "APPEND") {
		i++
	}
	if i+1 >= len(args) || !strings.EqualFold(args[i], "PROPERTY") || !strings.EqualFold(args[i+1], "LINK_LIBRARIES") {
		return
	}
	i += 2
	var deps []string
	for _, arg := range args[i:] {
		dep := resolveVars(arg, p.proj.Vars)
		if unresolved(dep) {
			continue
		}
		deps = append(deps, strings.ReplaceAll(dep, "::", "_"))
	}
	for _, name := range names {
		t := p.proj.target(name)
		if t == nil {
			continue
		}
		for _, dep := range deps {
			if !containsStr(t.Deps, dep) {
				t.Deps = append(t.Deps, dep)
			}
		}
	}
}

// propagateInterfaceIncludes mirrors CMake's INTERFACE/PUBLIC propagation:
// every target inherits the interface includes of its dependencies,
// iterated to a fixed point so the inheritance is transitive.
func propagateInterfaceIncludes(proj *Project) {
	for changed := true; changed; {
		changed = false
		for _, t := range proj.Targets {
			for _, depName := range t.Deps {
				dep := proj.target(depName)
				if dep == nil {
					dep = proj.target(strings.ReplaceAll(depName, "::", "_"))
				}
				if dep == nil {
					continue
				}
				for _, dir := range dep.InterfaceIncludes {
					if !containsStr(t.IncludeDirs, dir) {
						t.IncludeDirs = append(t.IncludeDirs, dir)
						changed = true
					}
					if !containsStr(t.InterfaceIncludes, dir) {
						t.InterfaceIncludes = append(t.InterfaceIncludes, dir)
						changed = true
					}
				}
			}
		}
	}
}

// ConvertTree translates the CMake project rooted at rootCMake into
// build.toml manifests: one per directory that declares targets, keyed by
// path relative to the root ("build.toml" for the root itself, which also
// carries the includes list). The whole tree is evaluated in one recursive
// parse so cross-directory dependencies resolve; targets are then grouped
// by the directory whose CMakeLists.txt declared them.
func ConvertTree(rootCMake string) (map[string]string, []string, error) {
	if _, err := os.Stat(rootCMake); err != nil {
		return nil, nil, xerrors.Errorf("cmake project %s: %w", rootCMake, err)
	}
	proj, err := ParseFile(rootCMake, true)
	if err != nil {
		return nil, nil, err
	}

	byDir := make(map[string][]*Target)
	for _, t := range proj.Targets {
		byDir[t.SourceDir] = append(byDir[t.SourceDir], t)
	}
	var subdirs []string
	for dir := range byDir {
		if dir != "" {
			subdirs = append(subdirs, dir)
		}
	}
	sort.Strings(subdirs)

	result := make(map[string]string)
	var includes []string
	for _, dir := range subdirs {
		name := path.Join(dir, "build.toml")
		content, err := emitManifest(proj, byDir[dir], dir, nil)
		if err != nil {
			return nil, nil, err
		}
		result[name] = content
		includes = append(includes, name)
	}
	content, err := emitManifest(proj, byDir[""], "", includes)
	if err != nil {
		return nil, nil, err
	}
	result["build.toml"] = content
	return result, proj.Warnings, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
