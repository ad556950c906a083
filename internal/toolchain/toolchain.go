// Package toolchain assembles and runs the external compiler, linker and
// archiver commands for the scheduler's jobs, including the incremental
// skip decision.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/oximake/oximake/internal/manifest"
	"github.com/oximake/oximake/internal/scheduler"
)

// Runner is the real scheduler.Runner: it spawns the toolchain processes.
type Runner struct {
	// Archiver builds static archives. Defaults to ar.
	Archiver string

	// Verbose includes the full command line in each job's messages.
	Verbose bool

	proj *manifest.Project
}

var _ scheduler.Runner = (*Runner)(nil)

func New(proj *manifest.Project) *Runner {
	return &Runner{Archiver: "ar", proj: proj}
}

// Compile builds one object file, or skips it when the object is no older
// than its source.
func (r *Runner) Compile(ctx context.Context, job scheduler.CompileJob) scheduler.Result {
	res := scheduler.Result{Target: job.Target, Index: job.Index}
	t, ok := r.proj.Target(job.Target)
	if !ok {
		res.Messages = append(res.Messages, fmt.Sprintf("[ERROR] unknown target %q", job.Target))
		return res
	}
	if upToDate(job.Object, job.Source) {
		res.OK = true
		res.Messages = append(res.Messages, fmt.Sprintf("[SKIP] %s (up to date)", slashPath(job.Source)))
		return res
	}
	if err := os.MkdirAll(filepath.Dir(job.Object), 0755); err != nil {
		res.Messages = append(res.Messages, fmt.Sprintf("[ERROR] %v", err))
		return res
	}

	args := compileArgs(t, job.Source, job.Object)
	res.Messages = append(res.Messages, fmt.Sprintf("[COMPILE] %s", slashPath(job.Source)))
	if r.Verbose {
		res.Messages = append(res.Messages, "$ "+t.Compiler.Command()+" "+strings.Join(args, " "))
	}
	out, err := r.runCommand(ctx, t, t.Compiler.Command(), args)
	if err != nil {
		res.Messages = append(res.Messages, fmt.Sprintf("[ERROR] compiling %s: %v", slashPath(job.Source), err))
		res.Messages = append(res.Messages, splitOutput(out)...)
		return res
	}
	res.OK = true
	return res
}

// Link produces the target's artifact: an executable, a static archive via
// the archiver, or a shared library.
func (r *Runner) Link(ctx context.Context, job scheduler.LinkJob) scheduler.Result {
	res := scheduler.Result{Target: job.Target, Index: -1}
	t, ok := r.proj.Target(job.Target)
	if !ok {
		res.Messages = append(res.Messages, fmt.Sprintf("[ERROR] unknown target %q", job.Target))
		return res
	}
	artifact := ArtifactPath(t)
	depPaths := r.depArtifacts(job)
	if linkUpToDate(artifact, job.Objects, depPaths) {
		res.OK = true
		res.Artifact = artifact
		res.Messages = append(res.Messages, fmt.Sprintf("[SKIP] %s (up to date)", slashPath(artifact)))
		return res
	}
	if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
		res.Messages = append(res.Messages, fmt.Sprintf("[ERROR] %v", err))
		return res
	}

	command, args := r.linkCommand(t, artifact, job, depPaths)
	res.Messages = append(res.Messages, fmt.Sprintf("[LINK] %s", slashPath(artifact)))
	if r.Verbose {
		res.Messages = append(res.Messages, "$ "+command+" "+strings.Join(args, " "))
	}
	out, err := r.runCommand(ctx, t, command, args)
	if err != nil {
		res.Messages = append(res.Messages, fmt.Sprintf("[ERROR] linking %s: %v", slashPath(artifact), err))
		res.Messages = append(res.Messages, splitOutput(out)...)
		return res
	}
	res.OK = true
	res.Artifact = artifact
	res.Messages = append(res.Messages, fmt.Sprintf("[OK] %s", slashPath(artifact)))
	return res
}

// ArtifactPath is where a target's final product lands.
func ArtifactPath(t *manifest.Target) string {
	switch t.Kind {
	case manifest.StaticLib:
		return filepath.Join(t.OutputDir, "lib"+t.Name+".a")
	case manifest.SharedLib:
		return filepath.Join(t.OutputDir, "lib"+t.Name+sharedSuffix())
	default:
		return filepath.Join(t.OutputDir, t.Name)
	}
}

func sharedSuffix() string {
	if runtime.GOOS == "windows" {
		return ".dll"
	}
	return ".so"
}

func compileArgs(t *manifest.Target, source, object string) []string {
	args := []string{"-c", slashPath(source), "-o", slashPath(object)}
	if t.Kind == manifest.SharedLib {
		args = append(args, "-fPIC")
	}
	for _, dir := range t.IncludeDirs {
		args = append(args, "-I", slashPath(dir))
	}
	if t.Std != 0 {
		args = append(args, fmt.Sprintf("-std=c++%d", t.Std))
	}
	args = append(args, t.Flags...)
	args = append(args, t.CompilerFlags...)
	return args
}

func (r *Runner) linkCommand(t *manifest.Target, artifact string, job scheduler.LinkJob, depPaths []string) (string, []string) {
	if t.Kind == manifest.StaticLib {
		args := []string{"rcs", slashPath(artifact)}
		for _, obj := range job.Objects {
			args = append(args, slashPath(obj))
		}
		archiver := r.Archiver
		if archiver == "" {
			archiver = "ar"
		}
		return archiver, args
	}

	var args []string
	if t.Kind == manifest.SharedLib {
		args = append(args, "-shared")
	}
	for _, obj := range job.Objects {
		args = append(args, slashPath(obj))
	}
	// Dependency artifacts are passed as file paths, not -l flags: library
	// search order differs between drivers (some prefer .a or .dll.a over
	// .so), full paths sidestep that. A missing artifact falls back to the
	// search-path form so the linker produces the actual diagnostic.
	for _, dep := range depPaths {
		if _, err := os.Stat(dep); err == nil {
			args = append(args, slashPath(dep))
			continue
		}
		args = append(args, "-L"+slashPath(filepath.Dir(dep)), "-l"+libStem(dep))
	}
	for _, dir := range t.LibDirs {
		args = append(args, "-L", slashPath(dir))
	}
	for _, lib := range t.Libs {
		args = append(args, "-l", lib)
	}
	args = append(args, t.LinkerFlags...)
	args = append(args, "-o", slashPath(artifact))
	return t.Compiler.Command(), args
}

// depArtifacts resolves the link-order dependency names to artifact paths:
// the path the dependency's link actually produced, or the path it would
// have produced when the dependency failed this run.
func (r *Runner) depArtifacts(job scheduler.LinkJob) []string {
	paths := make([]string, 0, len(job.LinkOrder))
	for _, name := range job.LinkOrder {
		if artifact, ok := job.BuiltDeps[name]; ok {
			paths = append(paths, artifact)
			continue
		}
		if dep, ok := r.proj.Target(name); ok {
			paths = append(paths, ArtifactPath(dep))
		}
	}
	return paths
}

func libStem(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimPrefix(base, "lib")
}

func (r *Runner) runCommand(ctx context.Context, t *manifest.Target, command string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), "LD_LIBRARY_PATH="+libraryPath(t))
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// libraryPath concatenates the target's library directories with the
// inherited LD_LIBRARY_PATH so the linker resolves transitive shared
// libraries without installed RPATHs.
func libraryPath(t *manifest.Target) string {
	parts := make([]string, 0, len(t.LibDirs)+1)
	for _, dir := range t.LibDirs {
		parts = append(parts, slashPath(dir))
	}
	if inherited := os.Getenv("LD_LIBRARY_PATH"); inherited != "" {
		parts = append(parts, inherited)
	}
	return strings.Join(parts, ":")
}

func splitOutput(out string) []string {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// slashPath renders a path with forward slashes, which every supported
// driver accepts on every platform. Verbatim \\?\ prefixes are stripped
// first.
func slashPath(p string) string {
	p = strings.TrimPrefix(p, `\\?\`)
	return filepath.ToSlash(p)
}
