package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/google/renameio"
	"github.com/oximake/oximake"
	"github.com/oximake/oximake/internal/dag"
	"github.com/oximake/oximake/internal/manifest"
	"github.com/oximake/oximake/internal/toolchain"
)

const ninjaHelp = `oximake ninja [-flags]

Emit a build.ninja file equivalent to the project manifest, for building
with ninja instead of the built-in scheduler.
`

var ninjaTmpl = template.Must(template.New("build.ninja").Parse(`# generated by oximake ninja; do not edit
{{ range .Targets }}
rule cc_{{ .Name }}
  command = {{ .Compiler }} -c $in -o $out{{ .CompileFlags }}
  description = CC $out

rule link_{{ .Name }}
  command = {{ .LinkCommand }}
  description = LINK $out
{{ range .Objects }}
build {{ .Object }}: cc_{{ .Target }} {{ .Source }}{{ end }}

build {{ .Artifact }}: link_{{ .Name }}{{ range .Objects }} {{ .Object }}{{ end }}{{ if .DepArtifacts }} |{{ range .DepArtifacts }} {{ . }}{{ end }}{{ end }}
{{ end }}
default{{ range .Defaults }} {{ . }}{{ end }}
`))

func cmdninja(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("ninja", flag.ExitOnError)
	var (
		manifestPath = fset.String("manifest", oximake.ManifestName, "path to the project manifest")
		output       = fset.String("o", "build.ninja", "output file")
	)
	fset.Usage = usage(fset, ninjaHelp)
	fset.Parse(args)

	proj, err := manifest.Load(*manifestPath)
	if err != nil {
		return err
	}
	order, err := dag.Build(proj)
	if err != nil {
		return err
	}

	type ninjaObject struct {
		Target string
		Object string
		Source string
	}
	type ninjaTarget struct {
		Name         string
		Compiler     string
		CompileFlags string
		LinkCommand  string
		Artifact     string
		Objects      []ninjaObject
		DepArtifacts []string
	}

	var targets []ninjaTarget
	var defaults []string
	for _, name := range order.Targets() {
		t, ok := proj.Target(name)
		if !ok {
			continue
		}
		nt := ninjaTarget{
			Name:         t.Name,
			Compiler:     t.Compiler.Command(),
			CompileFlags: compileFlagsFor(t),
			Artifact:     filepath.ToSlash(toolchain.ArtifactPath(t)),
		}
		for _, src := range t.Sources {
			stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
			nt.Objects = append(nt.Objects, ninjaObject{
				Target: t.Name,
				Object: filepath.ToSlash(filepath.Join(t.OutputDir, "obj", t.Name, stem+".o")),
				Source: filepath.ToSlash(src),
			})
		}
		for _, dep := range order.LinkOrder(t.Name) {
			if d, ok := proj.Target(dep); ok {
				nt.DepArtifacts = append(nt.DepArtifacts, filepath.ToSlash(toolchain.ArtifactPath(d)))
			}
		}
		nt.LinkCommand = linkCommandFor(t, nt.DepArtifacts)
		targets = append(targets, nt)
		defaults = append(defaults, nt.Artifact)
	}

	var b strings.Builder
	if err := ninjaTmpl.Execute(&b, struct {
		Targets  []ninjaTarget
		Defaults []string
	}{targets, defaults}); err != nil {
		return err
	}
	if err := renameio.WriteFile(*output, []byte(b.String()), 0644); err != nil {
		return err
	}
	log.Printf("ninja build file %s written", *output)
	return nil
}

func compileFlagsFor(t *manifest.Target) string {
	var b strings.Builder
	if t.Kind == manifest.SharedLib {
		b.WriteString(" -fPIC")
	}
	for _, dir := range t.IncludeDirs {
		b.WriteString(" -I " + filepath.ToSlash(dir))
	}
	if t.Std != 0 {
		fmt.Fprintf(&b, " -std=c++%d", t.Std)
	}
	for _, f := range append(append([]string(nil), t.Flags...), t.CompilerFlags...) {
		b.WriteString(" " + f)
	}
	return b.String()
}

func linkCommandFor(t *manifest.Target, depArtifacts []string) string {
	if t.Kind == manifest.StaticLib {
		return "ar rcs $out $in"
	}
	var b strings.Builder
	b.WriteString(t.Compiler.Command())
	if t.Kind == manifest.SharedLib {
		b.WriteString(" -shared")
	}
	b.WriteString(" $in")
	for _, dep := range depArtifacts {
		b.WriteString(" " + dep)
	}
	for _, dir := range t.LibDirs {
		b.WriteString(" -L " + filepath.ToSlash(dir))
	}
	for _, lib := range t.Libs {
		b.WriteString(" -l " + lib)
	}
	for _, f := range t.LinkerFlags {
		b.WriteString(" " + f)
	}
	b.WriteString(" -o $out")
	return b.String()
}
