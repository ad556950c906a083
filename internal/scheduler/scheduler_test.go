package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oximake/oximake/internal/dag"
	"github.com/oximake/oximake/internal/manifest"
)

// fakeRunner records job execution order and simulates failures without
// spawning a toolchain.
type fakeRunner struct {
	mu     sync.Mutex
	events []string

	failCompile map[string]bool // target → compile jobs fail
	failLink    map[string]bool
	delay       time.Duration
}

func (f *fakeRunner) record(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeRunner) Compile(ctx context.Context, job CompileJob) Result {
	f.record(fmt.Sprintf("compile:%s/%d", job.Target, job.Index))
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failCompile[job.Target] {
		return Result{Target: job.Target, Index: job.Index, Messages: []string{"[ERROR] boom"}}
	}
	return Result{Target: job.Target, Index: job.Index, OK: true}
}

func (f *fakeRunner) Link(ctx context.Context, job LinkJob) Result {
	f.record("link:" + job.Target)
	if f.failLink[job.Target] {
		return Result{Target: job.Target, Index: -1, Messages: []string{"[ERROR] boom"}}
	}
	// Like the real linker, fail when a dependency artifact never arrived.
	for _, dep := range job.LinkOrder {
		if _, ok := job.BuiltDeps[dep]; !ok {
			return Result{Target: job.Target, Index: -1,
				Messages: []string{"[ERROR] missing artifact of " + dep}}
		}
	}
	return Result{Target: job.Target, Index: -1, OK: true, Artifact: "/fake/" + job.Target}
}

func (f *fakeRunner) eventIndex(t *testing.T, ev string) int {
	t.Helper()
	for i, e := range f.events {
		if e == ev {
			return i
		}
	}
	return -1
}

func (f *fakeRunner) ran(ev string) bool {
	for _, e := range f.events {
		if e == ev {
			return true
		}
	}
	return false
}

// loadFixture writes a manifest plus the source files its targets name and
// loads it.
func loadFixture(t *testing.T, content string, sources ...string) (*manifest.Project, *dag.BuildOrder) {
	t.Helper()
	dir := t.TempDir()
	for _, src := range sources {
		path := filepath.Join(dir, filepath.FromSlash(src))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, "build.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	order, err := dag.Build(p)
	if err != nil {
		t.Fatalf("dag.Build: %v", err)
	}
	return p, order
}

const chainManifest = `
[project]
name = "chain"
version = "0.1.0"

[[target]]
name = "A"
type = "static_lib"
sources = ["a.cpp"]

[[target]]
name = "B"
type = "static_lib"
sources = ["b.cpp"]
deps = ["A"]

[[target]]
name = "C"
sources = ["c.cpp"]
deps = ["B"]
`

const fanManifest = `
[project]
name = "fan"
version = "0.1.0"

[[target]]
name = "A"
type = "static_lib"
sources = ["a.cpp"]

[[target]]
name = "B"
type = "static_lib"
sources = ["b.cpp"]

[[target]]
name = "C"
sources = ["c.cpp"]
deps = ["A", "B"]
`

func TestChainBuildsInDependencyOrder(t *testing.T) {
	proj, order := loadFixture(t, chainManifest, "a.cpp", "b.cpp", "c.cpp")
	f := &fakeRunner{}
	sum := Build(context.Background(), proj, order, f, Options{Jobs: 2})
	if !sum.Success || sum.Succeeded != 3 || sum.Failed != 0 {
		t.Fatalf("summary: %+v", sum)
	}
	for _, pair := range [][2]string{
		{"link:A", "compile:B/0"},
		{"link:B", "compile:C/0"},
		{"compile:A/0", "link:A"},
	} {
		before, after := f.eventIndex(t, pair[0]), f.eventIndex(t, pair[1])
		if before < 0 || after < 0 || before > after {
			t.Errorf("%s must precede %s; events: %v", pair[0], pair[1], f.events)
		}
	}
}

func TestFanOutUnlocksAfterBothLinks(t *testing.T) {
	proj, order := loadFixture(t, fanManifest, "a.cpp", "b.cpp", "c.cpp")
	f := &fakeRunner{}
	sum := Build(context.Background(), proj, order, f, Options{Jobs: 2})
	if !sum.Success {
		t.Fatalf("summary: %+v", sum)
	}
	cIdx := f.eventIndex(t, "compile:C/0")
	for _, dep := range []string{"link:A", "link:B"} {
		if idx := f.eventIndex(t, dep); idx < 0 || idx > cIdx {
			t.Errorf("%s did not precede C's compile; events: %v", dep, f.events)
		}
	}
}

func TestOutboundSentinels(t *testing.T) {
	proj, order := loadFixture(t, fanManifest, "a.cpp", "b.cpp", "c.cpp")
	out := make(chan string, 128)
	sum := Build(context.Background(), proj, order, &fakeRunner{}, Options{Jobs: 2, Out: out})
	close(out)
	var lines []string
	for line := range out {
		lines = append(lines, line)
	}
	if !sum.Success {
		t.Fatalf("summary: %+v", sum)
	}
	if got, want := lines[0], "TOTAL\t3"; got != want {
		t.Errorf("first line: got %q, want %q", got, want)
	}
	if got, want := lines[len(lines)-1], "FINISH\ttrue\t3\t3\t0"; got != want {
		t.Errorf("last line: got %q, want %q", got, want)
	}
	headers := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "=== Building target ") {
			headers++
		}
	}
	if headers != 3 {
		t.Errorf("expected one header per target, got %d in %v", headers, lines)
	}
}

func TestMessagePrefix(t *testing.T) {
	proj, order := loadFixture(t, chainManifest, "a.cpp", "b.cpp", "c.cpp")
	f := &fakeRunner{failCompile: map[string]bool{"A": true}}
	out := make(chan string, 128)
	Build(context.Background(), proj, order, f, Options{Jobs: 1, Out: out})
	close(out)
	found := false
	for line := range out {
		if strings.HasPrefix(line, "[TARGET:A] ") {
			found = true
		}
	}
	if !found {
		t.Error("job messages were not prefixed with the originating target")
	}
}

func TestStrictFailureBlocksDownstream(t *testing.T) {
	proj, order := loadFixture(t, chainManifest, "a.cpp", "b.cpp", "c.cpp")
	f := &fakeRunner{failCompile: map[string]bool{"B": true}}
	sum := Build(context.Background(), proj, order, f, Options{Jobs: 2})
	if sum.Success {
		t.Fatal("build reported success despite failure")
	}
	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Errorf("summary: %+v, want 1 succeeded (A) and 1 failed (B)", sum)
	}
	if f.ran("compile:C/0") || f.ran("link:C") {
		t.Errorf("downstream target C was scheduled after B failed: %v", f.events)
	}
}

func TestContinueOnError(t *testing.T) {
	proj, order := loadFixture(t, fanManifest, "a.cpp", "b.cpp", "c.cpp")
	f := &fakeRunner{failCompile: map[string]bool{"A": true}}
	sum := Build(context.Background(), proj, order, f, Options{Jobs: 2, ContinueOnError: true})
	if sum.Success {
		t.Fatal("build reported success despite failure")
	}
	// A fails to compile, B builds, C is still attempted and fails at link
	// because A's artifact is missing.
	if sum.Total != 3 || sum.Succeeded != 1 || sum.Failed != 2 {
		t.Errorf("summary: %+v, want total=3 ok=1 failed=2", sum)
	}
	if !f.ran("link:B") {
		t.Errorf("B was not built: %v", f.events)
	}
	if !f.ran("link:C") {
		t.Errorf("C was not attempted: %v", f.events)
	}
}

func TestCancellation(t *testing.T) {
	proj, order := loadFixture(t, fanManifest, "a.cpp", "b.cpp", "c.cpp")
	var cancel atomic.Bool
	cancel.Store(true)
	f := &fakeRunner{delay: 5 * time.Millisecond}
	sum := Build(context.Background(), proj, order, f, Options{Jobs: 2, Cancel: &cancel})
	if sum.Success || !sum.Canceled {
		t.Fatalf("summary: %+v, want canceled failure", sum)
	}
	if f.ran("compile:C/0") {
		t.Errorf("new work enqueued after cancellation: %v", f.events)
	}
}

func TestEmptyProject(t *testing.T) {
	proj, order := loadFixture(t, `
[project]
name = "empty"
version = "0.1.0"
`)
	out := make(chan string, 16)
	sum := Build(context.Background(), proj, order, &fakeRunner{}, Options{Jobs: 1, Out: out})
	close(out)
	if !sum.Success || sum.Total != 0 {
		t.Fatalf("summary: %+v, want success with total=0", sum)
	}
	var lines []string
	for line := range out {
		lines = append(lines, line)
	}
	want := []string{"TOTAL\t0", "FINISH\ttrue\t0\t0\t0"}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Errorf("lines: got %v, want %v", lines, want)
	}
}

func TestZeroSourceTargetStillLinks(t *testing.T) {
	proj, order := loadFixture(t, `
[project]
name = "iface"
version = "0.1.0"

[[target]]
name = "headeronly"
type = "static_lib"
`)
	f := &fakeRunner{}
	sum := Build(context.Background(), proj, order, f, Options{Jobs: 1})
	if !sum.Success || sum.Succeeded != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if !f.ran("link:headeronly") {
		t.Errorf("link job did not run for the source-less target: %v", f.events)
	}
}

func TestObjectPathLayout(t *testing.T) {
	proj, _ := loadFixture(t, chainManifest, "a.cpp", "b.cpp", "c.cpp")
	tgt, _ := proj.Target("A")
	got := objectPath(tgt, tgt.Sources[0])
	want := filepath.Join(tgt.OutputDir, "obj", "A", "a.o")
	if got != want {
		t.Errorf("object path: got %s, want %s", got, want)
	}
}

func TestFilteredBuildSkipsOutsiders(t *testing.T) {
	proj, order := loadFixture(t, fanManifest, "a.cpp", "b.cpp", "c.cpp")
	f := &fakeRunner{}
	sum := Build(context.Background(), proj, order.Filter([]string{"A"}), f, Options{Jobs: 1})
	if !sum.Success || sum.Total != 1 {
		t.Fatalf("summary: %+v, want total=1", sum)
	}
	if f.ran("compile:B/0") || f.ran("compile:C/0") {
		t.Errorf("filtered build touched targets outside the closure: %v", f.events)
	}
}
