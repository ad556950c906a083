// Package scheduler turns a build order into per-source compile jobs and
// per-target link jobs and runs them ninja-style: one global queue, a fixed
// number of identical workers, downstream targets unlocked the moment their
// dependencies complete.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/oximake/oximake"
	"github.com/oximake/oximake/internal/dag"
	"github.com/oximake/oximake/internal/manifest"
	"golang.org/x/sync/errgroup"
)

// CompileJob compiles one source file of a target.
type CompileJob struct {
	Target string
	Index  int // position in the target's source list
	Source string
	Object string
}

// LinkJob produces a target's final artifact from its objects and the
// artifacts of its already-built dependencies.
type LinkJob struct {
	Target  string
	Objects []string // original source order

	// BuiltDeps maps dependency name → artifact path for every dependency
	// in LinkOrder that linked successfully. Empty for static archives.
	BuiltDeps map[string]string

	// LinkOrder lists the transitive dependencies, later build levels first
	// (each library before the libraries it depends on), as they are passed
	// to the linker. Empty for static archives.
	LinkOrder []string
}

// Result is what a worker hands back for either job kind.
type Result struct {
	Target   string
	Index    int // source index, or -1 for a link result
	OK       bool
	Artifact string // set by a successful link
	Messages []string
}

// Runner executes jobs. The toolchain package provides the real
// implementation; tests substitute their own.
type Runner interface {
	Compile(ctx context.Context, job CompileJob) Result
	Link(ctx context.Context, job LinkJob) Result
}

// Options control one build invocation.
type Options struct {
	// Jobs is the worker count. Zero or negative means the logical CPU
	// count, capped.
	Jobs int

	// ContinueOnError keeps scheduling downstream targets after a failure,
	// like make -i. The build still reports failure.
	ContinueOnError bool

	// Out, when non-nil, receives every progress line plus the TOTAL and
	// FINISH sentinels. The channel is not closed by the scheduler.
	Out chan<- string

	// Cancel is polled between results; once true, no new jobs are
	// enqueued and in-flight jobs drain.
	Cancel *atomic.Bool
}

// Summary is the structured completion record. Counts are per target.
type Summary struct {
	Success   bool
	Total     int
	Succeeded int
	Failed    int
	Canceled  bool
}

// NumJobs normalizes a requested jobs count: non-positive values become the
// logical CPU count, capped at a sane maximum, never below 1.
func NumJobs(requested int) int {
	if requested > 0 {
		return requested
	}
	n := runtime.NumCPU()
	if n > oximake.MaxJobs {
		n = oximake.MaxJobs
	}
	if n < 1 {
		n = 1
	}
	return n
}

type job struct {
	compile *CompileJob
	link    *LinkJob
}

type coordinator struct {
	proj   *manifest.Project
	order  *dag.BuildOrder
	runner Runner
	opts   Options

	work        chan job
	outstanding int

	// objs holds the object path for every source slot of a target; the
	// paths are fixed at enqueue time, remaining counts results still due.
	objs          map[string][]string
	remaining     map[string]int
	compileFailed map[string]bool

	builtTargets     map[string]string // name → artifact, successes only
	terminal         map[string]bool   // link result (either kind) observed
	compileJobsAdded map[string]bool
	headersSent      map[string]bool
	inOrder          map[string]bool // the (possibly filtered) build set

	stopped  bool // stop producing new work (strict failure or cancel)
	canceled bool

	succeeded, failed int
}

// Build runs the project's build order to completion and returns the
// summary. It never returns an error: toolchain failures are part of the
// summary, and the caller observes details on opts.Out.
func Build(ctx context.Context, proj *manifest.Project, order *dag.BuildOrder, runner Runner, opts Options) Summary {
	workers := NumJobs(opts.Jobs)
	targets := order.Targets()

	totalJobs := len(targets)
	for _, name := range targets {
		if t, ok := proj.Target(name); ok {
			totalJobs += len(t.Sources)
		}
	}

	c := &coordinator{
		proj:             proj,
		order:            order,
		runner:           runner,
		opts:             opts,
		work:             make(chan job, totalJobs),
		objs:             make(map[string][]string),
		remaining:        make(map[string]int),
		compileFailed:    make(map[string]bool),
		builtTargets:     make(map[string]string),
		terminal:         make(map[string]bool),
		compileJobsAdded: make(map[string]bool),
		headersSent:      make(map[string]bool),
		inOrder:          make(map[string]bool, len(targets)),
	}
	for _, name := range targets {
		c.inOrder[name] = true
	}
	c.send(fmt.Sprintf("TOTAL\t%d", len(targets)))

	results := make(chan Result)
	var eg errgroup.Group
	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			for j := range c.work {
				if j.compile != nil {
					results <- runner.Compile(ctx, *j.compile)
				} else {
					results <- runner.Link(ctx, *j.link)
				}
			}
			return nil
		})
	}

	if len(order.Levels) > 0 {
		for _, name := range order.Levels[0] {
			c.startTarget(name)
		}
	}

	for c.outstanding > 0 {
		res := <-results
		c.outstanding--
		c.checkCancel(ctx)
		c.handle(res)
	}
	close(c.work)
	eg.Wait()

	total := len(targets)
	success := !c.canceled && c.failed == 0 && c.succeeded == total
	c.send(fmt.Sprintf("FINISH\t%t\t%d\t%d\t%d", success, total, c.succeeded, c.failed))
	return Summary{
		Success:   success,
		Total:     total,
		Succeeded: c.succeeded,
		Failed:    c.failed,
		Canceled:  c.canceled,
	}
}

func (c *coordinator) send(line string) {
	if c.opts.Out != nil {
		c.opts.Out <- line
	}
}

func (c *coordinator) sendTarget(name, line string) {
	c.send("[TARGET:" + name + "] " + line)
}

func (c *coordinator) checkCancel(ctx context.Context) {
	if c.canceled {
		return
	}
	if (c.opts.Cancel != nil && c.opts.Cancel.Load()) || ctx.Err() != nil {
		c.canceled = true
		c.stopped = true
		c.send("[INFO] Build canceled; waiting for in-flight jobs to finish")
	}
}

// startTarget enqueues the compile jobs of name, or its link job directly
// for source-less targets (interface libraries still produce an artifact).
func (c *coordinator) startTarget(name string) {
	if c.compileJobsAdded[name] {
		return
	}
	c.compileJobsAdded[name] = true
	t, ok := c.proj.Target(name)
	if !ok {
		return
	}
	if !c.headersSent[name] {
		c.headersSent[name] = true
		c.send(fmt.Sprintf("=== Building target %s ===", name))
	}
	if len(t.Sources) == 0 {
		c.enqueueLink(t)
		return
	}
	objs := make([]string, len(t.Sources))
	for i, src := range t.Sources {
		objs[i] = objectPath(t, src)
		c.work <- job{compile: &CompileJob{
			Target: name,
			Index:  i,
			Source: src,
			Object: objs[i],
		}}
		c.outstanding++
	}
	c.objs[name] = objs
	c.remaining[name] = len(t.Sources)
}

func (c *coordinator) enqueueLink(t *manifest.Target) {
	var linkOrder []string
	if t.Kind != manifest.StaticLib {
		linkOrder = c.order.LinkOrder(t.Name)
	}
	built := make(map[string]string, len(linkOrder))
	for _, dep := range linkOrder {
		if artifact, ok := c.builtTargets[dep]; ok {
			built[dep] = artifact
		}
	}
	c.work <- job{link: &LinkJob{
		Target:    t.Name,
		Objects:   append([]string(nil), c.objs[t.Name]...),
		BuiltDeps: built,
		LinkOrder: linkOrder,
	}}
	c.outstanding++
}

func (c *coordinator) handle(res Result) {
	for _, line := range res.Messages {
		c.sendTarget(res.Target, line)
	}
	if res.Index >= 0 {
		c.handleCompile(res)
	} else {
		c.handleLink(res)
	}
}

func (c *coordinator) handleCompile(res Result) {
	if !res.OK {
		c.compileFailed[res.Target] = true
		if !c.opts.ContinueOnError {
			c.stopped = true
		}
	}
	c.remaining[res.Target]--
	if c.remaining[res.Target] > 0 {
		return
	}
	// All compile results for this target are in.
	if c.compileFailed[res.Target] {
		c.failed++
		c.finishTarget(res.Target)
		return
	}
	if c.stopped {
		return
	}
	if t, ok := c.proj.Target(res.Target); ok {
		c.enqueueLink(t)
	}
}

func (c *coordinator) handleLink(res Result) {
	if res.OK {
		c.builtTargets[res.Target] = res.Artifact
		c.succeeded++
	} else {
		c.failed++
		if !c.opts.ContinueOnError {
			c.stopped = true
		}
	}
	c.finishTarget(res.Target)
}

// finishTarget records a terminal state and unlocks any dependent whose
// dependencies are all accounted for: all built under the strict policy, all
// merely terminal under continue-on-error.
func (c *coordinator) finishTarget(name string) {
	c.terminal[name] = true
	if c.stopped {
		return
	}
	for _, dependent := range c.order.Dependents(name) {
		// Dependents come from the full graph; a filtered build skips the
		// ones outside the closure.
		if !c.inOrder[dependent] || c.compileJobsAdded[dependent] {
			continue
		}
		if c.ready(dependent) {
			c.startTarget(dependent)
		}
	}
}

func (c *coordinator) ready(name string) bool {
	t, ok := c.proj.Target(name)
	if !ok {
		return false
	}
	for _, dep := range t.Deps {
		if dep == name {
			continue
		}
		if c.opts.ContinueOnError {
			if !c.terminal[dep] {
				return false
			}
		} else if _, ok := c.builtTargets[dep]; !ok {
			return false
		}
	}
	return true
}

func objectPath(t *manifest.Target, source string) string {
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(t.OutputDir, "obj", t.Name, stem+".o")
}
