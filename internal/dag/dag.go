// Package dag derives a level-partitioned build order from a loaded project.
// Targets in one level only depend on earlier levels, so everything within a
// level may build in parallel.
package dag

import (
	"sort"
	"strings"

	"github.com/oximake/oximake/internal/manifest"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
)

type node struct {
	id   int64
	name string
}

func (n *node) ID() int64 { return n.id }

// BuildOrder is the scheduling plan: levels of target names, each level's
// dependencies fully contained in earlier levels. Names within a level are
// sorted for determinism.
type BuildOrder struct {
	Levels [][]string

	g      *simple.DirectedGraph
	byName map[string]*node
	level  map[string]int
}

// Build validates the dependency relation of p and partitions it into Kahn
// levels. Unknown dependency names and cycles are errors.
func Build(p *manifest.Project) (*BuildOrder, error) {
	for _, t := range p.Targets {
		for _, dep := range t.Deps {
			if _, ok := p.Target(dep); !ok {
				return nil, xerrors.Errorf("target %q depends on unknown target %q (defined targets: %s)",
					t.Name, dep, strings.Join(p.Names(), ", "))
			}
		}
	}

	// Edges point target → dependency, like the package graph in a batch
	// build: From(n) are n's dependencies, To(n) its dependents.
	g := simple.NewDirectedGraph()
	byName := make(map[string]*node, len(p.Targets))
	for idx, t := range p.Targets {
		n := &node{id: int64(idx), name: t.Name}
		byName[t.Name] = n
		g.AddNode(n)
	}
	for _, t := range p.Targets {
		for _, dep := range t.Deps {
			if dep == t.Name {
				continue // self edges would only manufacture a cycle
			}
			g.SetEdge(g.NewEdge(byName[t.Name], byName[dep]))
		}
	}

	indegree := make(map[string]int, len(p.Targets))
	var queue []string
	for _, t := range p.Targets {
		indegree[t.Name] = g.From(byName[t.Name].ID()).Len()
		if indegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}

	order := &BuildOrder{
		g:      g,
		byName: byName,
		level:  make(map[string]int, len(p.Targets)),
	}
	emitted := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		level := queue
		queue = nil
		for _, name := range level {
			order.level[name] = len(order.Levels)
			emitted++
			for to := g.To(byName[name].ID()); to.Next(); {
				dependent := to.Node().(*node).name
				indegree[dependent]--
				if indegree[dependent] == 0 {
					queue = append(queue, dependent)
				}
			}
		}
		order.Levels = append(order.Levels, level)
	}

	if emitted < len(p.Targets) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, xerrors.Errorf("cyclic dependency between targets: %s", strings.Join(cyclic, ", "))
	}
	return order, nil
}

// LinkOrder returns the transitively reachable dependencies of name in
// reverse topological order (later levels first), which is the order their
// artifacts are handed to the linker. Static archives do not re-link their
// inputs, so callers skip this for them.
func (o *BuildOrder) LinkOrder(name string) []string {
	start, ok := o.byName[name]
	if !ok {
		return nil
	}
	closure := make(map[string]bool)
	var walk func(n *node)
	walk = func(n *node) {
		for from := o.g.From(n.ID()); from.Next(); {
			dep := from.Node().(*node)
			if closure[dep.name] {
				continue
			}
			closure[dep.name] = true
			walk(dep)
		}
	}
	walk(start)

	deps := make([]string, 0, len(closure))
	for dep := range closure {
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool {
		li, lj := o.level[deps[i]], o.level[deps[j]]
		if li != lj {
			return li > lj // later levels first
		}
		return deps[i] < deps[j]
	})
	return deps
}

// Deps returns the direct dependencies of name.
func (o *BuildOrder) Deps(name string) []string {
	n, ok := o.byName[name]
	if !ok {
		return nil
	}
	var deps []string
	for from := o.g.From(n.ID()); from.Next(); {
		deps = append(deps, from.Node().(*node).name)
	}
	sort.Strings(deps)
	return deps
}

// Dependents returns the direct dependents of name.
func (o *BuildOrder) Dependents(name string) []string {
	n, ok := o.byName[name]
	if !ok {
		return nil
	}
	var deps []string
	for to := o.g.To(n.ID()); to.Next(); {
		deps = append(deps, to.Node().(*node).name)
	}
	sort.Strings(deps)
	return deps
}

// Filter reduces the order to the dependency closure of names, dropping
// levels that end up empty. An empty names list means "build everything".
func (o *BuildOrder) Filter(names []string) *BuildOrder {
	if len(names) == 0 {
		return o
	}
	keep := make(map[string]bool)
	var walk func(name string)
	walk = func(name string) {
		if keep[name] {
			return
		}
		keep[name] = true
		n, ok := o.byName[name]
		if !ok {
			return
		}
		for from := o.g.From(n.ID()); from.Next(); {
			walk(from.Node().(*node).name)
		}
	}
	for _, name := range names {
		walk(name)
	}

	filtered := &BuildOrder{
		g:      o.g,
		byName: o.byName,
		level:  make(map[string]int, len(keep)),
	}
	for _, level := range o.Levels {
		var kept []string
		for _, name := range level {
			if keep[name] {
				kept = append(kept, name)
			}
		}
		if len(kept) == 0 {
			continue
		}
		for _, name := range kept {
			filtered.level[name] = len(filtered.Levels)
		}
		filtered.Levels = append(filtered.Levels, kept)
	}
	return filtered
}

// Targets returns every target name in the order, level by level.
func (o *BuildOrder) Targets() []string {
	var names []string
	for _, level := range o.Levels {
		names = append(names, level...)
	}
	return names
}
