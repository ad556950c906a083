package manifest

import "github.com/samber/lo"

// propagate folds every dependency's interface properties (include
// directories, libraries, flags) into its dependents, repeating full passes
// until a pass adds nothing. Inflating the targets themselves keeps the
// scheduler free of graph walks; the fixed point makes the inheritance
// transitive regardless of declaration order.
func propagate(p *Project) {
	for changed := true; changed; {
		changed = false
		for _, t := range p.Targets {
			for _, depName := range t.Deps {
				dep, ok := p.byName[depName]
				if !ok {
					continue // unknown deps are the graph builder's problem
				}
				t.IncludeDirs = mergeInto(t.IncludeDirs, dep.IncludeDirs, &changed)
				t.Libs = mergeInto(t.Libs, dep.Libs, &changed)
				t.Flags = mergeInto(t.Flags, dep.Flags, &changed)
				t.CompilerFlags = mergeInto(t.CompilerFlags, dep.CompilerFlags, &changed)
				t.LinkerFlags = mergeInto(t.LinkerFlags, dep.LinkerFlags, &changed)
			}
		}
	}
}

// mergeInto appends the entries of src missing from dst, keeping order, and
// flags whether anything was added.
func mergeInto(dst, src []string, changed *bool) []string {
	merged := lo.Uniq(append(dst, src...))
	if len(merged) != len(dst) {
		*changed = true
	}
	return merged
}
