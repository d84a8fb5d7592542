package resolver

import (
	"fmt"
	"sort"

	"hoonpm/internal/manifest"
	"hoonpm/internal/version"
)

// ResolvedPackage is one node of the resolved graph: a package pinned to an
// exact commit together with the dependency declarations discovered for it.
// Never mutated after construction.
type ResolvedPackage struct {
	Name         string
	Spec         version.Spec
	Commit       string
	SourceURL    string
	SourcePath   string   // subdir within the repo the sources came from
	InstallPath  string   // subdir to install to
	SourceFiles  []string // explicit file list, .hoon suffixes applied
	Dependencies map[string]manifest.Dependency
}

// Graph is the output of a resolution run. InstallOrder is a permutation of
// the package names placing every package after its dependencies.
type Graph struct {
	Packages     map[string]*ResolvedPackage
	InstallOrder []string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{Packages: map[string]*ResolvedPackage{}}
}

// Add inserts a package, replacing any previous node of the same name.
func (g *Graph) Add(pkg *ResolvedPackage) {
	g.Packages[pkg.Name] = pkg
}

// visit states for the topological sort.
const (
	unvisited = iota
	inProgress
	done
)

// ComputeInstallOrder topologically sorts the graph, dependencies before
// dependents. Recomputation is idempotent for an acyclic graph; a cycle
// fails deterministically, naming a package on the cycle. The traversal
// keeps an explicit stack so graph depth is not bounded by the call stack.
func (g *Graph) ComputeInstallOrder() error {
	names := make([]string, 0, len(g.Packages))
	for name := range g.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))

	type frame struct {
		name string
		deps []string
		next int
	}

	for _, root := range names {
		if state[root] != unvisited {
			continue
		}
		state[root] = inProgress
		stack := []frame{{name: root, deps: g.depsInGraph(root)}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.deps) {
				dep := top.deps[top.next]
				top.next++
				switch state[dep] {
				case inProgress:
					return fmt.Errorf("RES_CYCLE: circular dependency detected involving package %q", dep)
				case unvisited:
					state[dep] = inProgress
					stack = append(stack, frame{name: dep, deps: g.depsInGraph(dep)})
				}
				continue
			}
			state[top.name] = done
			order = append(order, top.name)
			stack = stack[:len(stack)-1]
		}
	}

	g.InstallOrder = order
	return nil
}

// depsInGraph returns the package's dependency names that resolved into the
// graph, sorted for a deterministic traversal.
func (g *Graph) depsInGraph(name string) []string {
	pkg, ok := g.Packages[name]
	if !ok {
		return nil
	}
	deps := make([]string, 0, len(pkg.Dependencies))
	for dep := range pkg.Dependencies {
		if _, present := g.Packages[dep]; present {
			deps = append(deps, dep)
		}
	}
	sort.Strings(deps)
	return deps
}
