package orchestrators

import (
	"fmt"
	"strings"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

// CycleError reports that the requested manifests depend on each other in
// a loop, so no build order exists.
type CycleError struct {
	// Cycle lists enough pkgbases to identify the loop.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// depGraph is a directed graph over pkgbases. An edge from A to B means A
// must build before B.
type depGraph struct {
	adjacency map[string][]string
	nodes     []string
	nodeSet   map[string]bool
}

func newDepGraph() *depGraph {
	return &depGraph{
		adjacency: make(map[string][]string),
		nodeSet:   make(map[string]bool),
	}
}

func (g *depGraph) addNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

func (g *depGraph) addEdge(from, to string) {
	g.addNode(from)
	g.addNode(to)
	g.adjacency[from] = append(g.adjacency[from], to)
}

// sort orders the nodes with Kahn's algorithm. Nodes at the same depth
// keep their insertion order, so the result is deterministic for a given
// input order.
func (g *depGraph) sort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = 0
	}
	for _, neighbors := range g.adjacency {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, neighbor := range g.adjacency[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.nodes) {
		var cycle []string
		for _, node := range g.nodes {
			if inDegree[node] > 0 {
				cycle = append(cycle, node)
			}
		}
		return nil, &CycleError{Cycle: cycle}
	}

	return result, nil
}

// ResolveBuildOrder orders the manifests so that every package builds
// after the packages it depends on, considering depends, makedepends and
// checkdepends against the member names and provides of the set.
// Dependencies outside the set are assumed installed and ignored.
func ResolveBuildOrder(pkgs []*entities.Package) ([]*entities.Package, error) {
	byBase := make(map[string]*entities.Package, len(pkgs))
	providers := make(map[string]string)
	for _, pkg := range pkgs {
		if prev, dup := byBase[pkg.Base]; dup && prev != pkg {
			return nil, fmt.Errorf("pkgbase %s appears more than once in the build set", pkg.Base)
		}
		byBase[pkg.Base] = pkg
		for _, name := range pkg.Names {
			providers[name] = pkg.Base
			view, err := pkg.Resolve(name)
			if err != nil {
				return nil, err
			}
			for _, prov := range view.Provides {
				if _, taken := providers[prov.Name]; !taken {
					providers[prov.Name] = pkg.Base
				}
			}
		}
	}

	graph := newDepGraph()
	for _, pkg := range pkgs {
		graph.addNode(pkg.Base)
		for _, dep := range buildSetDependencies(pkg) {
			provider, inSet := providers[dep.Name]
			if !inSet || provider == pkg.Base {
				continue
			}
			graph.addEdge(provider, pkg.Base)
		}
	}

	order, err := graph.sort()
	if err != nil {
		return nil, err
	}

	ordered := make([]*entities.Package, 0, len(order))
	for _, base := range order {
		ordered = append(ordered, byBase[base])
	}
	return ordered, nil
}

// buildSetDependencies gathers every dependency that must exist before
// the manifest can build: the base arrays plus per-member overrides.
func buildSetDependencies(pkg *entities.Package) []entities.Dependency {
	deps := pkg.AllDependencies()
	for _, override := range pkg.Overrides {
		if override == nil {
			continue
		}
		deps = append(deps, override.Depends...)
	}
	return deps
}
