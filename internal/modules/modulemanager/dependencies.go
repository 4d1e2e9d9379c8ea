// Package modulemanager provides module dependency management and initialization ordering
package modulemanager

import (
	"fmt"
	"sort"

	"github.com/mantonx/cadenza/internal/logger"
)

// DependencyProvider is an optional interface for modules that declare dependencies
type DependencyProvider interface {
	// Dependencies returns the list of module IDs this module depends on
	Dependencies() []string
}

// ModuleDependencyGraph represents the dependency relationships between modules
type ModuleDependencyGraph struct {
	nodes map[string]*DependencyNode
}

// DependencyNode represents a module in the dependency graph
type DependencyNode struct {
	ModuleID     string
	Module       Module
	Dependencies []string // Module IDs this module depends on
	Dependents   []string // Module IDs that depend on this module
	Visited      bool     // For cycle detection
	InStack      bool     // For cycle detection
	InitOrder    int      // Order in which to initialize (lower = earlier)
}

// BuildDependencyGraph creates a dependency graph from registered modules
func BuildDependencyGraph(modules map[string]Module) (*ModuleDependencyGraph, error) {
	graph := &ModuleDependencyGraph{
		nodes: make(map[string]*DependencyNode),
	}

	for id, module := range modules {
		node := &DependencyNode{
			ModuleID:     id,
			Module:       module,
			Dependencies: []string{},
			Dependents:   []string{},
		}
		if depProvider, ok := module.(DependencyProvider); ok {
			node.Dependencies = depProvider.Dependencies()
		}
		graph.nodes[id] = node
	}

	// Build dependents lists
	for id, node := range graph.nodes {
		for _, depID := range node.Dependencies {
			if depNode, exists := graph.nodes[depID]; exists {
				depNode.Dependents = append(depNode.Dependents, id)
			} else {
				return nil, fmt.Errorf("module %s depends on non-existent module %s", id, depID)
			}
		}
	}

	if err := graph.detectCycles(); err != nil {
		return nil, err
	}

	return graph, nil
}

// detectCycles uses DFS to detect dependency cycles
func (g *ModuleDependencyGraph) detectCycles() error {
	for id, node := range g.nodes {
		if !node.Visited {
			if err := g.detectCyclesDFS(id, []string{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectCyclesDFS performs depth-first search for cycle detection
func (g *ModuleDependencyGraph) detectCyclesDFS(nodeID string, path []string) error {
	node := g.nodes[nodeID]
	node.Visited = true
	node.InStack = true
	path = append(path, nodeID)

	for _, depID := range node.Dependencies {
		depNode := g.nodes[depID]
		if !depNode.Visited {
			if err := g.detectCyclesDFS(depID, path); err != nil {
				return err
			}
		} else if depNode.InStack {
			cycleStart := -1
			for i, id := range path {
				if id == depID {
					cycleStart = i
					break
				}
			}
			if cycleStart >= 0 {
				cyclePath := append(path[cycleStart:], depID)
				return fmt.Errorf("circular dependency detected: %v", cyclePath)
			}
		}
	}

	node.InStack = false
	return nil
}

// GetInitializationOrder returns modules in the order they should be initialized
func (g *ModuleDependencyGraph) GetInitializationOrder() ([]Module, error) {
	order := make([]Module, 0, len(g.nodes))
	visited := make(map[string]bool)

	var visit func(string) error
	visit = func(nodeID string) error {
		if visited[nodeID] {
			return nil
		}

		node := g.nodes[nodeID]

		// Visit dependencies first
		for _, depID := range node.Dependencies {
			if err := visit(depID); err != nil {
				return err
			}
		}

		visited[nodeID] = true
		order = append(order, node.Module)
		node.InitOrder = len(order)

		return nil
	}

	// Start with nodes that have no dependencies
	for id, node := range g.nodes {
		if len(node.Dependencies) == 0 {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}

	// Visit any remaining nodes (in case of disconnected components)
	for id := range g.nodes {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// PrintDependencyInfo logs dependency information for debugging
func (g *ModuleDependencyGraph) PrintDependencyInfo() {
	logger.Debug("Module Dependency Information:")

	var moduleIDs []string
	for id := range g.nodes {
		moduleIDs = append(moduleIDs, id)
	}
	sort.Strings(moduleIDs)

	for _, id := range moduleIDs {
		node := g.nodes[id]
		logger.Debug("Module: %s", node.Module.Name())
		if len(node.Dependencies) > 0 {
			logger.Debug("  Dependencies: %v", node.Dependencies)
		}
		if node.InitOrder > 0 {
			logger.Debug("  Init Order: %d", node.InitOrder)
		}
	}
}

// GetModuleDependencies returns the dependencies for a specific module
func (g *ModuleDependencyGraph) GetModuleDependencies(moduleID string) ([]string, error) {
	node, exists := g.nodes[moduleID]
	if !exists {
		return nil, fmt.Errorf("module %s not found", moduleID)
	}
	return node.Dependencies, nil
}

// GetModuleDependents returns the modules that depend on a specific module
func (g *ModuleDependencyGraph) GetModuleDependents(moduleID string) ([]string, error) {
	node, exists := g.nodes[moduleID]
	if !exists {
		return nil, fmt.Errorf("module %s not found", moduleID)
	}
	return node.Dependents, nil
}
