// Package module defines the registry of cluster tools.
package module

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

// Module is the interface that all tools must implement.
type Module interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description is a one-line summary shown by the tools command.
	Description() string

	// Run executes the tool with the given parameters.
	// The returned error is only ever a validation or configuration error
	// raised before anything is sent; transport failures are reported in
	// the result with Success set to false.
	Run(ctx context.Context, exec *executor.Executor, params map[string]any) (*result.Result, error)
}

// registry holds all registered modules.
var (
	registry   = make(map[string]Module)
	registryMu sync.RWMutex
)

// Register adds a module to the registry.
// It panics if a module with the same name is already registered.
func Register(m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := m.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("module %q is already registered", name))
	}
	registry[name] = m
}

// Get retrieves a module from the registry by name.
// Returns nil if the module is not found.
func Get(name string) Module {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// List returns the names of all registered modules, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
