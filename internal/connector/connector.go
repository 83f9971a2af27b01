// Package connector defines the interface for executing commands on target systems.
package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result holds the output from command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Connector is the interface for connecting to and executing commands on targets.
type Connector interface {
	// Connect establishes a connection to the target.
	Connect(ctx context.Context) error

	// Execute runs a command on the target and returns the result.
	// Output is captured, never streamed to the local terminal.
	Execute(ctx context.Context, cmd string) (*Result, error)

	// Close terminates the connection.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}

// Factory builds an unconnected Connector for a target such as "user@host:port".
type Factory func(target string) (Connector, error)

// registry holds all registered connector factories.
var (
	registry   = make(map[string]Factory)
	registryMu sync.RWMutex
)

// Register makes a connector factory available under name.
// It panics if a factory with the same name is already registered.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if f == nil {
		panic(fmt.Sprintf("connector %q registered with nil factory", name))
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("connector %q is already registered", name))
	}
	registry[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List returns the sorted names of all registered connectors.
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
