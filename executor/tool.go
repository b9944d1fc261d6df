package executor

import (
	"time"

	"github.com/code-cortex/codemirror/models"
)

// Tool describes one external analysis tool's invocation contract. The
// tool's internal algorithm is opaque; only the command line and the kind
// of output it emits matter here.
type Tool interface {
	// Name returns the binary name (e.g. "semgrep", "comby").
	Name() string

	// Kind returns which analyzer consumes this tool's output.
	Kind() models.AnalysisKind

	// Command builds the argument list for analyzing the given repository
	// path. The binary name itself is not included.
	Command(repoPath string) []string

	// Timeout returns the hard deadline for one invocation. Zero means use
	// the executor default.
	Timeout() time.Duration
}

// Registry manages the available tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, replacing any previous tool with
// the same name.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ForKind returns the registered tool serving the given analysis kind.
func (r *Registry) ForKind(kind models.AnalysisKind) (Tool, bool) {
	for _, t := range r.tools {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
