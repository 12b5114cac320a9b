// Package registry is the gateway-facing view onto the shared worker-kind
// table (§4.8): it answers the questions the API layer needs when accepting
// a new run or rendering the worker picker, without handing API handlers
// the runner-only argv-shaping details.
package registry

import (
	sharedregistry "github.com/orcabay/control-plane/shared/registry"
)

// WorkerKind describes one registered worker kind for API consumption.
type WorkerKind struct {
	Kind                   string `json:"kind"`
	SupportsModelSelection bool   `json:"supportsModelSelection"`
	DefaultModel           string `json:"defaultModel,omitempty"`
	ExecutesCommands       bool   `json:"executesCommands"`
}

// Valid reports whether kind names a registered worker.
func Valid(kind string) bool {
	return sharedregistry.Valid(kind)
}

// ResolveModel returns the model to record for a run: the caller-supplied
// model if non-empty, otherwise the worker kind's default.
func ResolveModel(kind, model string) string {
	if model != "" {
		return model
	}
	d, err := sharedregistry.Lookup(sharedregistry.Kind(kind))
	if err != nil {
		return ""
	}
	return d.DefaultModel
}

// List returns every registered worker kind, for the run-creation form and
// API documentation.
func List() []WorkerKind {
	kinds := sharedregistry.Kinds()
	out := make([]WorkerKind, 0, len(kinds))
	for _, k := range kinds {
		d, err := sharedregistry.Lookup(k)
		if err != nil {
			continue
		}
		out = append(out, WorkerKind{
			Kind:                   string(k),
			SupportsModelSelection: d.SupportsModelSelection,
			DefaultModel:           d.DefaultModel,
			ExecutesCommands:       k.ExecutesCommands(),
		})
	}
	return out
}
