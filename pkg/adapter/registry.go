package adapter

import "fmt"

// Factory builds an Adapter instance from its generic Config plus the
// section's own typed options (opaque here; concrete factories close over
// the option type they expect).
type Factory func(cfg Config, options map[string]interface{}) (Adapter, error)

// Registry resolves a config section's class= string to a Factory,
// grounded in the teacher's manager command-dispatch-by-kind shape
// (pkg/manager/fsm.go), generalised from Raft-applied commands to
// class-keyed adapter construction (spec.md §9 "Dynamic adapter/executor
// dispatch").
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates class with factory. Re-registering a class
// overwrites the previous factory.
func (r *Registry) Register(class string, factory Factory) {
	r.factories[class] = factory
}

// Build constructs an Adapter for class using cfg/options.
func (r *Registry) Build(class string, cfg Config, options map[string]interface{}) (Adapter, error) {
	factory, ok := r.factories[class]
	if !ok {
		return nil, fmt.Errorf("adapter: unknown class %q", class)
	}
	return factory(cfg, options)
}

// DefaultRegistry returns a Registry pre-populated with the reference
// adapters (null, download, checksum, delete).
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("null", func(cfg Config, _ map[string]interface{}) (Adapter, error) {
		return NewNull(cfg), nil
	})

	r.Register("checksum", func(cfg Config, _ map[string]interface{}) (Adapter, error) {
		return NewChecksum(cfg), nil
	})

	r.Register("download", func(cfg Config, options map[string]interface{}) (Adapter, error) {
		opts := DownloadOptions{CheckHash: true}
		if v, ok := options["destination"].(string); ok {
			opts.Destination = v
		}
		if v, ok := options["check_hash"].(bool); ok {
			opts.CheckHash = v
		}
		return NewDownload(cfg, opts), nil
	})

	r.Register("delete", func(cfg Config, options map[string]interface{}) (Adapter, error) {
		opts := DeleteOptions{}
		if v, ok := options["instance_max"].(int); ok {
			opts.InstanceMax = v
		}
		return NewDelete(cfg, opts), nil
	})

	return r
}
