// Package registry is the configuration-time surface: it wires aggregate
// repositories, eagerly instantiates projections and read-model
// projections, and installs middleware, binding everything to one
// EventStore and one projection.Manager.
package registry

import (
	"github.com/go-eventry/eventry/aggregate"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/projection"
)

// AggregateBinding registers a repository for one aggregate type.
type AggregateBinding struct {
	StreamName string
	Factory    func() aggregate.Root
}

// ProjectionBinding eagerly instantiates a Projector and runs Build against
// it to complete the build-phase contract (Init/FromX/When).
type ProjectionBinding struct {
	Name  string
	Build func(p *projection.Projector) error
}

// ReadModelProjectionBinding is the ReadModelProjector equivalent of
// ProjectionBinding.
type ReadModelProjectionBinding struct {
	Name      string
	ReadModel projection.ReadModel
	Build     func(p *projection.ReadModelProjector) error
}

// MiddlewareBinding registers one handler under one event action. Exactly
// one of PreAppend/Observer/Loaded should be set, matching Action.
type MiddlewareBinding struct {
	Action    eventstore.Action
	PreAppend eventstore.PreAppendHandler
	Observer  eventstore.ObserverHandler
	Loaded    eventstore.LoadedHandler
}

// Options is the full configuration-time surface.
type Options struct {
	Aggregates           []AggregateBinding
	Projections          []ProjectionBinding
	ReadModelProjections []ReadModelProjectionBinding
	Middleware           []MiddlewareBinding
}

// Registry holds the repositories and projectors built from Options,
// keyed for later retrieval by application code.
type Registry struct {
	repositories        map[string]*aggregate.Repository
	projectors          map[string]*projection.Projector
	readModelProjectors map[string]*projection.ReadModelProjector
}

// New applies opts against store and manager, registering middleware first
// (so it observes every subsequent append/load), then building repositories
// and eagerly instantiating projections.
func New(store *eventstore.EventStore, manager *projection.Manager, opts Options) (*Registry, error) {
	for _, m := range opts.Middleware {
		switch m.Action {
		case eventstore.ActionPreAppend:
			store.RegisterPreAppend(m.PreAppend)
		case eventstore.ActionAppended:
			store.RegisterAppended(m.Observer)
		case eventstore.ActionAppendErrored:
			store.RegisterAppendErrored(m.Observer)
		case eventstore.ActionLoaded:
			store.RegisterLoaded(m.Loaded)
		}
	}

	r := &Registry{
		repositories:        make(map[string]*aggregate.Repository, len(opts.Aggregates)),
		projectors:          make(map[string]*projection.Projector, len(opts.Projections)),
		readModelProjectors: make(map[string]*projection.ReadModelProjector, len(opts.ReadModelProjections)),
	}

	for _, a := range opts.Aggregates {
		r.repositories[a.StreamName] = aggregate.NewRepository(store, a.StreamName, a.Factory)
	}

	for _, p := range opts.Projections {
		proj := manager.CreateProjector(p.Name)
		if err := p.Build(proj); err != nil {
			return nil, err
		}
		r.projectors[p.Name] = proj
	}

	for _, rp := range opts.ReadModelProjections {
		proj := manager.CreateReadModelProjector(rp.Name, rp.ReadModel)
		if err := rp.Build(proj); err != nil {
			return nil, err
		}
		r.readModelProjectors[rp.Name] = proj
	}

	return r, nil
}

// Repository returns the repository registered for streamName.
func (r *Registry) Repository(streamName string) (*aggregate.Repository, bool) {
	repo, ok := r.repositories[streamName]
	return repo, ok
}

// Projector returns the eagerly-built projector registered under name.
func (r *Registry) Projector(name string) (*projection.Projector, bool) {
	p, ok := r.projectors[name]
	return p, ok
}

// ReadModelProjector returns the eagerly-built read-model projector
// registered under name.
func (r *Registry) ReadModelProjector(name string) (*projection.ReadModelProjector, bool) {
	p, ok := r.readModelProjectors[name]
	return p, ok
}
