package rig

import (
	"fmt"
	"slices"
	"sync"

	"github.com/OCAP2/rigstream/internal/physics"
)

// Blueprint is everything needed to build the rig of one skeleton.
type Blueprint struct {
	Skeleton Skeleton
	Poses    []Pose
	Options  Options
	Kind     Kind
	// Biped overrides the default biped tuning.
	Biped *BipedConfig
}

// Registry keeps exactly one rig per skeleton name. Rigs are built on first
// access from their registered blueprint.
type Registry struct {
	engine physics.Engine
	rand   Rand

	mu         sync.Mutex
	blueprints map[string]Blueprint
	rigs       map[string]*Rig
	order      []string
}

// NewRegistry creates a registry building rigs into engine.
func NewRegistry(engine physics.Engine, rnd Rand) *Registry {
	return &Registry{
		engine:     engine,
		rand:       rnd,
		blueprints: make(map[string]Blueprint),
		rigs:       make(map[string]*Rig),
	}
}

// Register stores a blueprint. A rig already built for the skeleton is
// destroyed so the next access rebuilds it.
func (g *Registry) Register(bp Blueprint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := bp.Skeleton.Name
	g.blueprints[name] = bp
	g.removeLocked(name)
}

// Get returns an already built rig.
func (g *Registry) Get(name string) (*Rig, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rigs[name]
	return r, ok
}

// GetOrBuild returns the rig of a skeleton, building it on first access.
// A failed build registers nothing.
func (g *Registry) GetOrBuild(name string) (*Rig, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rigs[name]; ok {
		return r, nil
	}
	bp, ok := g.blueprints[name]
	if !ok {
		return nil, fmt.Errorf("no skeleton named %q", name)
	}
	var strategy GaitStrategy
	if bp.Kind == KindBiped && bp.Biped != nil {
		strategy = NewBiped(*bp.Biped)
	} else {
		var err error
		if strategy, err = NewStrategy(bp.Kind); err != nil {
			return nil, err
		}
	}
	r, err := Build(g.engine, bp.Skeleton, bp.Poses, bp.Options, strategy, g.rand)
	if err != nil {
		return nil, err
	}
	g.rigs[name] = r
	g.order = append(g.order, name)
	return r, nil
}

// Remove destroys the rig of a skeleton. The blueprint stays registered.
func (g *Registry) Remove(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(name)
}

// Unregister destroys the rig of a skeleton and forgets its blueprint.
func (g *Registry) Unregister(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(name)
	delete(g.blueprints, name)
}

func (g *Registry) removeLocked(name string) bool {
	r, ok := g.rigs[name]
	if !ok {
		return false
	}
	r.Destroy()
	delete(g.rigs, name)
	g.order = slices.DeleteFunc(g.order, func(n string) bool { return n == name })
	return true
}

// Rigs returns the built rigs in build order.
func (g *Registry) Rigs() []*Rig {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Rig, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.rigs[name])
	}
	return out
}

// UpdateAll updates every rig. A rig whose update panics is reported in the
// returned errors and does not stop the others.
func (g *Registry) UpdateAll(tick Tick) []error {
	var errs []error
	for _, r := range g.Rigs() {
		if err := updateIsolated(r, tick); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func updateIsolated(r *Rig, tick Tick) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rig %q update panicked: %v", r.Name, p)
		}
	}()
	r.Update(tick)
	return nil
}
