package rig

import (
	"fmt"
	"strings"
)

// Kind names a gait strategy.
type Kind string

const (
	KindBiped   Kind = "biped"
	KindRagdoll Kind = "ragdoll"
	KindRope    Kind = "rope"
)

// GaitStrategy holds the policy decisions of a rig type. The shared build
// algorithm asks it which bones to use and break, and Update runs its
// per-tick solver after targets and breakage have been processed.
type GaitStrategy interface {
	Kind() Kind
	// IsBoneUsable admits a bone that would otherwise be skipped for being
	// unconnected.
	IsBoneUsable(info *BoneInfo) bool
	// IsBreakable decides whether breakable mode disconnects a bone.
	IsBreakable(info *BoneInfo) bool
	Setup(r *Rig) error
	Update(r *Rig, tick Tick)
	Reset(r *Rig)
	// State is a short description of the solver state.
	State() string
}

// NewStrategy returns a fresh strategy of the given kind.
func NewStrategy(kind Kind) (GaitStrategy, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case KindBiped:
		return NewBiped(DefaultBipedConfig()), nil
	case KindRagdoll:
		return &Ragdoll{}, nil
	case KindRope:
		return &Rope{}, nil
	}
	return nil, fmt.Errorf("unknown rig kind %q", kind)
}

// passive is a strategy with no solver of its own.
type passive struct{}

func (passive) IsBoneUsable(*BoneInfo) bool { return false }
func (passive) IsBreakable(*BoneInfo) bool { return true }
func (passive) Setup(*Rig) error { return nil }
func (passive) Update(*Rig, Tick) {}
func (passive) Reset(*Rig) {}
func (passive) State() string { return "passive" }

// Ragdoll only runs targets and breakage.
type Ragdoll struct{ passive }

func (*Ragdoll) Kind() Kind { return KindRagdoll }

// Rope only runs targets and breakage.
type Rope struct{ passive }

func (*Rope) Kind() Kind { return KindRope }
