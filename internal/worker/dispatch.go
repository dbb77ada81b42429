package worker

import (
	"fmt"

	"github.com/OCAP2/rigstream/internal/arena"
	"github.com/OCAP2/rigstream/internal/dispatcher"
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/rig"
)

// Built-in action codes.
const (
	ActionHeal      byte = 'h'
	ActionPose      byte = 'p'
	ActionTension   byte = 't'
	ActionSelect    byte = 's'
	ActionStepLeft  byte = 'l'
	ActionStepRight byte = 'r'
	ActionReset     byte = 'x'
)

// RegisterHandlers registers the built-in actions with the dispatcher. All of
// them mutate simulation state and therefore run synchronously.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(ActionHeal, m.handleHeal, dispatcher.Logged())
	d.Register(ActionPose, m.handlePose, dispatcher.Logged())
	d.Register(ActionTension, m.handleTension, dispatcher.Logged())
	d.Register(ActionSelect, m.handleSelect, dispatcher.Logged())
	d.Register(ActionStepLeft, m.handleStep(true), dispatcher.Logged())
	d.Register(ActionStepRight, m.handleStep(false), dispatcher.Logged())
	d.Register(ActionReset, m.handleReset, dispatcher.Logged())
}

// handleHeal restores every broken joint. Args: rig name.
func (m *Manager) handleHeal(e dispatcher.Event) error {
	a := args{e.Args}
	name, err := a.name()
	if err != nil {
		return err
	}
	r, err := m.rig(name)
	if err != nil {
		return err
	}
	n := r.Heal()
	m.deps.Logger.Info("Rig healed", "rig", name, "joints", n, "session", e.Session)
	return nil
}

// handlePose blends a pose. Args: float32 weight, rig name, pose name.
func (m *Manager) handlePose(e dispatcher.Event) error {
	a := args{e.Args}
	w, err := a.float32()
	if err != nil {
		return err
	}
	name, err := a.name()
	if err != nil {
		return err
	}
	pose, err := a.name()
	if err != nil {
		return err
	}
	r, err := m.rig(name)
	if err != nil {
		return err
	}
	return r.SetPoseWeight(pose, w)
}

// handleTension sets the rig tension. Args: float32 CFM, float32 ERP, rig name.
func (m *Manager) handleTension(e dispatcher.Event) error {
	a := args{e.Args}
	cfm, err := a.float32()
	if err != nil {
		return err
	}
	erp, err := a.float32()
	if err != nil {
		return err
	}
	name, err := a.name()
	if err != nil {
		return err
	}
	r, err := m.rig(name)
	if err != nil {
		return err
	}
	if err := r.AdjustTension(physics.ParamCFM, cfm); err != nil {
		return err
	}
	return r.AdjustTension(physics.ParamERP, erp)
}

// handleSelect makes an object active. Args: uint16 uid, 0 clears.
func (m *Manager) handleSelect(e dispatcher.Event) error {
	a := args{e.Args}
	uid, err := a.uint16()
	if err != nil {
		return err
	}
	if uid == 0 {
		m.deps.Scene.SetActive(arena.Handle{})
		return nil
	}
	h, _, ok := m.deps.Scene.ByUID(uid)
	if !ok {
		return fmt.Errorf("no object with uid %d", uid)
	}
	m.deps.Scene.SetActive(h)
	return nil
}

// handleStep forces one biped step. Args: rig name.
func (m *Manager) handleStep(leftFoot bool) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) error {
		a := args{e.Args}
		name, err := a.name()
		if err != nil {
			return err
		}
		r, err := m.rig(name)
		if err != nil {
			return err
		}
		b, ok := r.Strategy().(*rig.Biped)
		if !ok {
			return fmt.Errorf("rig %q is a %s, not a biped", name, r.Strategy().Kind())
		}
		b.QueueStep(leftFoot)
		return nil
	}
}

// handleReset returns a rig to its saved transforms. Args: rig name.
func (m *Manager) handleReset(e dispatcher.Event) error {
	a := args{e.Args}
	name, err := a.name()
	if err != nil {
		return err
	}
	r, err := m.rig(name)
	if err != nil {
		return err
	}
	r.Reset()
	return nil
}
