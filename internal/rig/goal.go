package rig

import (
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// Goal is a point a Target pulls toward.
type Goal interface {
	Position() mgl64.Vec3
}

// Mover is a goal that bidirectional targets may drag.
type Mover interface {
	Goal
	Translate(d mgl64.Vec3)
	Reset()
}

// BodyGoal follows a physics body.
type BodyGoal struct {
	Body physics.Body
}

func (g BodyGoal) Position() mgl64.Vec3 { return g.Body.Transform().Position }

// Marker is a solver-owned point. A marker with a parent is placed in its
// parent's frame; a marker tracking a goal turns its local Z axis toward that
// goal on the ground plane, with Z up.
type Marker struct {
	Name   string
	Local  mgl64.Vec3
	Parent *Marker
	Track  Goal
	// Flip tracks with the negative Z axis.
	Flip  bool
	start mgl64.Vec3
}

// NewMarker creates a root marker at p.
func NewMarker(name string, p mgl64.Vec3) *Marker {
	return &Marker{Name: name, Local: p, start: p}
}

// Position is the world position of the marker.
func (m *Marker) Position() mgl64.Vec3 {
	if m.Parent == nil {
		return m.Local
	}
	x, y, z := m.Parent.Axes()
	origin := m.Parent.Position()
	return origin.Add(x.Mul(m.Local[0])).Add(y.Mul(m.Local[1])).Add(z.Mul(m.Local[2]))
}

// Axes is the world frame of the marker.
func (m *Marker) Axes() (x, y, z mgl64.Vec3) {
	up := mgl64.Vec3{0, 0, 1}
	if m.Track == nil {
		return mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 0}, up
	}
	d := m.Track.Position().Sub(m.Position())
	d[2] = 0
	if d.Len() < 1e-9 {
		return mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 0}, up
	}
	z = d.Normalize()
	if m.Flip {
		z = z.Mul(-1)
	}
	y = up
	x = y.Cross(z)
	return x, y, z
}

// Set moves a root marker, or sets the local offset of a child marker.
func (m *Marker) Set(p mgl64.Vec3) { m.Local = p }

// Translate moves the marker by a world-space delta.
func (m *Marker) Translate(d mgl64.Vec3) {
	if m.Parent == nil {
		m.Local = m.Local.Add(d)
		return
	}
	x, y, z := m.Parent.Axes()
	m.Local = m.Local.Add(mgl64.Vec3{d.Dot(x), d.Dot(y), d.Dot(z)})
}

// Reset restores the position the marker was created with.
func (m *Marker) Reset() { m.Local = m.start }
