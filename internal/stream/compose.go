package stream

import (
	"math"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/scene"
	"github.com/OCAP2/rigstream/pkg/streaming"
	"github.com/go-gl/mathgl/mgl64"
)

// DefaultMaxVerts is the largest vertex buffer streamed inline.
const DefaultMaxVerts = 2000

var (
	// swapObject converts engine world transforms to the viewer's up axis.
	swapObject = mgl64.QuatRotate(-math.Pi/2, mgl64.Vec3{1, 0, 0})
	// swapMesh converts object-local vertices to the viewer's up axis.
	swapMesh = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{1, 0, 0})
)

// ComposeOptions tunes message composition.
type ComposeOptions struct {
	MaxVerts int
}

// Compose builds the message one session receives for the current scene
// state. Objects are visited in uid order so the gate is deterministic for a
// given random source.
func Compose(sc *scene.Scene, s *Session, rnd Rand, opts ComposeOptions) *streaming.Message {
	if opts.MaxVerts <= 0 {
		opts.MaxVerts = DefaultMaxVerts
	}
	msg := streaming.NewMessage()
	msg.Camera = s.Camera
	msg.Godrays = s.Godrays
	msg.FX = cloneFX(s.FX)

	g := &gate{s: s, rand: rnd}
	active := sc.Active()
	for _, h := range sc.Handles() {
		o, _ := sc.Get(h)
		if !scene.Streamable(o) {
			continue
		}
		d := s.Location.Sub(o.Transform.Position).Len()
		ok, far := g.admit(o.UID, d)
		if !ok {
			continue
		}
		key := streaming.Key(o.UID)
		t := swapTransform(o.Transform)

		switch o.Kind {
		case scene.KindText:
			msg.Texts[key] = composeText(o, t)
		case scene.KindCurve:
			msg.Curves[key] = composeCurve(o, t)
		case scene.KindMeta:
			msg.Metas[key] = composeMeta(o, t)
		case scene.KindLamp:
			msg.Lights[key] = composeLight(o, t)
		case scene.KindMesh:
			m := composeMesh(o, t)
			selected := !active.IsZero() && active == h
			m.Selected = selected
			m.ReloadTextures = sc.TakeReloadTextures(h)
			if hooks, ok := sc.Hooks(h); ok {
				m.OnClick = hooks.OnClick
				m.OnInput = hooks.OnInput
				m.Custom = hooks.Custom
			}
			if o.Mesh != nil && (o.Mesh.StreamMesh || selected) && len(o.Mesh.Verts) < opts.MaxVerts && !far {
				m.Verts = flattenVerts(o.Mesh.Verts)
			}
			msg.Meshes[key] = m
		}
	}
	return msg
}

func swapTransform(t physics.Transform) streaming.Transform {
	pos := swapObject.Rotate(t.Position)
	rot := swapObject.Mul(t.Rotation).Normalize()
	return streaming.Transform{
		Pos: [3]float64(pos),
		Rot: [4]float64{rot.W, rot.V[0], rot.V[1], rot.V[2]},
		Scl: [3]float64(t.Scale),
	}
}

func roundColor(c [3]float64) [3]float64 {
	for i := range c {
		c[i] = streaming.Round(c[i], streaming.DefaultPrecision)
	}
	return c
}

func composeText(o *scene.Object, t streaming.Transform) *streaming.Text {
	out := &streaming.Text{Transform: t}
	if o.Text != nil {
		out.Text = o.Text.Body
		out.Size = o.Text.Size
	}
	return out
}

func composeCurve(o *scene.Object, t streaming.Transform) *streaming.Curve {
	out := &streaming.Curve{Transform: t, Splines: []streaming.Spline{}}
	c := o.Curve
	if c == nil {
		return out
	}
	out.SegmentsV = c.BevelResolution
	out.Radius = c.BevelDepth
	for _, sp := range c.Splines {
		s := streaming.Spline{
			Closed:    sp.Closed,
			Points:    make([][3]float64, len(sp.Points)),
			SegmentsU: c.ResolutionU * sp.ResolutionU,
			Color:     [3]float64{1, 1, 1},
		}
		for i, p := range sp.Points {
			s.Points[i] = [3]float64(p)
		}
		if sp.Color != nil {
			s.Color = roundColor(*sp.Color)
		}
		out.Splines = append(out.Splines, s)
	}
	return out
}

func composeMeta(o *scene.Object, t streaming.Transform) *streaming.Meta {
	t.Scl = [3]float64{streaming.MetaCube, streaming.MetaCube, streaming.MetaCube}
	out := &streaming.Meta{Transform: t, Elements: []streaming.MetaElement{}, Color: roundColor(o.Color)}
	if o.Meta == nil {
		return out
	}
	for _, e := range o.Meta.Elements {
		out.Elements = append(out.Elements, streaming.MetaElement{
			X:      e.Co[0] / streaming.MetaCube,
			Y:      e.Co[1] / streaming.MetaCube,
			Z:      e.Co[2] / streaming.MetaCube,
			Radius: e.Radius,
		})
	}
	return out
}

func composeLight(o *scene.Object, t streaming.Transform) *streaming.Light {
	out := &streaming.Light{Transform: t}
	if l := o.Lamp; l != nil {
		out.Energy = l.Energy
		out.Color = roundColor(l.Color)
		out.Dist = l.Distance
		out.Scale = l.LensFlareScale
	}
	return out
}

func composeMesh(o *scene.Object, t streaming.Transform) *streaming.Mesh {
	out := &streaming.Mesh{Transform: t, Color: roundColor(o.Color), Disp: 1.0}
	md := o.Mesh
	if md == nil {
		return out
	}
	out.Spec = md.Specular
	if md.HasDisplace {
		out.DispBias = md.DisplaceMidLevel - 0.5
		out.Disp = md.DisplaceStrength
	}
	out.Subsurf = md.SubsurfLevels
	out.Ptex = md.ProgressiveTex
	out.Norm = md.NormalMap
	out.AutoSubdiv = md.AutoSubdiv
	return out
}

func flattenVerts(verts []mgl64.Vec3) []float64 {
	out := make([]float64, 0, len(verts)*3)
	for _, v := range verts {
		v = swapMesh.Rotate(v)
		out = append(out,
			streaming.Round(v[0], streaming.DefaultPrecision),
			streaming.Round(v[1], streaming.DefaultPrecision),
			streaming.Round(v[2], streaming.DefaultPrecision))
	}
	return out
}
