// Package scene holds the streamed objects of the world and the side tables
// keyed by their handles.
package scene

import (
	"errors"
	"fmt"
	"slices"

	"github.com/OCAP2/rigstream/internal/arena"
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// MaxUID is the largest object uid. Uid 0 marks a dead object.
const MaxUID = 1 << 14

var (
	ErrUIDExhausted = errors.New("no free object uid")
	ErrNotFound     = errors.New("object not found")
)

// Kind is the engine type of an object.
type Kind int

const (
	KindEmpty Kind = iota
	KindMesh
	KindLamp
	KindCurve
	KindMeta
	KindText
	KindSpeaker
)

func (k Kind) String() string {
	switch k {
	case KindMesh:
		return "MESH"
	case KindLamp:
		return "LAMP"
	case KindCurve:
		return "CURVE"
	case KindMeta:
		return "META"
	case KindText:
		return "FONT"
	case KindSpeaker:
		return "SPEAKER"
	}
	return "EMPTY"
}

// Object is one scene object.
type Object struct {
	UID       uint16
	Name      string
	Kind      Kind
	Transform physics.Transform
	Color     [3]float64
	// HasUV is required for meshes to be streamed.
	HasUV bool

	Mesh    *MeshData
	Lamp    *LampData
	Curve   *CurveData
	Meta    *MetaData
	Text    *TextData
	Speaker *SpeakerData
}

type MeshData struct {
	Verts            []mgl64.Vec3
	Specular         *float64
	HasDisplace      bool
	DisplaceMidLevel float64
	DisplaceStrength float64
	SubsurfLevels    int
	ProgressiveTex   bool
	NormalMap        bool
	AutoSubdiv       bool
	// StreamMesh sends the vertex buffer even when not selected.
	StreamMesh bool
}

type LampData struct {
	Energy         float64
	Distance       float64
	Color          [3]float64
	LensFlareScale float64
}

type Spline struct {
	Closed      bool
	Points      []mgl64.Vec3
	ResolutionU int
	// Color of the spline's material, nil for white.
	Color *[3]float64
}

type CurveData struct {
	Splines         []Spline
	ResolutionU     int
	BevelResolution int
	BevelDepth      float64
}

type MetaElement struct {
	Co     mgl64.Vec3
	Radius float64
}

type MetaData struct {
	Elements []MetaElement
}

type TextData struct {
	Body string
	Size float64
}

type SpeakerData struct {
	Volume float64
	Muted  bool
}

// StreamingFlags marks how an object is streamed.
type StreamingFlags struct {
	// Peers lists peer addresses that asked for this object.
	Peers map[string]bool
}

// ActionHooks names the action codes a viewer triggers on an object.
type ActionHooks struct {
	OnClick string
	OnInput string
	Custom  map[string]any
}

// Scene stores objects in an arena. It is not safe for concurrent use.
type Scene struct {
	objects *arena.Arena[*Object]
	byUID   map[uint16]arena.Handle
	byName  map[string]arena.Handle

	flags    map[arena.Handle]StreamingFlags
	hooks    map[arena.Handle]ActionHooks
	bindings map[arena.Handle]physics.Body
	reload   map[arena.Handle]bool
	active   arena.Handle
}

func New() *Scene {
	return &Scene{
		objects:  arena.New[*Object](),
		byUID:    make(map[uint16]arena.Handle),
		byName:   make(map[string]arena.Handle),
		flags:    make(map[arena.Handle]StreamingFlags),
		hooks:    make(map[arena.Handle]ActionHooks),
		bindings: make(map[arena.Handle]physics.Body),
		reload:   make(map[arena.Handle]bool),
	}
}

// Add inserts an object. An object without a uid, or with one already in
// use, is given the next free uid.
func (s *Scene) Add(o *Object) (arena.Handle, error) {
	if o.Name == "" {
		return arena.Handle{}, errors.New("object has no name")
	}
	if _, dup := s.byName[o.Name]; dup {
		return arena.Handle{}, fmt.Errorf("duplicate object name %q", o.Name)
	}
	if _, used := s.byUID[o.UID]; o.UID == 0 || o.UID > MaxUID || used {
		uid, err := s.nextUID()
		if err != nil {
			return arena.Handle{}, err
		}
		o.UID = uid
	}
	h := s.objects.Insert(o)
	s.byUID[o.UID] = h
	s.byName[o.Name] = h
	return h, nil
}

func (s *Scene) nextUID() (uint16, error) {
	var top uint16
	for uid := range s.byUID {
		top = max(top, uid)
	}
	if top < MaxUID {
		return top + 1, nil
	}
	for uid := uint16(1); uid <= MaxUID; uid++ {
		if _, used := s.byUID[uid]; !used {
			return uid, nil
		}
	}
	return 0, ErrUIDExhausted
}

// Remove deletes an object and its side table entries. Its uid is zeroed.
func (s *Scene) Remove(h arena.Handle) bool {
	o, ok := s.objects.Remove(h)
	if !ok {
		return false
	}
	delete(s.byUID, o.UID)
	delete(s.byName, o.Name)
	delete(s.flags, h)
	delete(s.hooks, h)
	delete(s.bindings, h)
	delete(s.reload, h)
	if s.active == h {
		s.active = arena.Handle{}
	}
	o.UID = 0
	return true
}

func (s *Scene) Get(h arena.Handle) (*Object, bool) { return s.objects.Get(h) }

func (s *Scene) ByUID(uid uint16) (arena.Handle, *Object, bool) {
	h, ok := s.byUID[uid]
	if !ok {
		return arena.Handle{}, nil, false
	}
	o, ok := s.objects.Get(h)
	return h, o, ok
}

func (s *Scene) ByName(name string) (arena.Handle, *Object, bool) {
	h, ok := s.byName[name]
	if !ok {
		return arena.Handle{}, nil, false
	}
	o, ok := s.objects.Get(h)
	return h, o, ok
}

func (s *Scene) Len() int { return s.objects.Len() }

// Handles returns every live handle ordered by object uid.
func (s *Scene) Handles() []arena.Handle {
	uids := make([]uint16, 0, len(s.byUID))
	for uid := range s.byUID {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	out := make([]arena.Handle, len(uids))
	for i, uid := range uids {
		out[i] = s.byUID[uid]
	}
	return out
}

// Streamable reports whether viewers may receive the object. Meshes need UV
// data for tangent generation on the client.
func Streamable(o *Object) bool {
	switch o.Kind {
	case KindMesh:
		return o.HasUV
	case KindLamp, KindCurve, KindMeta, KindText:
		return true
	}
	return false
}

// SetActive selects an object. The zero handle clears the selection.
func (s *Scene) SetActive(h arena.Handle) { s.active = h }

func (s *Scene) Active() arena.Handle { return s.active }

// EnablePeerStreaming flags an object for streaming to a peer address.
func (s *Scene) EnablePeerStreaming(h arena.Handle, peer string, on bool) error {
	if _, ok := s.objects.Get(h); !ok {
		return ErrNotFound
	}
	f := s.flags[h]
	if f.Peers == nil {
		f.Peers = make(map[string]bool)
	}
	f.Peers[peer] = on
	s.flags[h] = f
	return nil
}

// PeerObjects returns the objects a peer asked for, ordered by uid.
func (s *Scene) PeerObjects(peer string) []*Object {
	var out []*Object
	for _, h := range s.Handles() {
		if s.flags[h].Peers[peer] {
			o, _ := s.objects.Get(h)
			out = append(out, o)
		}
	}
	return out
}

// Peers returns every peer with at least one object flagged on.
func (s *Scene) Peers() []string {
	seen := map[string]bool{}
	for _, f := range s.flags {
		for p, on := range f.Peers {
			if on {
				seen[p] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (s *Scene) SetHooks(h arena.Handle, hooks ActionHooks) { s.hooks[h] = hooks }

func (s *Scene) Hooks(h arena.Handle) (ActionHooks, bool) {
	hk, ok := s.hooks[h]
	return hk, ok
}

// MarkReloadTextures asks viewers to reload the textures of an object once.
func (s *Scene) MarkReloadTextures(h arena.Handle) { s.reload[h] = true }

// TakeReloadTextures reports and clears the reload flag.
func (s *Scene) TakeReloadTextures(h arena.Handle) bool {
	if !s.reload[h] {
		return false
	}
	delete(s.reload, h)
	return true
}

// Bind makes the object follow a physics body on Sync.
func (s *Scene) Bind(h arena.Handle, b physics.Body) { s.bindings[h] = b }

func (s *Scene) Unbind(h arena.Handle) { delete(s.bindings, h) }

// Sync copies bound body transforms onto their objects, keeping each
// object's own scale.
func (s *Scene) Sync() {
	for h, b := range s.bindings {
		o, ok := s.objects.Get(h)
		if !ok {
			continue
		}
		t := b.Transform()
		o.Transform.Position = t.Position
		o.Transform.Rotation = t.Rotation
	}
}
