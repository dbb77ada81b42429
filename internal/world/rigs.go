package world

import (
	"fmt"

	"github.com/OCAP2/rigstream/internal/arena"
	"github.com/OCAP2/rigstream/internal/rig"
	"github.com/OCAP2/rigstream/internal/scene"
	"github.com/OCAP2/rigstream/internal/stream"
	"github.com/OCAP2/rigstream/internal/transport"
)

// ListenerAcceptor adapts the viewer listener to Acceptor.
type ListenerAcceptor struct {
	Listener *transport.Listener
}

func (a ListenerAcceptor) Accept() []stream.Conn {
	conns := a.Listener.Accepted()
	out := make([]stream.Conn, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}

// AddRig registers a blueprint, builds its rig and adds one streamed mesh per
// segment, bound to the segment's shaft body. Adding a rig under a name that
// is already in use replaces it.
func (w *World) AddRig(bp rig.Blueprint) (*rig.Rig, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := bp.Skeleton.Name
	w.removeRigObjects(name)
	w.deps.Rigs.Register(bp)
	r, err := w.deps.Rigs.GetOrBuild(name)
	if err != nil {
		return nil, fmt.Errorf("build rig %q: %w", name, err)
	}

	var handles []arena.Handle
	for _, seg := range r.Segments() {
		o := &scene.Object{
			Name:      name + "." + seg.Name,
			Kind:      scene.KindMesh,
			Transform: seg.Shaft.Transform(),
			Color:     [3]float64{0.8, 0.8, 0.8},
			HasUV:     true,
			Mesh:      &scene.MeshData{},
		}
		h, err := w.deps.Scene.Add(o)
		if err != nil {
			w.removeObjects(handles)
			w.deps.Rigs.Unregister(name)
			return nil, fmt.Errorf("add segment %q: %w", o.Name, err)
		}
		w.deps.Scene.Bind(h, seg.Shaft)
		handles = append(handles, h)
	}
	w.rigObjects[name] = handles
	w.logger.Info("Rig added", "rig", name, "kind", string(bp.Kind), "segments", len(handles))
	return r, nil
}

// RemoveRig destroys a rig and its scene objects.
func (w *World) RemoveRig(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeRigObjects(name)
	return w.deps.Rigs.Remove(name)
}

func (w *World) removeRigObjects(name string) {
	w.removeObjects(w.rigObjects[name])
	delete(w.rigObjects, name)
}

// removeObjects drops scene objects and clears their uids from every
// viewer session.
func (w *World) removeObjects(handles []arena.Handle) {
	for _, h := range handles {
		o, ok := w.deps.Scene.Get(h)
		if !ok {
			continue
		}
		uid := o.UID
		if w.deps.Scene.Remove(h) {
			w.deps.Streams.Forget(uid)
		}
	}
}
