package world

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/oklog/ulid/v2"

	"github.com/OCAP2/rigstream/internal/rig"
	"github.com/OCAP2/rigstream/internal/scene"
	"github.com/OCAP2/rigstream/internal/stream"
	"github.com/OCAP2/rigstream/internal/transport"
	"github.com/OCAP2/rigstream/pkg/core"
	"github.com/OCAP2/rigstream/pkg/streaming"
)

func peerRecords(objs []*scene.Object) []streaming.PeerRecord {
	return transport.PeerRecords(objs)
}

func position(v mgl64.Vec3) core.Position3D {
	return core.Position3D{X: v[0], Y: v[1], Z: v[2]}
}

// JointEventRecord converts a rig breakage event.
func JointEventRecord(e rig.JointEvent, now time.Time) core.JointEvent {
	return core.JointEvent{
		Time:    now.UTC(),
		Tick:    e.Tick,
		Rig:     e.Rig,
		Segment: e.Segment,
		Joint:   e.Joint,
		State:   e.State.String(),
		Stress:  e.Stress,
	}
}

// RigSampleRecord converts a rig sample. The spine is only kept for ropes.
func RigSampleRecord(s rig.Sample, tick uint64, now time.Time) core.RigSample {
	out := core.RigSample{
		Time:   now.UTC(),
		Tick:   tick,
		Rig:    s.Rig,
		Kind:   string(s.Kind),
		State:  s.State,
		Root:   position(s.Root),
		Head:   position(s.Head),
		Broken: s.Broken,
	}
	if s.Kind == rig.KindRope {
		for _, p := range s.Spine {
			out.Spine = append(out.Spine, position(p))
		}
	}
	return out
}

func (w *World) recordJointEvents(now time.Time) {
	for _, r := range w.deps.Rigs.Rigs() {
		for _, e := range r.DrainEvents() {
			w.logger.Info("Joint state changed", "rig", e.Rig, "segment", e.Segment, "state", e.State.String(), "stress", e.Stress)
			if w.deps.Recorder == nil {
				continue
			}
			rec := JointEventRecord(e, now)
			if err := w.deps.Recorder.RecordJointEvent(&rec); err != nil {
				w.logger.Warn("Recording joint event failed", "error", err)
			}
		}
	}
}

func (w *World) recordSamples(now time.Time) {
	if w.deps.Recorder == nil {
		return
	}
	for _, r := range w.deps.Rigs.Rigs() {
		rec := RigSampleRecord(r.Sample(), w.tick, now)
		if err := w.deps.Recorder.RecordRigSample(&rec); err != nil {
			w.logger.Warn("Recording rig sample failed", "rig", r.Name, "error", err)
		}
	}
}

func (w *World) beginSession(s *stream.Session, now time.Time) {
	cs := &core.Session{
		Key:         ulid.Make().String(),
		UID:         s.UID,
		Addr:        s.Addr,
		ConnectedAt: now.UTC(),
	}
	w.sessions[s.UID] = cs

	if w.deps.Recorder != nil && w.run != nil {
		if err := w.deps.Recorder.AddSession(cs); err != nil {
			w.logger.Warn("Recording session failed", "session", s.UID, "error", err)
		}
	}
	w.writeSession(*cs)
}

// endSession runs from the session manager whenever a viewer goes away, with
// the world lock already held.
func (w *World) endSession(s *stream.Session) {
	cs, ok := w.sessions[s.UID]
	if !ok {
		return
	}
	delete(w.sessions, s.UID)
	cs.DisconnectedAt = time.Now().UTC()
	cs.BytesSent = s.TotalBytes()

	if w.deps.Recorder != nil && w.run != nil {
		if err := w.deps.Recorder.EndSession(cs); err != nil {
			w.logger.Warn("Recording session end failed", "session", s.UID, "error", err)
		}
	}
	w.writeSession(*cs)
}

func (w *World) writeSession(cs core.Session) {
	if w.deps.Sessions == nil || w.run == nil {
		return
	}
	if err := w.deps.Sessions.WriteSession(cs, w.run.Key); err != nil {
		w.logger.Warn("Writing session point failed", "session", cs.UID, "error", err)
	}
}
