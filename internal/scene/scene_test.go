package scene

import (
	"testing"

	"github.com/OCAP2/rigstream/internal/arena"
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/physics/physicstest"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_AssignsUIDs(t *testing.T) {
	s := New()
	h1, err := s.Add(&Object{Name: "a", Kind: KindMesh})
	require.NoError(t, err)
	h2, err := s.Add(&Object{Name: "b", Kind: KindLamp, UID: 7})
	require.NoError(t, err)
	h3, err := s.Add(&Object{Name: "c", Kind: KindLamp, UID: 7})
	require.NoError(t, err)

	a, _ := s.Get(h1)
	b, _ := s.Get(h2)
	c, _ := s.Get(h3)
	assert.Equal(t, uint16(1), a.UID)
	assert.Equal(t, uint16(7), b.UID)
	assert.Equal(t, uint16(8), c.UID, "duplicate uid replaced")

	_, err = s.Add(&Object{Name: "a"})
	assert.Error(t, err)
	assert.Equal(t, []arena.Handle{h1, h2, h3}, s.Handles())
}

func TestAdd_WrapsToFreeUID(t *testing.T) {
	s := New()
	_, err := s.Add(&Object{Name: "top", UID: MaxUID})
	require.NoError(t, err)
	h, err := s.Add(&Object{Name: "next"})
	require.NoError(t, err)
	o, _ := s.Get(h)
	assert.Equal(t, uint16(1), o.UID)
}

func TestRemove_ZeroesUID(t *testing.T) {
	s := New()
	h, _ := s.Add(&Object{Name: "a"})
	o, _ := s.Get(h)
	s.SetActive(h)
	s.SetHooks(h, ActionHooks{OnClick: "s"})

	require.True(t, s.Remove(h))
	assert.Zero(t, o.UID)
	assert.True(t, s.Active().IsZero())
	_, ok := s.Hooks(h)
	assert.False(t, ok)
	_, _, ok = s.ByName("a")
	assert.False(t, ok)
	assert.False(t, s.Remove(h))
}

func TestStreamable(t *testing.T) {
	assert.False(t, Streamable(&Object{Kind: KindMesh}), "mesh without uv")
	assert.True(t, Streamable(&Object{Kind: KindMesh, HasUV: true}))
	assert.True(t, Streamable(&Object{Kind: KindText}))
	assert.False(t, Streamable(&Object{Kind: KindEmpty}))
	assert.False(t, Streamable(&Object{Kind: KindSpeaker}))
}

func TestPeerStreaming(t *testing.T) {
	s := New()
	h1, _ := s.Add(&Object{Name: "a"})
	h2, _ := s.Add(&Object{Name: "b"})

	require.NoError(t, s.EnablePeerStreaming(h2, "10.0.0.2", true))
	require.NoError(t, s.EnablePeerStreaming(h1, "10.0.0.2", true))
	objs := s.PeerObjects("10.0.0.2")
	require.Len(t, objs, 2)
	assert.Equal(t, "a", objs[0].Name)
	assert.Equal(t, []string{"10.0.0.2"}, s.Peers())

	require.NoError(t, s.EnablePeerStreaming(h1, "10.0.0.2", false))
	require.NoError(t, s.EnablePeerStreaming(h2, "10.0.0.2", false))
	assert.Empty(t, s.Peers())
}

func TestSync_FollowsBody(t *testing.T) {
	s := New()
	engine := physicstest.New()
	body, _ := engine.CreateBody(physics.BodySpec{Name: "shaft", Transform: physics.Identity()})
	h, _ := s.Add(&Object{Name: "shaft", Transform: physics.Transform{Scale: mgl64.Vec3{2, 2, 2}}})
	s.Bind(h, body)

	engine.Bodies["shaft"].SetPosition(mgl64.Vec3{1, 2, 3})
	s.Sync()

	o, _ := s.Get(h)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, o.Transform.Position)
	assert.Equal(t, mgl64.Vec3{2, 2, 2}, o.Transform.Scale)
}

func TestReloadTextures(t *testing.T) {
	s := New()
	h, _ := s.Add(&Object{Name: "a"})
	s.MarkReloadTextures(h)
	assert.True(t, s.TakeReloadTextures(h))
	assert.False(t, s.TakeReloadTextures(h))
}
