package streaming

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "__42__", Key(42))

	uid, err := ParseKey("__16384__")
	require.NoError(t, err)
	assert.Equal(t, uint16(16384), uid)

	for _, bad := range []string{"42", "__x__", "__42", "__70000__"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.235, Round(1.23456, 3))
	assert.Equal(t, -0.5, Round(-0.4999, 3))
	assert.Equal(t, 2.0, Round(1.9996, 3))
}

func TestMessage_RoundTripWithinPrecision(t *testing.T) {
	rnd := rand.New(rand.NewPCG(7, 11))
	want := map[uint16]Transform{}
	msg := NewMessage()
	msg.Camera = DefaultCamera()
	msg.FX["bloom"] = FX{Enabled: true, Uniforms: map[string]float64{"opacity": 0.333}}

	for uid := uint16(1); uid <= 20; uid++ {
		var tr Transform
		for i := range 3 {
			tr.Pos[i] = rnd.Float64()*200 - 100
			tr.Scl[i] = rnd.Float64() * 3
		}
		for i := range 4 {
			tr.Rot[i] = rnd.Float64()*2 - 1
		}
		want[uid] = tr
		switch uid % 5 {
		case 0:
			msg.Meshes[Key(uid)] = &Mesh{Transform: tr, Verts: []float64{0.12345, 1.98765}}
		case 1:
			msg.Lights[Key(uid)] = &Light{Transform: tr, Energy: 1}
		case 2:
			msg.Metas[Key(uid)] = &Meta{Transform: tr}
		case 3:
			msg.Curves[Key(uid)] = &Curve{Transform: tr, Splines: []Spline{{Points: [][3]float64{{0.11111, 2, 3}}}}}
		case 4:
			msg.Texts[Key(uid)] = &Text{Transform: tr, Text: "hi"}
		}
	}

	data, err := Encode(msg, DefaultPrecision)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	transforms, err := got.Transforms()
	require.NoError(t, err)
	require.Len(t, transforms, len(want))
	for uid, w := range want {
		g := transforms[uid]
		for i := range 3 {
			assert.InDelta(t, w.Pos[i], g.Pos[i], 0.0005)
			assert.InDelta(t, w.Scl[i], g.Scl[i], 0.0005)
		}
		for i := range 4 {
			assert.InDelta(t, w.Rot[i], g.Rot[i], 0.0005)
		}
	}

	assert.Equal(t, []float64{0.123, 1.988}, got.Meshes[Key(5)].Verts)
	assert.Equal(t, [3]float64{0.111, 2, 3}, got.Curves[Key(3)].Splines[0].Points[0])
	assert.Equal(t, DefaultCamera(), got.Camera)
	assert.True(t, got.FX["bloom"].Enabled)

	again, err := Encode(got, DefaultPrecision)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again), "re-encoding a decoded message is stable")
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestParseFrame_Camera(t *testing.T) {
	frame := EncodeCameraFrame(mgl64.Vec3{1, 2, 3}, mgl64.Vec3{-4, 5.5, 0.25})
	require.Len(t, frame, 25)
	assert.Equal(t, byte(0), frame[0])

	f, err := ParseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, FrameCamera, f.Kind)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, f.Position)
	assert.Equal(t, mgl64.Vec3{-4, 5.5, 0.25}, f.Focal)
}

func TestParseFrame_CameraLittleEndian(t *testing.T) {
	// 1.0f is 0x3f800000
	frame := []byte{0}
	frame = append(frame, 0x00, 0x00, 0x80, 0x3f)
	frame = append(frame, bytes.Repeat([]byte{0}, 20)...)

	f, err := ParseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.Position.X())
}

func TestParseFrame_Malformed(t *testing.T) {
	for _, n := range []int{0, 23, 25, 48} {
		frame := make([]byte, 1+n)
		_, err := ParseFrame(frame)
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("payload of %d bytes: got %v, want ErrMalformedFrame", n, err)
		}
	}
	_, err := ParseFrame(nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestParseFrame_PingAndAction(t *testing.T) {
	f, err := ParseFrame([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, FramePing, f.Kind)
	assert.Equal(t, byte('x'), f.Ping)

	f, err = ParseFrame(EncodeActionFrame('h', []byte{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, FrameAction, f.Kind)
	assert.Equal(t, byte('h'), f.Code)
	assert.Equal(t, []byte{1, 2}, f.Args)
	assert.Equal(t, "action", f.Kind.String())
}

func TestPeerFrame_RoundTrip(t *testing.T) {
	records := []PeerRecord{
		{Name: "Cube", Position: [3]float64{1, 2, 3}, Rotation: [3]float64{0, 0.5, 1}, Scale: [3]float64{1, 1, 1}, Type: PeerMesh},
		{Name: "Lamp", Type: PeerLamp, Energy: 2.5, Distance: 30},
		{Name: "Speaker", Type: PeerSpeaker, Volume: 0.8, Mute: true},
	}
	frame, err := EncodePeerFrame(records)
	require.NoError(t, err)
	require.Len(t, frame, PeerFrameSize)
	assert.Equal(t, byte('#'), frame[PeerFrameSize-1])

	got, err := DecodePeerFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestPeerFrame_FixedSize(t *testing.T) {
	for n := 0; n <= MaxPeerRecords; n++ {
		records := make([]PeerRecord, n)
		for i := range records {
			records[i] = PeerRecord{Name: strings.Repeat("o", i+1), Type: PeerMesh}
		}
		frame, err := EncodePeerFrame(records)
		require.NoError(t, err)
		assert.Len(t, frame, PeerFrameSize)
	}
}

func TestPeerFrame_Overflow(t *testing.T) {
	_, err := EncodePeerFrame([]PeerRecord{{Name: strings.Repeat("x", PeerFrameSize)}})
	assert.ErrorIs(t, err, ErrFrameOverflow)
}

func TestPeerFrame_WrongLength(t *testing.T) {
	frame, err := EncodePeerFrame(nil)
	require.NoError(t, err)

	for _, b := range [][]byte{frame[:PeerFrameSize-1], append(frame, '#'), nil} {
		_, err := DecodePeerFrame(b)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	}

	bad := bytes.Clone(frame)
	copy(bad, "abcd")
	_, err = DecodePeerFrame(bad)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
