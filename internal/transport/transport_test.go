package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/scene"
	"github.com/OCAP2/rigstream/internal/stream"
	"github.com/OCAP2/rigstream/pkg/streaming"
	"github.com/go-gl/mathgl/mgl64"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startListener(t *testing.T, policy QueuePolicy) *Listener {
	t.Helper()
	l := NewListener(ListenerConfig{Addr: "127.0.0.1:0", PollTimeout: 50 * time.Millisecond, Policy: policy}, quietLogger())
	require.NoError(t, l.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Stop(ctx)
	})
	return l
}

func dial(t *testing.T, l *Listener) *ws.Conn {
	t.Helper()
	c, _, err := ws.DefaultDialer.Dial("ws://"+l.Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func accept(t *testing.T, l *Listener) *Conn {
	t.Helper()
	var got []*Conn
	require.Eventually(t, func() bool {
		got = append(got, l.Accepted()...)
		return len(got) > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, got, 1)
	return got[0]
}

func TestListener_RoundTrip(t *testing.T) {
	l := startListener(t, PolicyDrop)
	client := dial(t, l)
	conn := accept(t, l)
	assert.NotEmpty(t, conn.RemoteAddr())

	res, err := conn.Send([]byte(`{"meshes":{}}`))
	require.NoError(t, err)
	assert.Equal(t, stream.SendOk, res)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.BinaryMessage, kind)
	assert.Equal(t, `{"meshes":{}}`, string(data))

	frame := streaming.EncodeCameraFrame(mgl64.Vec3{1, 2, 3}, mgl64.Vec3{4, 5, 6})
	require.NoError(t, client.WriteMessage(ws.BinaryMessage, frame))

	var frames [][]byte
	require.Eventually(t, func() bool {
		got, _ := conn.Recv()
		frames = append(frames, got...)
		return len(frames) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, frame, frames[0])

	require.NoError(t, client.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		_, closed := conn.Recv()
		return closed
	}, 2*time.Second, 10*time.Millisecond)

	res, _ = conn.Send([]byte("late"))
	assert.Equal(t, stream.SendClosed, res)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "second close is a no-op")
}

func TestListener_StopWithinPollTimeout(t *testing.T) {
	l := startListener(t, PolicyDrop)
	assert.True(t, l.Active())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, l.Stop(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, l.Active())

	_, _, err := ws.DefaultDialer.Dial("ws://"+l.Addr()+"/", nil)
	assert.Error(t, err)
	require.NoError(t, l.Stop(ctx), "stopping twice is a no-op")
}

func TestListener_ClosesConnQueuedAfterStop(t *testing.T) {
	l := startListener(t, PolicyDrop)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))

	// an upgrade that was already past the active check when Stop drained
	upgraded := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		l.enqueue(newConn(c, PolicyDrop, quietLogger()))
		close(upgraded)
	}))
	defer srv.Close()

	client, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", nil)
	require.NoError(t, err)
	defer client.Close()
	<-upgraded

	assert.Empty(t, l.Accepted())
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = client.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "got %v", err)
}

func TestConn_OversizedFrameClosesConn(t *testing.T) {
	l := startListener(t, PolicyDrop)
	client := dial(t, l)
	conn := accept(t, l)

	require.NoError(t, client.WriteMessage(ws.BinaryMessage, make([]byte, maxFrameSize+1)))
	require.Eventually(t, func() bool {
		_, closed := conn.Recv()
		return closed
	}, 2*time.Second, 10*time.Millisecond)
	frames, _ := conn.Recv()
	assert.Empty(t, frames)
}

func TestConn_SingleSlotPolicies(t *testing.T) {
	t.Run("drop while writing", func(t *testing.T) {
		c := &Conn{wake: make(chan struct{}, 1), policy: PolicyDrop, writing: true}
		res, err := c.Send([]byte("b"))
		require.NoError(t, err)
		assert.Equal(t, stream.SendWouldBlock, res)
		assert.Nil(t, c.pending)
	})
	t.Run("drop with queued message", func(t *testing.T) {
		c := &Conn{wake: make(chan struct{}, 1), policy: PolicyDrop, pending: []byte("a")}
		res, _ := c.Send([]byte("b"))
		assert.Equal(t, stream.SendWouldBlock, res)
		assert.Equal(t, []byte("a"), c.pending)
	})
	t.Run("coalesce replaces queued message", func(t *testing.T) {
		c := &Conn{wake: make(chan struct{}, 1), policy: PolicyCoalesce, pending: []byte("a")}
		res, _ := c.Send([]byte("b"))
		assert.Equal(t, stream.SendOk, res)
		assert.Equal(t, []byte("b"), c.pending)
	})
	t.Run("write error surfaces once", func(t *testing.T) {
		c := &Conn{wake: make(chan struct{}, 1), writeErr: io.ErrClosedPipe}
		res, err := c.Send([]byte("b"))
		assert.Equal(t, stream.SendError, res)
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	})
}

func TestParseQueuePolicy(t *testing.T) {
	p, err := ParseQueuePolicy("Coalesce")
	require.NoError(t, err)
	assert.Equal(t, PolicyCoalesce, p)
	p, err = ParseQueuePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyDrop, p)
	_, err = ParseQueuePolicy("unbounded")
	assert.Error(t, err)
}

func TestPeerRecords_Kinds(t *testing.T) {
	objs := []*scene.Object{
		{Name: "cube", Kind: scene.KindMesh, Transform: physics.At(mgl64.Vec3{1, 2, 3})},
		{Name: "sun", Kind: scene.KindLamp, Transform: physics.Identity(), Lamp: &scene.LampData{Energy: 2, Distance: 30}},
		{Name: "radio", Kind: scene.KindSpeaker, Transform: physics.Identity(), Speaker: &scene.SpeakerData{Volume: 0.5, Muted: true}},
		{Name: "label", Kind: scene.KindText, Transform: physics.Identity()},
	}
	recs := PeerRecords(objs)
	require.Len(t, recs, 3)
	assert.Equal(t, streaming.PeerRecord{Name: "cube", Position: [3]float64{1, 2, 3}, Scale: [3]float64{1, 1, 1}, Type: streaming.PeerMesh}, recs[0])
	assert.Equal(t, 2.0, recs[1].Energy)
	assert.Equal(t, 30.0, recs[1].Distance)
	assert.Equal(t, streaming.PeerSpeaker, recs[2].Type)
	assert.True(t, recs[2].Mute)
}

func TestPeerFrames_Chunks(t *testing.T) {
	recs := make([]streaming.PeerRecord, 23)
	for i := range recs {
		recs[i] = streaming.PeerRecord{Name: strings.Repeat("x", 4), Type: streaming.PeerMesh}
	}
	frames, err := PeerFrames(recs)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Len(t, f, streaming.PeerFrameSize)
	}
	last, err := streaming.DecodePeerFrame(frames[2])
	require.NoError(t, err)
	assert.Len(t, last, 1)
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := c.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, c.Close())
	return port
}

func TestPeerStreamer_SendsFrames(t *testing.T) {
	p := NewPeerStreamer(freeUDPPort(t), quietLogger())
	t.Cleanup(func() { _ = p.Close() })

	addr, err := p.Enable("127.0.0.1")
	require.NoError(t, err)
	again, err := p.Enable("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	rx, err := ListenPeer(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rx.Close() })

	want := []streaming.PeerRecord{{Name: "cube", Type: streaming.PeerMesh, Position: [3]float64{1, 0, 0}}}
	require.NoError(t, p.Send("127.0.0.1", want))
	got, err := rx.Read(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, p.Send("10.0.0.9", want), "unknown peer")
}
