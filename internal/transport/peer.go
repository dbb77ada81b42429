package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/scene"
	"github.com/OCAP2/rigstream/pkg/streaming"
)

const peerWriteWait = 10 * time.Millisecond

// PeerRecords converts the streamable objects to peer records. Only meshes,
// lamps and speakers travel to peers.
func PeerRecords(objs []*scene.Object) []streaming.PeerRecord {
	out := make([]streaming.PeerRecord, 0, len(objs))
	for _, o := range objs {
		r := streaming.PeerRecord{
			Name:     o.Name,
			Position: [3]float64(o.Transform.Position),
			Rotation: [3]float64(physics.EulerXYZ(o.Transform.Rotation)),
			Scale:    [3]float64(o.Transform.Scale),
		}
		switch o.Kind {
		case scene.KindMesh:
			r.Type = streaming.PeerMesh
		case scene.KindLamp:
			r.Type = streaming.PeerLamp
			if o.Lamp != nil {
				r.Energy = o.Lamp.Energy
				r.Distance = o.Lamp.Distance
			}
		case scene.KindSpeaker:
			r.Type = streaming.PeerSpeaker
			if o.Speaker != nil {
				r.Volume = o.Speaker.Volume
				r.Mute = o.Speaker.Muted
			}
		default:
			continue
		}
		out = append(out, r)
	}
	return out
}

// PeerFrames splits records into encoded frames of at most MaxPeerRecords.
func PeerFrames(records []streaming.PeerRecord) ([][]byte, error) {
	var frames [][]byte
	for start := 0; start < len(records); start += streaming.MaxPeerRecords {
		end := min(start+streaming.MaxPeerRecords, len(records))
		f, err := streaming.EncodePeerFrame(records[start:end])
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

type peerSink struct {
	addr string
	conn *net.UDPConn
}

// PeerStreamer sends fixed-size transform frames to peers over UDP. Each
// peer host is assigned its own port, starting at BasePort.
type PeerStreamer struct {
	mu       sync.Mutex
	basePort int
	peers    map[string]*peerSink

	logger *slog.Logger
}

// NewPeerStreamer creates a streamer assigning ports from basePort.
func NewPeerStreamer(basePort int, logger *slog.Logger) *PeerStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerStreamer{basePort: basePort, peers: make(map[string]*peerSink), logger: logger}
}

// Enable opens the UDP route to a peer host and returns the host:port the
// peer must bind to receive frames.
func (p *PeerStreamer) Enable(host string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.peers[host]; ok {
		return s.addr, nil
	}
	addr := net.JoinHostPort(host, strconv.Itoa(p.basePort+len(p.peers)))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return "", fmt.Errorf("resolve peer %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return "", fmt.Errorf("dial peer %s: %w", addr, err)
	}
	p.peers[host] = &peerSink{addr: addr, conn: conn}
	p.logger.Info("Peer streaming enabled", "peer", host, "addr", addr)
	return addr, nil
}

// Addr returns the assigned address of an enabled peer.
func (p *PeerStreamer) Addr(host string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.peers[host]
	if !ok {
		return "", false
	}
	return s.addr, true
}

// Send writes the records to a peer. A slow or absent receiver never stalls
// the caller for longer than a short write deadline.
func (p *PeerStreamer) Send(host string, records []streaming.PeerRecord) error {
	p.mu.Lock()
	s, ok := p.peers[host]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("peer %s not enabled", host)
	}
	frames, err := PeerFrames(records)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := s.conn.SetWriteDeadline(time.Now().Add(peerWriteWait)); err != nil {
			return err
		}
		if _, err := s.conn.Write(f); err != nil {
			return fmt.Errorf("send to peer %s: %w", s.addr, err)
		}
	}
	return nil
}

// Close releases every peer socket.
func (p *PeerStreamer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for host, s := range p.peers {
		errs = append(errs, s.conn.Close())
		delete(p.peers, host)
	}
	return errors.Join(errs...)
}

// PeerReceiver reads peer frames on a bound UDP address.
type PeerReceiver struct {
	conn *net.UDPConn
}

// ListenPeer binds the address a streamer returned from Enable.
func ListenPeer(addr string) (*PeerReceiver, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &PeerReceiver{conn: conn}, nil
}

func (r *PeerReceiver) Addr() string { return r.conn.LocalAddr().String() }

// Read waits up to timeout for one frame.
func (r *PeerReceiver) Read(timeout time.Duration) ([]streaming.PeerRecord, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, streaming.PeerFrameSize+1)
	n, err := r.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return streaming.DecodePeerFrame(buf[:n])
}

func (r *PeerReceiver) Close() error { return r.conn.Close() }
