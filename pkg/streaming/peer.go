package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// PeerFrameSize is the constant size of every peer transform frame.
const PeerFrameSize = 2048

// peerHeaderSize is the 4 ASCII digit payload length prefix.
const peerHeaderSize = 4

// MaxPeerRecords bounds how many records a server packs into one frame.
const MaxPeerRecords = 11

// ErrFrameOverflow is returned when records do not fit in one peer frame.
var ErrFrameOverflow = errors.New("peer frame overflow")

// Peer object type tags.
const (
	PeerMesh    = "MESH"
	PeerLamp    = "LAMP"
	PeerSpeaker = "SPEAKER"
)

// PeerRecord is the compact transform of one object streamed to a peer.
// Rotation is Euler XYZ in radians.
type PeerRecord struct {
	Name     string     `json:"n"`
	Position [3]float64 `json:"p"`
	Rotation [3]float64 `json:"r"`
	Scale    [3]float64 `json:"s"`
	Type     string     `json:"t"`
	Energy   float64    `json:"e,omitempty"`
	Distance float64    `json:"d,omitempty"`
	Volume   float64    `json:"v,omitempty"`
	Mute     bool       `json:"m,omitempty"`
}

// EncodePeerFrame packs records into a frame of exactly PeerFrameSize bytes:
// a zero-padded 4 digit payload length, the payload and '#' padding.
func EncodePeerFrame(records []PeerRecord) ([]byte, error) {
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode peer records: %w", err)
	}
	if len(payload) > PeerFrameSize-peerHeaderSize {
		return nil, fmt.Errorf("%w: %d byte payload", ErrFrameOverflow, len(payload))
	}
	frame := make([]byte, PeerFrameSize)
	copy(frame, fmt.Sprintf("%04d", len(payload)))
	n := copy(frame[peerHeaderSize:], payload)
	for i := peerHeaderSize + n; i < PeerFrameSize; i++ {
		frame[i] = '#'
	}
	return frame, nil
}

// DecodePeerFrame parses a frame produced by EncodePeerFrame. Frames of any
// other length are malformed.
func DecodePeerFrame(frame []byte) ([]PeerRecord, error) {
	if len(frame) != PeerFrameSize {
		return nil, fmt.Errorf("%w: peer frame is %d bytes, want %d", ErrMalformedFrame, len(frame), PeerFrameSize)
	}
	n, err := strconv.Atoi(string(frame[:peerHeaderSize]))
	if err != nil || n < 0 || n > PeerFrameSize-peerHeaderSize {
		return nil, fmt.Errorf("%w: bad peer header %q", ErrMalformedFrame, frame[:peerHeaderSize])
	}
	var records []PeerRecord
	if err := json.Unmarshal(frame[peerHeaderSize:peerHeaderSize+n], &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return records, nil
}
