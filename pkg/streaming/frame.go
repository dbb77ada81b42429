package streaming

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrMalformedFrame is returned for inbound frames that cannot be parsed.
var ErrMalformedFrame = errors.New("malformed frame")

// CameraPayloadSize is the payload length of a camera frame: six
// little-endian float32 values.
const CameraPayloadSize = 24

// FrameKind classifies an inbound viewer frame by its first byte and length.
type FrameKind int

const (
	// FrameCamera carries the player position and focal point.
	FrameCamera FrameKind = iota
	// FramePing is a single text byte.
	FramePing
	// FrameAction carries an action code and packed arguments.
	FrameAction
)

func (k FrameKind) String() string {
	switch k {
	case FrameCamera:
		return "camera"
	case FramePing:
		return "ping"
	case FrameAction:
		return "action"
	}
	return "unknown"
}

// Frame is a parsed inbound frame.
type Frame struct {
	Kind     FrameKind
	Position mgl64.Vec3
	Focal    mgl64.Vec3
	Ping     byte
	Code     byte
	Args     []byte
}

// ParseFrame classifies and decodes one inbound frame. A discriminant-0
// frame with any payload other than CameraPayloadSize bytes is malformed.
func ParseFrame(b []byte) (Frame, error) {
	switch {
	case len(b) == 0:
		return Frame{}, fmt.Errorf("%w: empty", ErrMalformedFrame)
	case b[0] == 0:
		payload := b[1:]
		if len(payload) != CameraPayloadSize {
			return Frame{}, fmt.Errorf("%w: camera payload is %d bytes, want %d", ErrMalformedFrame, len(payload), CameraPayloadSize)
		}
		var v [6]float64
		for i := range v {
			v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:])))
		}
		return Frame{
			Kind:     FrameCamera,
			Position: mgl64.Vec3{v[0], v[1], v[2]},
			Focal:    mgl64.Vec3{v[3], v[4], v[5]},
		}, nil
	case len(b) == 1:
		return Frame{Kind: FramePing, Ping: b[0]}, nil
	}
	return Frame{Kind: FrameAction, Code: b[0], Args: b[1:]}, nil
}

// EncodeCameraFrame builds the camera frame a viewer sends.
func EncodeCameraFrame(position, focal mgl64.Vec3) []byte {
	b := make([]byte, 1+CameraPayloadSize)
	vals := [6]float64{position[0], position[1], position[2], focal[0], focal[1], focal[2]}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[1+i*4:], math.Float32bits(float32(v)))
	}
	return b
}

// EncodeActionFrame builds an action frame.
func EncodeActionFrame(code byte, args []byte) []byte {
	return append([]byte{code}, args...)
}
