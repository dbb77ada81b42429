// Package worker implements the built-in viewer actions: rig healing, pose
// blending, tension, selection, forced steps and resets.
package worker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/OCAP2/rigstream/internal/rig"
	"github.com/OCAP2/rigstream/internal/scene"
)

// ErrShortArgs is returned when an action's packed arguments are truncated.
var ErrShortArgs = errors.New("short action arguments")

// Dependencies holds everything the action handlers touch. Handlers run on
// the simulation goroutine.
type Dependencies struct {
	Rigs   *rig.Registry
	Scene  *scene.Scene
	Logger *slog.Logger
}

// Manager owns the built-in action handlers.
type Manager struct {
	deps Dependencies
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{deps: deps}
}

// args reads little-endian packed action arguments.
type args struct {
	b []byte
}

func (a *args) float32() (float64, error) {
	if len(a.b) < 4 {
		return 0, ErrShortArgs
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(a.b))
	a.b = a.b[4:]
	return float64(v), nil
}

func (a *args) uint16() (uint16, error) {
	if len(a.b) < 2 {
		return 0, ErrShortArgs
	}
	v := binary.LittleEndian.Uint16(a.b)
	a.b = a.b[2:]
	return v, nil
}

// name consumes a NUL-terminated string, or the rest of the arguments.
func (a *args) name() (string, error) {
	if len(a.b) == 0 {
		return "", ErrShortArgs
	}
	for i, c := range a.b {
		if c == 0 {
			s := string(a.b[:i])
			a.b = a.b[i+1:]
			return s, nil
		}
	}
	s := string(a.b)
	a.b = nil
	return s, nil
}

// PackFloat32 appends v as a little-endian float32.
func PackFloat32(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
}

// PackUint16 appends v little-endian.
func PackUint16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

// PackName appends a NUL-terminated name.
func PackName(b []byte, name string) []byte {
	return append(append(b, name...), 0)
}

func (m *Manager) rig(name string) (*rig.Rig, error) {
	r, ok := m.deps.Rigs.Get(name)
	if !ok {
		return nil, fmt.Errorf("no rig named %q", name)
	}
	return r, nil
}
