// Package streaming defines the wire formats exchanged with viewers and peers.
package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Group names of the scene message, one per streamed object kind.
const (
	GroupMeshes = "meshes"
	GroupLights = "lights"
	GroupMetas  = "metas"
	GroupCurves = "curves"
	GroupTexts  = "texts"
)

// DefaultPrecision is the number of decimal places transforms and vertex
// buffers are rounded to before encoding.
const DefaultPrecision = 3

// MetaCube is the fixed edge length metaball elements are normalized into.
const MetaCube = 10.0

// Message is the per-tick scene update sent to one viewer. Objects are keyed
// by Key(uid).
type Message struct {
	Meshes  map[string]*Mesh  `json:"meshes"`
	Lights  map[string]*Light `json:"lights"`
	Metas   map[string]*Meta  `json:"metas"`
	Curves  map[string]*Curve `json:"curves"`
	Texts   map[string]*Text  `json:"texts"`
	FX      map[string]FX     `json:"FX"`
	Camera  Camera            `json:"camera"`
	Godrays bool              `json:"godrays"`
}

// NewMessage returns a message with every group allocated.
func NewMessage() *Message {
	return &Message{
		Meshes: map[string]*Mesh{},
		Lights: map[string]*Light{},
		Metas:  map[string]*Meta{},
		Curves: map[string]*Curve{},
		Texts:  map[string]*Text{},
		FX:     map[string]FX{},
	}
}

// Len is the number of objects in the message.
func (m *Message) Len() int {
	return len(m.Meshes) + len(m.Lights) + len(m.Metas) + len(m.Curves) + len(m.Texts)
}

// Camera carries the viewer's depth-of-field preferences.
type Camera struct {
	Rand     bool    `json:"rand"`
	Focus    float64 `json:"focus"`
	Aperture float64 `json:"aperture"`
	MaxBlur  float64 `json:"maxblur"`
}

// DefaultCamera is the camera a new session starts with.
func DefaultCamera() Camera {
	return Camera{Focus: 1.5, Aperture: 0.15, MaxBlur: 1.0}
}

// FX is one post-processing effect and its uniforms.
type FX struct {
	Enabled  bool               `json:"enabled"`
	Uniforms map[string]float64 `json:"uniforms,omitempty"`
}

// Transform is position, rotation as a (w, x, y, z) quaternion and scale,
// already converted to the viewer's axes.
type Transform struct {
	Pos [3]float64 `json:"pos"`
	Rot [4]float64 `json:"rot"`
	Scl [3]float64 `json:"scl"`
}

// Mesh is a streamed mesh object.
type Mesh struct {
	Transform
	Color          [3]float64     `json:"color"`
	Spec           *float64       `json:"spec"`
	DispBias       float64        `json:"disp_bias"`
	Disp           float64        `json:"disp"`
	Selected       bool           `json:"selected,omitempty"`
	Subsurf        int            `json:"subsurf"`
	Ptex           bool           `json:"ptex"`
	Norm           bool           `json:"norm"`
	AutoSubdiv     bool           `json:"auto_subdiv"`
	ReloadTextures bool           `json:"reload_textures,omitempty"`
	OnClick        string         `json:"on_click,omitempty"`
	OnInput        string         `json:"on_input,omitempty"`
	Custom         map[string]any `json:"custom_attributes,omitempty"`
	Verts          []float64      `json:"verts,omitempty"`
}

// Light is a streamed lamp.
type Light struct {
	Transform
	Energy float64    `json:"energy"`
	Color  [3]float64 `json:"color"`
	Dist   float64    `json:"dist"`
	Scale  float64    `json:"scale"`
}

// Spline is one spline of a curve.
type Spline struct {
	Closed    bool         `json:"closed"`
	Points    [][3]float64 `json:"points"`
	SegmentsU int          `json:"segments_u"`
	Color     [3]float64   `json:"color"`
}

// Curve is a streamed curve.
type Curve struct {
	Transform
	Splines   []Spline `json:"splines"`
	SegmentsV int      `json:"segments_v"`
	Radius    float64  `json:"radius"`
}

// MetaElement is a metaball element normalized into the MetaCube.
type MetaElement struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Radius float64 `json:"radius"`
}

// Meta is a streamed metaball object. Its scale is always the MetaCube.
type Meta struct {
	Transform
	Elements []MetaElement `json:"elements"`
	Color    [3]float64    `json:"color"`
}

// Text is a streamed text object.
type Text struct {
	Transform
	Text string  `json:"text"`
	Size float64 `json:"size"`
}

// Key returns the message key of an object uid.
func Key(uid uint16) string {
	return "__" + strconv.Itoa(int(uid)) + "__"
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (uint16, error) {
	s, ok := strings.CutPrefix(key, "__")
	if ok {
		s, ok = strings.CutSuffix(s, "__")
	}
	if !ok {
		return 0, fmt.Errorf("malformed object key %q", key)
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("malformed object key %q: %w", key, err)
	}
	return uint16(n), nil
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func round3(a [3]float64, places int) [3]float64 {
	for i := range a {
		a[i] = Round(a[i], places)
	}
	return a
}

func (t *Transform) round(places int) {
	t.Pos = round3(t.Pos, places)
	t.Scl = round3(t.Scl, places)
	for i := range t.Rot {
		t.Rot[i] = Round(t.Rot[i], places)
	}
}

// Encode rounds every transform and vertex buffer of m in place to the
// given precision and serializes the message.
func Encode(m *Message, precision int) ([]byte, error) {
	for _, o := range m.Meshes {
		o.Transform.round(precision)
		for i, v := range o.Verts {
			o.Verts[i] = Round(v, precision)
		}
	}
	for _, o := range m.Lights {
		o.Transform.round(precision)
	}
	for _, o := range m.Metas {
		o.Transform.round(precision)
	}
	for _, o := range m.Curves {
		o.Transform.round(precision)
		for _, s := range o.Splines {
			for i, p := range s.Points {
				s.Points[i] = round3(p, precision)
			}
		}
	}
	for _, o := range m.Texts {
		o.Transform.round(precision)
	}
	return json.Marshal(m)
}

// Decode parses an encoded message.
func Decode(data []byte) (*Message, error) {
	m := NewMessage()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

func (t Transform) transform() Transform { return t }

// Transforms returns every object transform of m keyed by uid.
func (m *Message) Transforms() (map[uint16]Transform, error) {
	out := make(map[uint16]Transform, m.Len())
	err := errors.Join(
		collect(out, m.Meshes),
		collect(out, m.Lights),
		collect(out, m.Metas),
		collect(out, m.Curves),
		collect(out, m.Texts),
	)
	return out, err
}

func collect[T interface{ transform() Transform }](out map[uint16]Transform, group map[string]T) error {
	for key, o := range group {
		uid, err := ParseKey(key)
		if err != nil {
			return err
		}
		out[uid] = o.transform()
	}
	return nil
}
