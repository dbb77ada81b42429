package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/OCAP2/rigstream/pkg/core"
)

func TestOrigin_ZeroValueLeavesMeters(t *testing.T) {
	var o Origin
	if o.Enabled() {
		t.Fatal("zero origin should be disabled")
	}

	coords, ok := o.Point(core.Position3D{X: 1.5, Y: -2, Z: 0.9}).Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if coords.X != 1.5 || coords.Y != -2 || coords.Z != 0.9 {
		t.Errorf("unexpected coordinates %+v", coords)
	}
}

func TestNewOrigin_AtNullIsland(t *testing.T) {
	o := NewOrigin(0, 0)
	x, y := o.Project(core.Position3D{X: 10, Y: 20})
	if math.Abs(x-10) > 1e-6 || math.Abs(y-20) > 1e-6 {
		t.Errorf("expected (10,20), got (%f,%f)", x, y)
	}
}

func TestNewOrigin_Hemispheres(t *testing.T) {
	o := NewOrigin(-45, -30)
	x, y := o.Project(core.Position3D{})
	if x >= 0 {
		t.Errorf("expected negative X for western hemisphere, got %f", x)
	}
	if y >= 0 {
		t.Errorf("expected negative Y for southern hemisphere, got %f", y)
	}
}

func TestOrigin_LonLatRoundTrip(t *testing.T) {
	o := NewOrigin(13.4, 52.5)

	lon, lat := o.LonLat(core.Position3D{})
	if math.Abs(lon-13.4) > 1e-6 || math.Abs(lat-52.5) > 1e-6 {
		t.Errorf("expected origin back, got (%f,%f)", lon, lat)
	}

	east, _ := o.LonLat(core.Position3D{X: 1000})
	if east <= lon {
		t.Errorf("moving +X should move east, got %f", east)
	}
}

func TestOrigin_LineString(t *testing.T) {
	var o Origin
	ls := o.LineString([]core.Position3D{{X: 0, Y: 0, Z: 1}, {X: 0, Y: 0, Z: 1.5}, {X: 0.1, Y: 0, Z: 1.8}})

	seq := ls.Coordinates()
	if seq.Length() != 3 {
		t.Fatalf("expected 3 points, got %d", seq.Length())
	}
	if z := seq.Get(2).Z; z != 1.8 {
		t.Errorf("expected Z=1.8, got %f", z)
	}

	if !o.LineString([]core.Position3D{{X: 1}}).IsEmpty() {
		t.Error("single point should give an empty line")
	}
}

func TestPosition3DFromString(t *testing.T) {
	p, err := Position3DFromString("1.5, -2,0.25")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != (core.Position3D{X: 1.5, Y: -2, Z: 0.25}) {
		t.Errorf("unexpected position %+v", p)
	}

	p, err = Position3DFromString("3,4")
	if err != nil || p.Z != 0 {
		t.Errorf("expected 2D parse with zero Z, got %+v %v", p, err)
	}

	for _, in := range []string{"", "1", "a,2", "1,2,3,4", "1,2,z"} {
		if _, err := Position3DFromString(in); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("%q: expected ErrInvalidCoordinates, got %v", in, err)
		}
	}
}
