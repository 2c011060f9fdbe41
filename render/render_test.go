package render

import (
	"math"
	"testing"

	"github.com/frbseek/frbseek/dedisperse"
	"github.com/frbseek/frbseek/store"
)

func testPlane(nTime, nDM int) *dedisperse.Plane {
	p := &dedisperse.Plane{
		Amp:       make([][]float64, nTime),
		DMs:       make([]float64, nDM),
		SampleSec: 0.001,
	}
	for t := range p.Amp {
		p.Amp[t] = make([]float64, nDM)
		for d := range p.Amp[t] {
			p.Amp[t][d] = float64(t + d)
		}
	}
	for d := range p.DMs {
		p.DMs[d] = 10 * float64(d)
	}
	return p
}

func TestPlaneDimensions(t *testing.T) {
	p := testPlane(200, 50)

	img := Plane(p, Options{})
	if got := img.Bounds().Max; got.X != 200 || got.Y != 50 {
		t.Errorf("image bounds = %v, want 200x50", got)
	}

	withGrid := Plane(p, Options{AddGrid: true})
	if got := withGrid.Bounds().Max; got.X <= 200 || got.Y <= 50 {
		t.Errorf("grid image bounds = %v, want margins beyond 200x50", got)
	}
}

func TestPlaneFlatSurface(t *testing.T) {
	p := testPlane(10, 10)
	for tIdx := range p.Amp {
		for d := range p.Amp[tIdx] {
			p.Amp[tIdx][d] = 3
		}
	}
	// A constant surface must not divide by a zero amplitude range.
	img := Plane(p, Options{})
	if img == nil {
		t.Fatal("Plane() returned nil")
	}
}

func TestPlaneMarksCandidate(t *testing.T) {
	p := testPlane(200, 50)
	before := Plane(p, Options{})
	after := Plane(p, Options{Marks: []store.Candidate{{
		TimeSec: 0.1, // sample 100
		DM:      250, // trial 25
	}}})

	changed := 0
	for i := range before.Pix {
		if before.Pix[i] != after.Pix[i] {
			changed++
		}
	}
	if changed == 0 {
		t.Error("marker drew no pixels")
	}
}

func TestGetColorRange(t *testing.T) {
	if got := GetColor(math.MaxUint16); got != colors[len(colors)-1] {
		t.Errorf("GetColor(max) = %v, want %v", got, colors[len(colors)-1])
	}
	if got := GetColor(0); got.A != 255 {
		t.Errorf("GetColor(0) alpha = %d, want opaque", got.A)
	}
}
