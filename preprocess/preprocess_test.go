package preprocess

import (
	"testing"

	"github.com/frbseek/frbseek/dedisperse"
)

func testPlane(nTime, nDM int) *dedisperse.Plane {
	p := &dedisperse.Plane{
		Amp:       make([][]float64, nTime),
		DMs:       make([]float64, nDM),
		SampleSec: 0.001,
	}
	for t := range p.Amp {
		p.Amp[t] = make([]float64, nDM)
	}
	for d := range p.DMs {
		p.DMs[d] = float64(d)
	}
	return p
}

// A compact bright spot on a flat plane survives conditioning as Interesting
// pixels, and the input plane is left untouched.
func TestConditionCompactSpot(t *testing.T) {
	p := testPlane(256, 16)
	for dt := 0; dt < 2; dt++ {
		for dd := 0; dd < 2; dd++ {
			p.Amp[100+dt][8+dd] = 10
		}
	}

	res := Condition(p, Config{})

	for dt := 0; dt < 2; dt++ {
		for dd := 0; dd < 2; dd++ {
			if got := res.Mask[100+dt][8+dd]; got != Interesting {
				t.Errorf("mask[%d][%d] = %d, want Interesting", 100+dt, 8+dd, got)
			}
		}
	}
	if got := res.Mask[0][0]; got != Background {
		t.Errorf("mask[0][0] = %d, want Background", got)
	}
	if p.Amp[100][8] != 10 || p.Amp[0][0] != 0 {
		t.Error("Condition modified the input plane")
	}
}

// A long horizontal streak (persistent narrow-band interference mapped into
// the plane) exceeds the aspect limit and must be excluded, leaving no
// Interesting pixels behind.
func TestConditionExtendedStreak(t *testing.T) {
	p := testPlane(256, 16)
	for dt := 0; dt < 30; dt++ {
		p.Amp[100+dt][8] = 10
		p.Amp[100+dt][9] = 10
	}

	res := Condition(p, Config{})

	if got := res.Mask[110][8]; got != ExcludedExtended {
		t.Errorf("mask[110][8] = %d, want ExcludedExtended", got)
	}
	for tIdx, row := range res.Mask {
		for d, cls := range row {
			if cls == Interesting {
				t.Fatalf("mask[%d][%d] is Interesting, want none after streak exclusion", tIdx, d)
			}
		}
	}
}

// An oversized region is excluded even when its aspect is square.
func TestConditionOversizedRegion(t *testing.T) {
	p := testPlane(128, 64)
	for dt := 0; dt < 10; dt++ {
		for dd := 0; dd < 10; dd++ {
			p.Amp[60+dt][20+dd] = 10
		}
	}

	res := Condition(p, Config{MaxRegionPix: 50})
	if got := res.Mask[64][24]; got != ExcludedExtended {
		t.Errorf("mask[64][24] = %d, want ExcludedExtended", got)
	}
}

func TestRobustStats(t *testing.T) {
	cond := [][]float64{
		{1, 1, 1, 1},
		{1, 1, 1, 100},
	}
	med, sigma := robustStats(cond, nil)
	if med != 1 {
		t.Errorf("median = %g, want 1 (robust to the outlier)", med)
	}
	if sigma != 0 {
		t.Errorf("sigma = %g, want 0 (MAD of near-constant data)", sigma)
	}
}
