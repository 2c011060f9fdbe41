package gaussfit

import (
	"math"
	"reflect"
	"testing"

	"github.com/frbseek/frbseek/blob"
	"github.com/frbseek/frbseek/dedisperse"
)

func gaussPlane(nTime, nDM int, amp, ct, cd, st, sd float64) *dedisperse.Plane {
	p := &dedisperse.Plane{
		Amp:       make([][]float64, nTime),
		DMs:       make([]float64, nDM),
		SampleSec: 0.001,
	}
	for d := range p.DMs {
		p.DMs[d] = float64(d)
	}
	for t := range p.Amp {
		p.Amp[t] = make([]float64, nDM)
		for d := range p.Amp[t] {
			dt := (float64(t) - ct) / st
			dd := (float64(d) - cd) / sd
			p.Amp[t][d] = amp * math.Exp(-(dt*dt+dd*dd)/2)
		}
	}
	return p
}

func gaussBlob(ct, cd int) blob.Blob {
	return blob.Blob{
		T0: ct - 4, T1: ct + 5,
		D0: cd - 3, D1: cd + 4,
		PixCount: 40,
		PeakT:    ct,
		PeakD:    cd,
		PeakAmp:  10,
	}
}

func TestFitRecoversGaussian(t *testing.T) {
	p := gaussPlane(48, 48, 10, 24, 20, 3, 2)
	b := gaussBlob(24, 20)
	cfg := Config{MaxIterations: 2000}

	res := Fit(p, b, cfg)
	if !res.Converged {
		t.Fatalf("Fit() not converged: %+v", res)
	}
	if math.Abs(res.CenterSec-0.024) > p.SampleSec {
		t.Errorf("CenterSec = %g, want 0.024 within one sample", res.CenterSec)
	}
	if math.Abs(res.CenterDM-20) > 1 {
		t.Errorf("CenterDM = %g, want 20 within one trial step", res.CenterDM)
	}
	if math.Abs(res.Amp-10) > 1 {
		t.Errorf("Amp = %g, want 10 within 1", res.Amp)
	}
	if math.Abs(res.SigmaT-3) > 1 {
		t.Errorf("SigmaT = %g, want 3 within 1", res.SigmaT)
	}
	if math.Abs(res.SigmaDM-2) > 1 {
		t.Errorf("SigmaDM = %g, want 2 within 1", res.SigmaDM)
	}
	if res.Residual > 0.5 {
		t.Errorf("Residual = %g, want < 0.5 on noiseless data", res.Residual)
	}
}

// The same window fitted twice yields bit-identical results: no hidden
// randomness anywhere in the path.
func TestFitDeterministic(t *testing.T) {
	p := gaussPlane(48, 48, 10, 24, 20, 3, 2)
	b := gaussBlob(24, 20)
	cfg := Config{MaxIterations: 2000}

	r1 := Fit(p, b, cfg)
	r2 := Fit(p, b, cfg)
	if !reflect.DeepEqual(r1, r2) {
		t.Errorf("repeat fit differs:\n%+v\n%+v", r1, r2)
	}
}

// A flat window has no amplitude to fit; the failure is explicit, not an
// error or a bogus parameter set.
func TestFitFlatWindow(t *testing.T) {
	p := gaussPlane(32, 32, 0, 16, 16, 3, 2)
	b := blob.Blob{T0: 14, T1: 18, D0: 14, D1: 18, PeakT: 16, PeakD: 16}

	res := Fit(p, b, Config{})
	if res.Converged {
		t.Errorf("Fit() on flat window converged: %+v", res)
	}
}

// A window too small to constrain the model is rejected up front.
func TestFitDegenerateWindow(t *testing.T) {
	p := &dedisperse.Plane{
		Amp:       [][]float64{{1, 2, 3}},
		DMs:       []float64{0, 1, 2},
		SampleSec: 0.001,
	}
	b := blob.Blob{T0: 0, T1: 1, D0: 1, D1: 2, PeakT: 0, PeakD: 1, PeakAmp: 2}

	res := Fit(p, b, Config{})
	if res.Converged {
		t.Errorf("Fit() on single-row plane converged: %+v", res)
	}
}

func TestNormalizeTheta(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi / 4, math.Pi / 4},
		{math.Pi, 0},
		{-math.Pi / 4, 3 * math.Pi / 4},
	}
	for _, tt := range tests {
		if got := normalizeTheta(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("normalizeTheta(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}
