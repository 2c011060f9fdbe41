// Package gaussfit fits a 2D elliptical Gaussian to a blob's footprint on
// the original t-DM plane. The model is
//
//	amp * exp(-Q(t, dm)) + offset
//
// where Q is the quadratic form parameterized by center, the two sigmas and
// a rotation angle. The optimizer runs under a bounded iteration count and
// reports failure explicitly instead of hanging or throwing.
package gaussfit

import (
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/frbseek/frbseek/blob"
	"github.com/frbseek/frbseek/dedisperse"
)

type Config struct {
	// Margin expands the blob bounding box on every side (in pixels) to give
	// the optimizer context around the footprint.
	Margin int
	// MaxIterations bounds the optimizer. When exhausted the fit is marked
	// failed, not retried.
	MaxIterations int
}

func (c Config) withDefaults() Config {
	if c.Margin <= 0 {
		c.Margin = 4
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 400
	}
	return c
}

// Result is the fit outcome in physical units. A fit that failed to converge
// or violated its bounds has Converged false and must be excluded from
// candidate generation.
type Result struct {
	CenterSec float64
	CenterDM  float64
	Amp       float64
	Offset    float64
	SigmaT    float64 // in time samples
	SigmaDM   float64 // in trial-DM steps
	ThetaRad  float64
	Residual  float64 // RMS residual over the fit window
	Converged bool
	Iterations int
}

// Fit fits the Gaussian model to b's window on the original plane p.
// Deterministic: the initial guess is derived from the blob and the
// optimizer uses no randomness, so fitting the same window twice yields
// identical parameters.
func Fit(p *dedisperse.Plane, b blob.Blob, cfg Config) Result {
	cfg = cfg.withDefaults()

	t0 := b.T0 - cfg.Margin
	if t0 < 0 {
		t0 = 0
	}
	t1 := b.T1 + cfg.Margin
	if t1 > p.NumTime() {
		t1 = p.NumTime()
	}
	d0 := b.D0 - cfg.Margin
	if d0 < 0 {
		d0 = 0
	}
	d1 := b.D1 + cfg.Margin
	if d1 > p.NumDM() {
		d1 = p.NumDM()
	}
	nT, nD := t1-t0, d1-d0
	if nT < 2 || nD < 2 {
		return Result{}
	}

	// Window copy with the in-window floor removed, matching how the blob
	// footprint was measured against local background.
	win := make([][]float64, nT)
	floor := math.Inf(1)
	for t := 0; t < nT; t++ {
		win[t] = make([]float64, nD)
		for d := 0; d < nD; d++ {
			v := p.Amp[t0+t][d0+d]
			win[t][d] = v
			if v < floor {
				floor = v
			}
		}
	}

	amp0, ct0, cd0, width0 := inferInitial(win, b, t0, d0, floor)
	if amp0 <= 0 {
		return Result{}
	}

	// Parameters: amp, centerT, centerD, sigmaT, sigmaDM, theta, offset.
	x0 := []float64{amp0, ct0, cd0, width0, width0, 0, floor}
	problem := optimize.Problem{
		Func: func(x []float64) float64 { return sumSq(win, x) },
	}
	settings := &optimize.Settings{
		MajorIterations: cfg.MaxIterations,
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return Result{Iterations: cfg.MaxIterations}
	}

	out := Result{
		Amp:        res.X[0],
		Offset:     res.X[6],
		SigmaT:     math.Abs(res.X[3]),
		SigmaDM:    math.Abs(res.X[4]),
		ThetaRad:   normalizeTheta(res.X[5]),
		Iterations: res.Stats.MajorIterations,
	}
	out.Residual = math.Sqrt(res.F / float64(nT*nD))
	out.CenterSec = p.StartSec + (float64(t0)+res.X[1])*p.SampleSec
	out.CenterDM = p.DMs[0] + (float64(d0)+res.X[2])*p.StepDM()

	// Bounds: converged status, positive amplitude and sigmas, center inside
	// the window. Anything else is an explicit failure.
	if res.Status != optimize.IterationLimit && res.Status.Err() != nil {
		return out
	}
	if res.Stats.MajorIterations >= cfg.MaxIterations {
		return out
	}
	if out.Amp <= 0 || out.SigmaT <= 0 || out.SigmaDM <= 0 {
		return out
	}
	if res.X[1] < 0 || res.X[1] > float64(nT-1) || res.X[2] < 0 || res.X[2] > float64(nD-1) {
		return out
	}
	out.Converged = true
	return out
}

// inferInitial estimates amplitude, center and width from the blob peak and
// its half-maximum extents inside the window.
func inferInitial(win [][]float64, b blob.Blob, t0, d0 int, floor float64) (amp, ct, cd, width float64) {
	pt := b.PeakT - t0
	pd := b.PeakD - d0
	if pt < 0 || pt >= len(win) || pd < 0 || pd >= len(win[0]) {
		return 0, 0, 0, 0
	}
	amp = win[pt][pd] - floor
	half := floor + amp/2

	dt := 0
	for _, row := range win {
		if row[pd] > half {
			dt++
		}
	}
	dd := 0
	for _, v := range win[pt] {
		if v > half {
			dd++
		}
	}
	width = math.Sqrt(float64(dt*dt+dd*dd)) / 2
	if width < 1 {
		width = 1
	}
	return amp, float64(pt), float64(pd), width
}

// sumSq is the least-squares objective over the window.
func sumSq(win [][]float64, x []float64) float64 {
	amp, ct, cd := x[0], x[1], x[2]
	st, sd := math.Abs(x[3]), math.Abs(x[4])
	theta, offset := x[5], x[6]
	if st < 1e-6 {
		st = 1e-6
	}
	if sd < 1e-6 {
		sd = 1e-6
	}
	sin, cos := math.Sincos(theta)

	a := cos*cos/(2*st*st) + sin*sin/(2*sd*sd)
	bq := sin*cos*(1/(2*sd*sd)-1/(2*st*st))
	c := sin*sin/(2*st*st) + cos*cos/(2*sd*sd)

	sum := 0.0
	for t, row := range win {
		dt := float64(t) - ct
		for d, v := range row {
			dd := float64(d) - cd
			model := amp*math.Exp(-(a*dt*dt+2*bq*dt*dd+c*dd*dd)) + offset
			r := v - model
			sum += r * r
		}
	}
	return sum
}

// normalizeTheta folds the rotation angle into [0, pi).
func normalizeTheta(theta float64) float64 {
	theta = math.Mod(theta, math.Pi)
	if theta < 0 {
		theta += math.Pi
	}
	return theta
}
