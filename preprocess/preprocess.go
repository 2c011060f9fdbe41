// Package preprocess conditions a t-DM plane for blob segmentation. The
// output mask is only used to find candidate footprints; all amplitude
// measurements happen on the original, untouched plane.
package preprocess

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/frbseek/frbseek/dedisperse"
)

// madScale converts a median absolute deviation into a Gaussian sigma.
const madScale = 1.4826

// PixelClass discriminates plane pixels after conditioning.
type PixelClass uint8

const (
	// Background pixels carry no evidence of a pulse.
	Background PixelClass = iota
	// Interesting pixels exceed the noise threshold and belong to no
	// extended structure. Blob extraction runs on these.
	Interesting
	// ExcludedExtended pixels belong to a broadband or long-lived structure
	// whose size or aspect is inconsistent with a dispersed pulse. They are
	// masked rather than deleted.
	ExcludedExtended
)

type Config struct {
	// BackgroundWindow is the moving-average window (in time samples) used
	// to estimate and subtract the slow background trend per trial DM.
	BackgroundWindow int
	// ExtendedNSigma is the provisional threshold (in robust sigmas) used
	// to detect extended structures before the final segmentation pass.
	ExtendedNSigma float64
	// MaxRegionPix marks any provisional region larger than this as extended.
	MaxRegionPix int
	// MaxAspect marks a region as extended when its bounding-box time extent
	// exceeds MaxAspect times its DM extent (a horizontal streak is
	// persistent interference, not a pulse).
	MaxAspect float64
	// NSigma is the final segmentation threshold in robust sigmas above the
	// median of the conditioned plane.
	NSigma float64
}

func (c Config) withDefaults() Config {
	if c.BackgroundWindow <= 0 {
		c.BackgroundWindow = 64
	}
	if c.ExtendedNSigma <= 0 {
		c.ExtendedNSigma = 6
	}
	if c.MaxRegionPix <= 0 {
		c.MaxRegionPix = 2500
	}
	if c.MaxAspect <= 0 {
		c.MaxAspect = 8
	}
	if c.NSigma <= 0 {
		c.NSigma = 4
	}
	return c
}

// Result is the conditioned surface plus its discriminated mask, both keyed
// to the same axes as the input plane.
type Result struct {
	Cond      [][]float64
	Mask      [][]PixelClass
	Threshold float64
}

// Condition derives the conditioned plane and segmentation mask from p.
// The input plane is not modified.
func Condition(p *dedisperse.Plane, cfg Config) *Result {
	cfg = cfg.withDefaults()
	nTime, nDM := p.NumTime(), p.NumDM()

	res := &Result{
		Cond: make([][]float64, nTime),
		Mask: make([][]PixelClass, nTime),
	}
	for t := 0; t < nTime; t++ {
		res.Cond[t] = make([]float64, nDM)
		res.Mask[t] = make([]PixelClass, nDM)
	}

	subtractBackground(p, res.Cond, cfg.BackgroundWindow)
	maskExtended(res, cfg)

	med, sigma := robustStats(res.Cond, res.Mask)
	res.Threshold = med + cfg.NSigma*sigma
	for t := 0; t < nTime; t++ {
		for d := 0; d < nDM; d++ {
			if res.Mask[t][d] == ExcludedExtended {
				continue
			}
			if res.Cond[t][d] > res.Threshold {
				res.Mask[t][d] = Interesting
			}
		}
	}
	return res
}

// subtractBackground removes the slow per-trial trend: for each trial DM the
// moving average over time is estimated and subtracted.
func subtractBackground(p *dedisperse.Plane, cond [][]float64, window int) {
	nTime, nDM := p.NumTime(), p.NumDM()
	half := window / 2
	for d := 0; d < nDM; d++ {
		// Prefix sums along time for O(1) window means.
		prefix := make([]float64, nTime+1)
		for t := 0; t < nTime; t++ {
			prefix[t+1] = prefix[t] + p.Amp[t][d]
		}
		for t := 0; t < nTime; t++ {
			lo := t - half
			if lo < 0 {
				lo = 0
			}
			hi := t + half + 1
			if hi > nTime {
				hi = nTime
			}
			bg := (prefix[hi] - prefix[lo]) / float64(hi-lo)
			cond[t][d] = p.Amp[t][d] - bg
		}
	}
}

// maskExtended finds provisional bright regions and marks those whose size or
// aspect cannot be a dispersed pulse as ExcludedExtended.
func maskExtended(res *Result, cfg Config) {
	med, sigma := robustStats(res.Cond, nil)
	thr := med + cfg.ExtendedNSigma*sigma

	nTime := len(res.Cond)
	nDM := 0
	if nTime > 0 {
		nDM = len(res.Cond[0])
	}
	visited := make([][]bool, nTime)
	for t := range visited {
		visited[t] = make([]bool, nDM)
	}

	type pix struct{ t, d int }
	for t0 := 0; t0 < nTime; t0++ {
		for d0 := 0; d0 < nDM; d0++ {
			if visited[t0][d0] || res.Cond[t0][d0] <= thr {
				continue
			}
			// Flood fill with 8-connectivity.
			region := []pix{{t0, d0}}
			visited[t0][d0] = true
			minT, maxT, minD, maxD := t0, t0, d0, d0
			for i := 0; i < len(region); i++ {
				c := region[i]
				for dt := -1; dt <= 1; dt++ {
					for dd := -1; dd <= 1; dd++ {
						t, d := c.t+dt, c.d+dd
						if t < 0 || t >= nTime || d < 0 || d >= nDM {
							continue
						}
						if visited[t][d] || res.Cond[t][d] <= thr {
							continue
						}
						visited[t][d] = true
						region = append(region, pix{t, d})
					}
				}
				if c.t < minT {
					minT = c.t
				}
				if c.t > maxT {
					maxT = c.t
				}
				if c.d < minD {
					minD = c.d
				}
				if c.d > maxD {
					maxD = c.d
				}
			}

			extT := maxT - minT + 1
			extD := maxD - minD + 1
			if len(region) > cfg.MaxRegionPix || float64(extT) > cfg.MaxAspect*float64(extD) {
				for _, c := range region {
					res.Mask[c.t][c.d] = ExcludedExtended
				}
			}
		}
	}
}

// robustStats returns the median and MAD-derived sigma of the conditioned
// plane, skipping excluded pixels when a mask is given.
func robustStats(cond [][]float64, mask [][]PixelClass) (med, sigma float64) {
	var vals []float64
	for t, row := range cond {
		for d, v := range row {
			if mask != nil && mask[t][d] == ExcludedExtended {
				continue
			}
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	sort.Float64s(vals)
	med = stat.Quantile(0.5, stat.Empirical, vals, nil)

	dev := make([]float64, len(vals))
	for i, v := range vals {
		if v >= med {
			dev[i] = v - med
		} else {
			dev[i] = med - v
		}
	}
	sort.Float64s(dev)
	sigma = madScale * stat.Quantile(0.5, stat.Empirical, dev, nil)
	return med, sigma
}
