// Package blob extracts connected regions of interesting pixels from a
// segmentation mask and measures their statistics on the original t-DM plane.
package blob

import (
	"math"

	"github.com/frbseek/frbseek/dedisperse"
	"github.com/frbseek/frbseek/preprocess"
)

// Blob is one connected region on the plane. Bounding box indices are
// half-open on the original plane's (time, DM) coordinate system.
type Blob struct {
	Label int

	T0, T1 int
	D0, D1 int

	PixCount int
	PeakAmp  float64
	PeakT    int
	PeakD    int
	MeanAmp  float64
	VarAmp   float64

	// Elongation is sqrt of the major/minor second-moment eigenvalue ratio;
	// Eccentricity is the standard ellipse eccentricity of the same moments.
	Elongation   float64
	Eccentricity float64
}

// Extract returns the connected components of Interesting pixels in the mask
// using 8-connectivity. Components with fewer than minPix pixels are
// discarded before the expensive fit step. An empty mask yields an empty
// result, not an error. All statistics are measured on the original plane p.
func Extract(p *dedisperse.Plane, mask [][]preprocess.PixelClass, minPix int) []Blob {
	nTime := len(mask)
	nDM := 0
	if nTime > 0 {
		nDM = len(mask[0])
	}
	if minPix < 1 {
		minPix = 1
	}

	visited := make([][]bool, nTime)
	for t := range visited {
		visited[t] = make([]bool, nDM)
	}

	var blobs []Blob
	label := 0
	for t0 := 0; t0 < nTime; t0++ {
		for d0 := 0; d0 < nDM; d0++ {
			if visited[t0][d0] || mask[t0][d0] != preprocess.Interesting {
				continue
			}
			region := []pix{{t0, d0}}
			visited[t0][d0] = true
			for i := 0; i < len(region); i++ {
				c := region[i]
				for dt := -1; dt <= 1; dt++ {
					for dd := -1; dd <= 1; dd++ {
						t, d := c.t+dt, c.d+dd
						if t < 0 || t >= nTime || d < 0 || d >= nDM {
							continue
						}
						if visited[t][d] || mask[t][d] != preprocess.Interesting {
							continue
						}
						visited[t][d] = true
						region = append(region, pix{t, d})
					}
				}
			}
			if len(region) < minPix {
				continue
			}

			label++
			b := Blob{
				Label: label,
				T0:    region[0].t, T1: region[0].t + 1,
				D0: region[0].d, D1: region[0].d + 1,
				PixCount: len(region),
				PeakAmp:  math.Inf(-1),
			}
			sum, sumSq := 0.0, 0.0
			for _, c := range region {
				if c.t < b.T0 {
					b.T0 = c.t
				}
				if c.t+1 > b.T1 {
					b.T1 = c.t + 1
				}
				if c.d < b.D0 {
					b.D0 = c.d
				}
				if c.d+1 > b.D1 {
					b.D1 = c.d + 1
				}
				v := p.Amp[c.t][c.d]
				sum += v
				sumSq += v * v
				if v > b.PeakAmp {
					b.PeakAmp = v
					b.PeakT = c.t
					b.PeakD = c.d
				}
			}
			n := float64(len(region))
			b.MeanAmp = sum / n
			b.VarAmp = sumSq/n - b.MeanAmp*b.MeanAmp
			if b.VarAmp < 0 {
				b.VarAmp = 0
			}

			b.Elongation, b.Eccentricity = shapeMoments(p, region)
			blobs = append(blobs, b)
		}
	}
	return blobs
}

type pix struct{ t, d int }

// shapeMoments computes the amplitude-weighted central second moments of the
// region and derives elongation and eccentricity from their eigenvalues.
func shapeMoments(p *dedisperse.Plane, region []pix) (elongation, eccentricity float64) {
	wSum, tBar, dBar := 0.0, 0.0, 0.0
	for _, c := range region {
		w := p.Amp[c.t][c.d]
		if w <= 0 {
			w = 1e-12
		}
		wSum += w
		tBar += w * float64(c.t)
		dBar += w * float64(c.d)
	}
	tBar /= wSum
	dBar /= wSum

	var mtt, mdd, mtd float64
	for _, c := range region {
		w := p.Amp[c.t][c.d]
		if w <= 0 {
			w = 1e-12
		}
		dt := float64(c.t) - tBar
		dd := float64(c.d) - dBar
		mtt += w * dt * dt
		mdd += w * dd * dd
		mtd += w * dt * dd
	}
	mtt /= wSum
	mdd /= wSum
	mtd /= wSum

	// Eigenvalues of the 2x2 moment matrix.
	tr := mtt + mdd
	det := mtt*mdd - mtd*mtd
	disc := tr*tr/4 - det
	if disc < 0 {
		disc = 0
	}
	l1 := tr/2 + math.Sqrt(disc)
	l2 := tr/2 - math.Sqrt(disc)
	if l1 <= 0 {
		return 1, 0
	}
	if l2 <= 0 {
		// Degenerate (single pixel or a line): maximally elongated.
		return math.Inf(1), 1
	}
	return math.Sqrt(l1 / l2), math.Sqrt(1 - l2/l1)
}
