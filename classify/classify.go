// Package classify turns the output of a searched chunk into accept/reject
// verdicts. Three interchangeable policies share the same input contract:
// the t-DM plane plus the stream of (blob, fit) pairs measured on it.
package classify

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/frbseek/frbseek/blob"
	"github.com/frbseek/frbseek/dedisperse"
	"github.com/frbseek/frbseek/gaussfit"
)

const madScale = 1.4826

// Pair couples a blob with its Gaussian fit.
type Pair struct {
	Blob blob.Blob
	Fit  gaussfit.Result
}

// Detection is an accepted candidate position. Pair is nil for plane-level
// detections (Policy A), which consume no blob or fit.
type Detection struct {
	TimeSec    float64
	DM         float64
	Amp        float64
	Confidence float64
	Pair       *Pair
}

// Policy is one decision strategy. Implementations are deterministic given
// identical inputs and configuration.
type Policy interface {
	Name() string
	Decide(p *dedisperse.Plane, pairs []Pair) ([]Detection, error)
}

// PeakSearch is Policy A: it ignores blobs and fits entirely and looks for
// the single strongest peak on the plane, first in the time projection, then
// along DM at that time. Fastest, no shape discrimination, at most one
// detection per plane.
type PeakSearch struct {
	// NSigma is the acceptance threshold in robust sigmas above the median
	// of the time profile.
	NSigma float64
}

func (ps *PeakSearch) Name() string { return "peak" }

func (ps *PeakSearch) Decide(p *dedisperse.Plane, _ []Pair) ([]Detection, error) {
	nSigma := ps.NSigma
	if nSigma <= 0 {
		nSigma = 6
	}
	nTime, nDM := p.NumTime(), p.NumDM()
	if nTime == 0 || nDM == 0 {
		return nil, nil
	}

	// Collapse over DM to a time profile.
	profile := make([]float64, nTime)
	for t := 0; t < nTime; t++ {
		sum := 0.0
		for d := 0; d < nDM; d++ {
			sum += p.Amp[t][d]
		}
		profile[t] = sum / float64(nDM)
	}

	bestT := 0
	for t, v := range profile {
		if v > profile[bestT] {
			bestT = t
		}
	}

	med, sigma := robustProfileStats(profile)
	if sigma <= 0 || profile[bestT] <= med+nSigma*sigma {
		return nil, nil
	}

	bestD := 0
	for d := 0; d < nDM; d++ {
		if p.Amp[bestT][d] > p.Amp[bestT][bestD] {
			bestD = d
		}
	}
	return []Detection{{
		TimeSec: p.StartSec + float64(bestT)*p.SampleSec,
		DM:      p.DMs[bestD],
		Amp:     p.Amp[bestT][bestD],
	}}, nil
}

// FitThreshold is Policy B: it accepts converged fits whose amplitude clears
// a robust outlier threshold derived from the chunk's fit-amplitude
// distribution and whose shape is consistent with a narrow dispersed pulse.
// Deterministic, no training required.
type FitThreshold struct {
	// MinAmp is the amplitude floor. The effective threshold is the larger
	// of MinAmp and the auto-selected outlier cut.
	MinAmp float64
	// OutlierNSigma sets the auto threshold: median + n * MAD-sigma of the
	// converged fit amplitudes in the chunk.
	OutlierNSigma float64
	// MinAutoFits is the minimum number of converged fits needed before the
	// auto threshold is trusted over MinAmp alone.
	MinAutoFits int
	// MaxWidthRatio bounds SigmaDM / SigmaT; a narrow dispersed pulse is
	// compact along the DM axis at the true DM.
	MaxWidthRatio float64
	// MinEccentricity rejects round blobs, which are noise far more often
	// than pulses.
	MinEccentricity float64
	// ThetaMinDeg and ThetaMaxDeg window the fit orientation (degrees,
	// folded into [0, 180)). Zero values disable the gate.
	ThetaMinDeg float64
	ThetaMaxDeg float64
}

func (ft *FitThreshold) Name() string { return "fit" }

func (ft *FitThreshold) Decide(_ *dedisperse.Plane, pairs []Pair) ([]Detection, error) {
	maxRatio := ft.MaxWidthRatio
	if maxRatio <= 0 {
		maxRatio = 1.5
	}
	outlierN := ft.OutlierNSigma
	if outlierN <= 0 {
		outlierN = 5
	}
	minAutoFits := ft.MinAutoFits
	if minAutoFits <= 0 {
		minAutoFits = 8
	}

	var amps []float64
	for _, pr := range pairs {
		if pr.Fit.Converged {
			amps = append(amps, pr.Fit.Amp)
		}
	}

	thr := ft.MinAmp
	if len(amps) >= minAutoFits {
		sorted := append([]float64(nil), amps...)
		sort.Float64s(sorted)
		med := stat.Quantile(0.5, stat.Empirical, sorted, nil)
		dev := make([]float64, len(sorted))
		for i, v := range sorted {
			dev[i] = math.Abs(v - med)
		}
		sort.Float64s(dev)
		auto := med + outlierN*madScale*stat.Quantile(0.5, stat.Empirical, dev, nil)
		if auto > thr {
			thr = auto
		}
	}

	var out []Detection
	for i := range pairs {
		pr := &pairs[i]
		if !pr.Fit.Converged || pr.Fit.Amp <= thr {
			continue
		}
		if pr.Fit.SigmaDM/pr.Fit.SigmaT > maxRatio {
			continue
		}
		if pr.Blob.Eccentricity < ft.MinEccentricity {
			continue
		}
		if ft.ThetaMaxDeg > ft.ThetaMinDeg {
			deg := pr.Fit.ThetaRad * 180 / math.Pi
			if deg < ft.ThetaMinDeg || deg > ft.ThetaMaxDeg {
				continue
			}
		}
		conf := 0.0
		if pr.Fit.Amp > 0 {
			conf = (pr.Fit.Amp - thr) / pr.Fit.Amp
		}
		out = append(out, Detection{
			TimeSec:    pr.Fit.CenterSec,
			DM:         pr.Fit.CenterDM,
			Amp:        pr.Fit.Amp,
			Confidence: conf,
			Pair:       pr,
		})
	}
	return out, nil
}

// Learned is Policy C: a trained boosted-stump model scores each converged
// (blob, fit) pair; the thresholded probability gives the verdict and the
// probability itself the confidence. The model is an explicitly passed,
// read-only artifact, safe for concurrent inference across chunks.
type Learned struct {
	Model *Model
}

func (l *Learned) Name() string { return "clf" }

func (l *Learned) Decide(_ *dedisperse.Plane, pairs []Pair) ([]Detection, error) {
	if l.Model == nil {
		return nil, ErrModelMissing
	}
	var out []Detection
	for i := range pairs {
		pr := &pairs[i]
		if !pr.Fit.Converged {
			continue
		}
		prob := l.Model.Score(Features(*pr))
		if prob < l.Model.Threshold {
			continue
		}
		out = append(out, Detection{
			TimeSec:    pr.Fit.CenterSec,
			DM:         pr.Fit.CenterDM,
			Amp:        pr.Fit.Amp,
			Confidence: prob,
			Pair:       pr,
		})
	}
	return out, nil
}

// Features builds the Policy C feature vector: blob statistics concatenated
// with fit parameters. Order must match Model.FeatureNames.
func Features(pr Pair) []float64 {
	return []float64{
		float64(pr.Blob.PixCount),
		pr.Blob.Eccentricity,
		pr.Blob.PeakAmp,
		pr.Fit.Amp,
		pr.Fit.SigmaT,
		pr.Fit.SigmaDM,
		pr.Fit.ThetaRad,
		pr.Fit.Residual,
	}
}

// FeatureNames matches the order of Features.
func FeatureNames() []string {
	return []string{
		"pix_count", "eccentricity", "peak_amp",
		"fit_amp", "sigma_t", "sigma_dm", "theta", "residual",
	}
}

func robustProfileStats(profile []float64) (med, sigma float64) {
	sorted := append([]float64(nil), profile...)
	sort.Float64s(sorted)
	med = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	sigma = madScale * stat.Quantile(0.5, stat.Empirical, dev, nil)
	return med, sigma
}
