// frbtrain builds the learned-policy model artifact. It injects synthetic
// pulses into otherwise pulse-free chunks to label positives, takes natural
// blobs from the same chunks as negatives, selects hyperparameters by grid
// search with cross-validation and writes the versioned model JSON.
//
// This is a one-time batch operation; searches only ever load the artifact.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/frbseek/frbseek/classify"
	"github.com/frbseek/frbseek/dedisperse"
	"github.com/frbseek/frbseek/dynspec"
	"github.com/frbseek/frbseek/gaussfit"
	"github.com/frbseek/frbseek/search"
)

// Flags
var (
	modelOut = flag.String("modelOut", "frbseek-model.json", "path to write the trained model artifact")

	minDM  = flag.Float64("minDM", 0, "lowest trial dispersion measure")
	maxDM  = flag.Float64("maxDM", 1000, "highest trial dispersion measure")
	stepDM = flag.Float64("stepDM", 1, "trial dispersion measure step")

	// Injection amplitudes are deliberately operator-chosen, not derived
	// from the noise floor.
	injectAmps   = flag.String("amps", "3,5,8", "comma separated injection amplitudes")
	injectDMs    = flag.String("dms", "100,300,500", "comma separated injection dispersion measures")
	injectWidth  = flag.Float64("width", 0.005, "injected pulse width in seconds")
	minBlobPix   = flag.Int("minBlobPix", 3, "discard connected regions below this pixel count")
	folds        = flag.Int("folds", 5, "cross-validation folds")
	rounds       = flag.String("rounds", "25,50,100", "comma separated boosting round candidates")
	shrinkages   = flag.String("shrinkages", "0.05,0.1,0.3", "comma separated shrinkage candidates")
	threshold    = flag.Float64("threshold", 0.5, "acceptance probability threshold stored in the artifact")
)

func parseFloats(s string) []float64 {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			glog.Exitf("unable to parse %q as float list: %s", s, err)
		}
		out = append(out, v)
	}
	return out
}

func parseInts(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			glog.Exitf("unable to parse %q as int list: %s", s, err)
		}
		out = append(out, v)
	}
	return out
}

func loadChunk(path string) (*dynspec.Spectrum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sp := &dynspec.Spectrum{}
	if err := json.Unmarshal(data, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

func main() {
	ctx := context.Background()
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()

	cfg := search.Config{
		Grid:       dedisperse.Grid{MinDM: *minDM, MaxDM: *maxDM, StepDM: *stepDM},
		Fit:        gaussfit.Config{},
		MinBlobPix: *minBlobPix,
	}
	amps := parseFloats(*injectAmps)
	dms := parseFloats(*injectDMs)

	var features [][]float64
	var labels []int
	for _, path := range flag.Args() {
		sp, err := loadChunk(path)
		if err != nil {
			glog.Warningf("unable to load chunk %q: %s\n", path, err)
			continue
		}

		// Negatives: naturally occurring blobs in the pulse-free chunk.
		_, pairs, err := search.MeasurePairs(ctx, sp, cfg)
		if err != nil {
			glog.Warningf("unable to measure chunk %q: %s\n", path, err)
			continue
		}
		for _, pr := range pairs {
			if !pr.Fit.Converged {
				continue
			}
			features = append(features, classify.Features(pr))
			labels = append(labels, 0)
		}

		// Positives: the blob recovered at each injection site.
		midSec := float64(sp.NumTime()) * sp.SampleSec / 2
		for _, dm := range dms {
			for _, amp := range amps {
				injected := dynspec.Inject(sp, dynspec.Pulse{
					DM:       dm,
					TimeSec:  midSec,
					Amp:      amp,
					WidthSec: *injectWidth,
				})
				_, pairs, err := search.MeasurePairs(ctx, injected, cfg)
				if err != nil {
					glog.Warningf("unable to measure injected chunk %q: %s\n", path, err)
					continue
				}
				pr, ok := recoveredPair(pairs, sp.StartSec+midSec, dm, sp.SampleSec, *stepDM)
				if !ok {
					glog.V(1).Infof("injection dm=%g amp=%g not recovered in %q", dm, amp, path)
					continue
				}
				features = append(features, classify.Features(pr))
				labels = append(labels, 1)
			}
		}
	}

	pos := 0
	for _, y := range labels {
		pos += y
	}
	glog.Infof("training set: %d samples (%d positive)\n", len(labels), pos)

	model, acc, err := classify.GridSearch(features, labels, *folds, parseInts(*rounds), parseFloats(*shrinkages), *threshold)
	if err != nil {
		glog.Exitf("training failed: %s", err)
	}
	glog.Infof("best cross-validation accuracy: %.3f (%d stumps)\n", acc, len(model.Stumps))

	if err := model.Save(*modelOut); err != nil {
		glog.Exitf("unable to write model artifact %q: %s", *modelOut, err)
	}
	glog.Infof("wrote model artifact to %s\n", *modelOut)
	glog.Flush()
}

// recoveredPair returns the converged pair whose fit center lies within two
// time bins and two trial steps of the injection site.
func recoveredPair(pairs []classify.Pair, tSec, dm, sampleSec, stepDM float64) (classify.Pair, bool) {
	bestDist := math.Inf(1)
	var best classify.Pair
	for _, pr := range pairs {
		if !pr.Fit.Converged {
			continue
		}
		dt := math.Abs(pr.Fit.CenterSec-tSec) / sampleSec
		dd := math.Abs(pr.Fit.CenterDM-dm) / stepDM
		if dt > 2 || dd > 2 {
			continue
		}
		if d := dt*dt + dd*dd; d < bestDist {
			bestDist = d
			best = pr
		}
	}
	return best, !math.IsInf(bestDist, 1)
}
