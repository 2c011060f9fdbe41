// Package search orchestrates the per-chunk pipeline: dedisperse the
// spectrum, condition the plane, extract blobs, fit them, run the decision
// policy and persist the outcome. Chunks are the unit of restartability;
// failures never cross chunk boundaries.
package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/frbseek/frbseek/blob"
	"github.com/frbseek/frbseek/classify"
	"github.com/frbseek/frbseek/dedisperse"
	"github.com/frbseek/frbseek/dynspec"
	"github.com/frbseek/frbseek/gaussfit"
	"github.com/frbseek/frbseek/preprocess"
	"github.com/frbseek/frbseek/store"
)

type Config struct {
	Grid       dedisperse.Grid
	Preprocess preprocess.Config
	Fit        gaussfit.Config

	// MinBlobPix prunes components below this pixel count before fitting.
	MinBlobPix int

	// DedisperseWorkers bounds the trial-DM pool, FitWorkers the concurrent
	// blob fits. Zero means one worker per CPU.
	DedisperseWorkers int
	FitWorkers        int
}

// Searcher runs the pipeline for one policy against one store. Safe for
// concurrent use across chunks; the store is the only shared state.
type Searcher struct {
	Config Config
	Policy classify.Policy
	Store  store.Store

	// KeepPlanes retains each chunk's t-DM plane on its report for diagnostic
	// rendering. Off by default; planes are large.
	KeepPlanes bool
}

// ChunkReport summarizes one processed chunk. Err is set for chunk-fatal
// conditions (bad input shape, store write failure, missing model); the
// chunk is then not recorded and safe to rerun.
type ChunkReport struct {
	ChunkID  string
	Antenna  string
	StartSec float64
	EndSec   float64

	Blobs       int
	FitFailures int
	Candidates  []store.Candidate
	Err         error

	// Plane is only set when the searcher keeps planes for rendering.
	Plane *dedisperse.Plane
}

// MeasurePairs runs the measurement half of the pipeline: dedisperse the
// spectrum, condition the plane, extract blobs and fit each one. Used by the
// chunk search and by offline classifier training, which needs measured
// pairs without any store side effects.
func MeasurePairs(ctx context.Context, sp *dynspec.Spectrum, cfg Config) (*dedisperse.Plane, []classify.Pair, error) {
	if err := sp.Validate(); err != nil {
		return nil, nil, err
	}
	plane, err := dedisperse.Dedisperse(ctx, sp, cfg.Grid, cfg.DedisperseWorkers)
	if err != nil {
		return nil, nil, fmt.Errorf("dedispersion failed: %w", err)
	}
	cond := preprocess.Condition(plane, cfg.Preprocess)
	blobs := blob.Extract(plane, cond.Mask, cfg.MinBlobPix)
	return plane, fitBlobs(plane, blobs, cfg), nil
}

// SearchChunk runs the full pipeline over one dynamic spectrum. An empty
// result is not an error: the searched-chunk record is written regardless so
// coverage queries can tell "searched, nothing found" from "never searched".
func (s *Searcher) SearchChunk(ctx context.Context, sp *dynspec.Spectrum) ChunkReport {
	report := ChunkReport{
		ChunkID: uuid.NewString(),
		Antenna: sp.Antenna,
	}
	plane, pairs, err := MeasurePairs(ctx, sp, s.Config)
	if err != nil {
		report.Err = err
		return report
	}
	report.StartSec = sp.StartSec
	report.EndSec = sp.EndSec()
	if s.KeepPlanes {
		report.Plane = plane
	}
	report.Blobs = len(pairs)
	for _, pr := range pairs {
		if !pr.Fit.Converged {
			report.FitFailures++
		}
	}
	glog.V(1).Infof("chunk %s (%s): %d blobs, %d fit failures", report.ChunkID, sp.Antenna, report.Blobs, report.FitFailures)

	detections, err := s.Policy.Decide(plane, pairs)
	if err != nil {
		report.Err = fmt.Errorf("policy %s failed: %w", s.Policy.Name(), err)
		return report
	}

	for _, det := range detections {
		c := store.Candidate{
			ID:            uuid.NewString(),
			Experiment:    sp.Experiment,
			Antenna:       sp.Antenna,
			ChunkStartSec: report.StartSec,
			ChunkEndSec:   report.EndSec,
			TimeSec:       det.TimeSec,
			DM:            det.DM,
			Amp:           det.Amp,
			Policy:        s.Policy.Name(),
			Accepted:      true,
			Confidence:    det.Confidence,
		}
		if det.Pair != nil {
			c.SigmaT = det.Pair.Fit.SigmaT
			c.SigmaDM = det.Pair.Fit.SigmaDM
			c.ThetaRad = det.Pair.Fit.ThetaRad
			c.Residual = det.Pair.Fit.Residual
			c.PixCount = det.Pair.Blob.PixCount
			c.Eccentricity = det.Pair.Blob.Eccentricity
		}
		if err := s.Store.AppendCandidate(ctx, c); err != nil {
			report.Err = fmt.Errorf("unable to store candidate: %w", err)
			return report
		}
		report.Candidates = append(report.Candidates, c)
	}

	if err := s.Store.AppendSearchedChunk(ctx, store.SearchedChunk{
		Experiment: sp.Experiment,
		Antenna:    sp.Antenna,
		StartSec:   report.StartSec,
		EndSec:     report.EndSec,
		MinDM:      s.Config.Grid.MinDM,
		MaxDM:      s.Config.Grid.MaxDM,
		Policy:     s.Policy.Name(),
	}); err != nil {
		report.Err = fmt.Errorf("unable to store searched chunk record: %w", err)
	}
	return report
}

// fitBlobs fits every blob window, distinct blobs concurrently. Each fit
// operates on an independent window and produces an independent result.
func fitBlobs(plane *dedisperse.Plane, blobs []blob.Blob, cfg Config) []classify.Pair {
	workers := cfg.FitWorkers
	if workers <= 0 {
		workers = 4
	}
	pairs := make([]classify.Pair, len(blobs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				pairs[i] = classify.Pair{
					Blob: blobs[i],
					Fit:  gaussfit.Fit(plane, blobs[i], cfg.Fit),
				}
			}
		}()
	}
	for i := range blobs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return pairs
}

// SearchAll consumes chunks from the channel with a pool of workers and
// returns one report per chunk. Per-chunk failures are logged and isolated;
// they never abort sibling chunks.
func (s *Searcher) SearchAll(ctx context.Context, chunks <-chan *dynspec.Spectrum, workers int) []ChunkReport {
	if workers <= 0 {
		workers = 1
	}
	var mu sync.Mutex
	var reports []ChunkReport
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sp := range chunks {
				report := s.SearchChunk(ctx, sp)
				if report.Err != nil {
					glog.Warningf("chunk %s (%s) failed: %s\n", report.ChunkID, report.Antenna, report.Err)
				}
				mu.Lock()
				reports = append(reports, report)
				mu.Unlock()
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
	return reports
}
