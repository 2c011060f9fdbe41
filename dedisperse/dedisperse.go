// Package dedisperse turns a dynamic spectrum into a time vs trial-DM plane
// by non-coherent dedispersion: per trial DM, each frequency channel is
// shifted by its dispersion delay and the shifted channels are averaged.
package dedisperse

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/frbseek/frbseek/dynspec"
)

// Grid defines the trial dispersion measures to search, a fixed-step axis
// from MinDM to MaxDM inclusive.
type Grid struct {
	MinDM  float64
	MaxDM  float64
	StepDM float64
}

// DMs materializes the trial axis.
func (g Grid) DMs() []float64 {
	if g.StepDM <= 0 || g.MaxDM < g.MinDM {
		return nil
	}
	n := int(math.Floor((g.MaxDM-g.MinDM)/g.StepDM)) + 1
	dms := make([]float64, n)
	for i := range dms {
		dms[i] = g.MinDM + float64(i)*g.StepDM
	}
	return dms
}

// Plane is the dedispersed t-DM surface. Amp is indexed
// [time sample][trial DM]. It is owned by the pipeline run that produced it
// and is never mutated after creation; preprocessing derives new surfaces.
type Plane struct {
	Experiment string
	Antenna    string

	Amp       [][]float64
	DMs       []float64
	SampleSec float64
	StartSec  float64
	EndSec    float64
}

func (p *Plane) NumTime() int { return len(p.Amp) }

func (p *Plane) NumDM() int { return len(p.DMs) }

// StepDM returns the trial-DM step of the plane axis.
func (p *Plane) StepDM() float64 {
	if len(p.DMs) < 2 {
		return 0
	}
	return p.DMs[1] - p.DMs[0]
}

// Dedisperse computes the t-DM plane for s over the trial grid. For each
// trial DM each channel is shifted by its delay relative to the highest
// frequency, rounded to the nearest sample, and the shifted channels are
// averaged. Samples whose shifted index falls outside the recorded range are
// excluded from the average for that output sample, so the effective
// integration shrinks at the plane edges instead of being zero-padded.
//
// Trial DMs are independent and are computed by a pool of workers.
func Dedisperse(ctx context.Context, s *dynspec.Spectrum, grid Grid, workers int) (*Plane, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	dms := grid.DMs()
	if len(dms) == 0 {
		return nil, fmt.Errorf("trial grid %+v is empty", grid)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	nTime := s.NumTime()
	p := &Plane{
		Experiment: s.Experiment,
		Antenna:    s.Antenna,
		Amp:        make([][]float64, nTime),
		DMs:        dms,
		SampleSec:  s.SampleSec,
		StartSec:   s.StartSec,
		EndSec:     s.EndSec(),
	}
	for t := range p.Amp {
		p.Amp[t] = make([]float64, len(dms))
	}

	ref := s.RefFreqMHz()
	trials := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range trials {
				dedisperseTrial(s, p, d, ref)
			}
		}()
	}

	var err error
feed:
	for d := range dms {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case trials <- d:
		}
	}
	close(trials)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// dedisperseTrial fills column d of the plane. Each worker writes a disjoint
// column, so no locking is needed.
func dedisperseTrial(s *dynspec.Spectrum, p *Plane, d int, refMHz float64) {
	dm := p.DMs[d]
	shifts := make([]int, s.NumFreq())
	for c, f := range s.FreqMHz {
		shifts[c] = int(math.Round(dynspec.DispersionDelay(dm, f, refMHz) / s.SampleSec))
	}
	nTime := s.NumTime()
	for t := 0; t < nTime; t++ {
		sum := 0.0
		n := 0
		for c, shift := range shifts {
			ts := t + shift
			if ts < 0 || ts >= nTime {
				continue
			}
			sum += s.Amp[ts][c]
			n++
		}
		if n > 0 {
			p.Amp[t][d] = sum / float64(n)
		}
	}
}
