// Package dynspec holds the dynamic spectrum data model shared by the whole
// pipeline: an amplitude grid over (time sample, frequency channel) as
// produced by the external instrument format converter.
package dynspec

import (
	"errors"
	"fmt"
	"math"
)

// DispersionConst is the dispersion constant k in s * MHz^2 * cm^3 / pc,
// so that delay(f) = k * DM * (f^-2 - fref^-2) with f in MHz.
const DispersionConst = 4.148808e3

// ErrInputShape indicates the spectrum axes are inconsistent. A chunk with
// this error is skipped; it never aborts the batch.
var ErrInputShape = errors.New("dynamic spectrum axes inconsistent")

// Spectrum is a time-frequency amplitude grid for one recorded chunk of one
// antenna. Amp is indexed [time sample][frequency channel].
type Spectrum struct {
	Experiment string
	Antenna    string

	Amp       [][]float64
	FreqMHz   []float64
	SampleSec float64
	StartSec  float64
}

func (s *Spectrum) NumTime() int { return len(s.Amp) }

func (s *Spectrum) NumFreq() int { return len(s.FreqMHz) }

// EndSec returns the absolute end time of the chunk.
func (s *Spectrum) EndSec() float64 {
	return s.StartSec + float64(s.NumTime())*s.SampleSec
}

// Validate checks the axis invariants: every time row carries one amplitude
// per frequency channel and all channel frequencies are strictly positive.
func (s *Spectrum) Validate() error {
	if s.SampleSec <= 0 {
		return fmt.Errorf("%w: sample interval %g", ErrInputShape, s.SampleSec)
	}
	if len(s.FreqMHz) == 0 || len(s.Amp) == 0 {
		return fmt.Errorf("%w: empty grid", ErrInputShape)
	}
	for i, f := range s.FreqMHz {
		if f <= 0 {
			return fmt.Errorf("%w: channel %d frequency %g MHz", ErrInputShape, i, f)
		}
	}
	for t, row := range s.Amp {
		if len(row) != len(s.FreqMHz) {
			return fmt.Errorf("%w: row %d has %d channels, frequency axis has %d",
				ErrInputShape, t, len(row), len(s.FreqMHz))
		}
	}
	return nil
}

// RefFreqMHz returns the reference frequency for dispersion delays: the
// highest channel frequency, where the delay is smallest.
func (s *Spectrum) RefFreqMHz() float64 {
	ref := 0.0
	for _, f := range s.FreqMHz {
		if f > ref {
			ref = f
		}
	}
	return ref
}

// DispersionDelay returns the arrival delay in seconds of frequency fMHz
// relative to refMHz for the given dispersion measure.
func DispersionDelay(dm, fMHz, refMHz float64) float64 {
	return DispersionConst * dm * (1/(fMHz*fMHz) - 1/(refMHz*refMHz))
}

// Clone returns a deep copy of the spectrum.
func (s *Spectrum) Clone() *Spectrum {
	out := &Spectrum{
		Experiment: s.Experiment,
		Antenna:    s.Antenna,
		Amp:        make([][]float64, len(s.Amp)),
		FreqMHz:    append([]float64(nil), s.FreqMHz...),
		SampleSec:  s.SampleSec,
		StartSec:   s.StartSec,
	}
	for t, row := range s.Amp {
		out.Amp[t] = append([]float64(nil), row...)
	}
	return out
}

// Pulse describes a synthetic dispersed pulse: a Gaussian-in-time envelope
// per channel, delayed per the dispersion law. TimeSec is the pulse peak time
// at the reference frequency, relative to the chunk start.
type Pulse struct {
	DM       float64
	TimeSec  float64
	Amp      float64
	WidthSec float64
}

// Inject returns a new spectrum with the pulse additively superimposed on s.
// The input spectrum is not modified. Used only to build labeled samples for
// fit and classifier validation, never during a real search.
func Inject(s *Spectrum, p Pulse) *Spectrum {
	out := s.Clone()
	ref := s.RefFreqMHz()
	for c, f := range s.FreqMHz {
		arrival := p.TimeSec + DispersionDelay(p.DM, f, ref)
		for t := range out.Amp {
			dt := float64(t)*s.SampleSec - arrival
			out.Amp[t][c] += p.Amp * math.Exp(-dt*dt/(2*p.WidthSec*p.WidthSec))
		}
	}
	return out
}
