package store

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV dumps candidates to w, one line per candidate. This is a one-way
// export for quick inspection; it is not a Store and cannot be queried.
func WriteCSV(w io.Writer, cands []Candidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"CandidateID",
		"Experiment",
		"Antenna",
		"ChunkStartSec",
		"ChunkEndSec",
		"TimeSec",
		"DM",
		"Amp",
		"SigmaT",
		"SigmaDM",
		"Theta",
		"Residual",
		"PixCount",
		"Eccentricity",
		"Policy",
		"Accepted",
		"Confidence",
	}); err != nil {
		return err
	}

	for _, c := range cands {
		accepted := "0"
		if c.Accepted {
			accepted = "1"
		}
		if err := cw.Write([]string{
			c.ID,
			c.Experiment,
			c.Antenna,
			fmt.Sprintf("%f", c.ChunkStartSec),
			fmt.Sprintf("%f", c.ChunkEndSec),
			fmt.Sprintf("%f", c.TimeSec),
			fmt.Sprintf("%f", c.DM),
			fmt.Sprintf("%f", c.Amp),
			fmt.Sprintf("%f", c.SigmaT),
			fmt.Sprintf("%f", c.SigmaDM),
			fmt.Sprintf("%f", c.ThetaRad),
			fmt.Sprintf("%f", c.Residual),
			fmt.Sprintf("%d", c.PixCount),
			fmt.Sprintf("%f", c.Eccentricity),
			c.Policy,
			accepted,
			fmt.Sprintf("%f", c.Confidence),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
