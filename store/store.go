// Package store persists searched-chunk records and candidates. The physical
// storage is a relational store with two tables, searched_data and
// candidates, joined by the shared (antenna, chunk) key.
package store

import (
	"context"
)

// Candidate is the durable unit written for every classifier verdict.
type Candidate struct {
	ID         string
	Experiment string
	Antenna    string

	ChunkStartSec float64
	ChunkEndSec   float64

	TimeSec  float64
	DM       float64
	Amp      float64
	SigmaT   float64
	SigmaDM  float64
	ThetaRad float64
	Residual float64

	PixCount     int
	Eccentricity float64

	Policy     string
	Accepted   bool
	Confidence float64
}

// SearchedChunk records that a spectrum segment was searched, regardless of
// whether any candidate was accepted. It lets the matcher distinguish
// "searched, nothing found" from "never searched".
type SearchedChunk struct {
	Experiment string
	Antenna    string
	StartSec   float64
	EndSec     float64
	MinDM      float64
	MaxDM      float64
	Policy     string
}

// Query selects candidates of one experiment within a time and DM range.
// Zero-valued range bounds are open.
type Query struct {
	Experiment   string
	StartSec     float64
	EndSec       float64
	MinDM        float64
	MaxDM        float64
	AcceptedOnly bool
}

// Store is the persistence boundary. AppendSearchedChunk is idempotent on
// (antenna, time range, policy) so a failed chunk can be rerun safely.
// Implementations support concurrent appends from independent chunk workers.
type Store interface {
	AppendCandidate(ctx context.Context, c Candidate) error
	AppendSearchedChunk(ctx context.Context, sc SearchedChunk) error
	QueryCandidates(ctx context.Context, q Query) ([]Candidate, error)
	Close() error
}
