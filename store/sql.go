package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/golang/glog"
)

const (
	sqlCreateSearchedTmpl = `CREATE TABLE IF NOT EXISTS searched_data (
		"ID"         INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Experiment" TEXT NOT NULL,
		"Antenna"    TEXT NOT NULL,
		"StartSec"   REAL,
		"EndSec"     REAL,
		"MinDM"      REAL,
		"MaxDM"      REAL,
		"Policy"     TEXT NOT NULL,
		UNIQUE(Antenna, StartSec, EndSec, Policy)
	);`
	sqlCreateCandidatesTmpl = `CREATE TABLE IF NOT EXISTS candidates (
		"ID"            INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"CandidateID"   TEXT NOT NULL,
		"Experiment"    TEXT NOT NULL,
		"Antenna"       TEXT NOT NULL,
		"ChunkStartSec" REAL,
		"ChunkEndSec"   REAL,
		"TimeSec"       REAL,
		"DM"            REAL,
		"Amp"           REAL,
		"SigmaT"        REAL,
		"SigmaDM"       REAL,
		"Theta"         REAL,
		"Residual"      REAL,
		"PixCount"      INTEGER,
		"Eccentricity"  REAL,
		"Policy"        TEXT NOT NULL,
		"Accepted"      INTEGER,
		"Confidence"    REAL,
		UNIQUE(Antenna, ChunkStartSec, ChunkEndSec, Policy, TimeSec, DM)
	);`
	sqlInsertSearchedTmpl = `INSERT OR IGNORE INTO searched_data (
		Experiment, Antenna, StartSec, EndSec, MinDM, MaxDM, Policy
	) VALUES (?, ?, ?, ?, ?, ?, ?);`
	sqlInsertCandidateTmpl = `INSERT OR IGNORE INTO candidates (
		CandidateID, Experiment, Antenna, ChunkStartSec, ChunkEndSec,
		TimeSec, DM, Amp, SigmaT, SigmaDM, Theta, Residual,
		PixCount, Eccentricity, Policy, Accepted, Confidence
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	sqlQueryCandidatesTmpl = `SELECT
		CandidateID, Experiment, Antenna, ChunkStartSec, ChunkEndSec,
		TimeSec, DM, Amp, SigmaT, SigmaDM, Theta, Residual,
		PixCount, Eccentricity, Policy, Accepted, Confidence
	FROM candidates
	WHERE Experiment = ?
		AND TimeSec >= ? AND TimeSec <= ?
		AND DM >= ? AND DM <= ?
		AND Accepted >= ?
	ORDER BY TimeSec ASC;`
)

// SQL is a Store backed by a single-file sqlite database (or any
// database/sql driver speaking the same dialect).
type SQL struct {
	db *sql.DB
}

// NewSQL creates the schema if needed and returns the store.
func NewSQL(db *sql.DB) (*SQL, error) {
	for _, tmpl := range []string{sqlCreateSearchedTmpl, sqlCreateCandidatesTmpl} {
		statement, err := db.Prepare(tmpl)
		if err != nil {
			return nil, fmt.Errorf("unable to prepare table creation: %s", err)
		}
		if _, err := statement.Exec(); err != nil {
			return nil, fmt.Errorf("unable to create table: %s", err)
		}
	}
	return &SQL{db: db}, nil
}

func (s *SQL) AppendCandidate(ctx context.Context, c Candidate) error {
	statement, err := s.db.PrepareContext(ctx, sqlInsertCandidateTmpl)
	if err != nil {
		return err
	}
	accepted := 0
	if c.Accepted {
		accepted = 1
	}
	if _, err := statement.ExecContext(ctx, c.ID, c.Experiment, c.Antenna,
		c.ChunkStartSec, c.ChunkEndSec, c.TimeSec, c.DM, c.Amp,
		c.SigmaT, c.SigmaDM, c.ThetaRad, c.Residual,
		c.PixCount, c.Eccentricity, c.Policy, accepted, c.Confidence); err != nil {
		return err
	}
	return nil
}

func (s *SQL) AppendSearchedChunk(ctx context.Context, sc SearchedChunk) error {
	statement, err := s.db.PrepareContext(ctx, sqlInsertSearchedTmpl)
	if err != nil {
		return err
	}
	if _, err := statement.ExecContext(ctx, sc.Experiment, sc.Antenna,
		sc.StartSec, sc.EndSec, sc.MinDM, sc.MaxDM, sc.Policy); err != nil {
		return err
	}
	return nil
}

func (s *SQL) QueryCandidates(ctx context.Context, q Query) ([]Candidate, error) {
	statement, err := s.db.PrepareContext(ctx, sqlQueryCandidatesTmpl)
	if err != nil {
		return nil, err
	}
	endSec := q.EndSec
	if endSec == 0 {
		endSec = math.MaxFloat64
	}
	maxDM := q.MaxDM
	if maxDM == 0 {
		maxDM = math.MaxFloat64
	}
	acceptedMin := 0
	if q.AcceptedOnly {
		acceptedMin = 1
	}
	rows, err := statement.QueryContext(ctx, q.Experiment, q.StartSec, endSec, q.MinDM, maxDM, acceptedMin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var accepted int
		if err := rows.Scan(&c.ID, &c.Experiment, &c.Antenna,
			&c.ChunkStartSec, &c.ChunkEndSec, &c.TimeSec, &c.DM, &c.Amp,
			&c.SigmaT, &c.SigmaDM, &c.ThetaRad, &c.Residual,
			&c.PixCount, &c.Eccentricity, &c.Policy, &accepted, &c.Confidence); err != nil {
			glog.Warningf("unable to scan candidate row: %s\n", err)
			continue
		}
		c.Accepted = accepted != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQL) Close() error {
	return s.db.Close()
}
