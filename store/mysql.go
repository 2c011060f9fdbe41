package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
)

const (
	mysqlCreateSearchedTmpl = `CREATE TABLE IF NOT EXISTS searched_data (
		ID            BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
		Experiment    VARCHAR(64) NOT NULL,
		Antenna       VARCHAR(64) NOT NULL,
		StartSec      DOUBLE,
		EndSec        DOUBLE,
		MinDM         DOUBLE,
		MaxDM         DOUBLE,
		Policy        VARCHAR(16) NOT NULL,
		UNIQUE KEY chunk_key (Antenna, StartSec, EndSec, Policy)
	);`
	mysqlCreateCandidatesTmpl = `CREATE TABLE IF NOT EXISTS candidates (
		ID            BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
		CandidateID   VARCHAR(64) NOT NULL,
		Experiment    VARCHAR(64) NOT NULL,
		Antenna       VARCHAR(64) NOT NULL,
		ChunkStartSec DOUBLE,
		ChunkEndSec   DOUBLE,
		TimeSec       DOUBLE,
		DM            DOUBLE,
		Amp           DOUBLE,
		SigmaT        DOUBLE,
		SigmaDM       DOUBLE,
		Theta         DOUBLE,
		Residual      DOUBLE,
		PixCount      INTEGER,
		Eccentricity  DOUBLE,
		Policy        VARCHAR(16) NOT NULL,
		Accepted      TINYINT,
		Confidence    DOUBLE,
		UNIQUE KEY cand_key (Antenna, ChunkStartSec, ChunkEndSec, Policy, TimeSec, DM)
	);`
	mysqlInsertSearchedTmpl = `INSERT IGNORE INTO searched_data (
		Experiment, Antenna, StartSec, EndSec, MinDM, MaxDM, Policy
	) VALUES (?, ?, ?, ?, ?, ?, ?);`
	mysqlInsertCandidateTmpl = `INSERT IGNORE INTO candidates (
		CandidateID, Experiment, Antenna, ChunkStartSec, ChunkEndSec,
		TimeSec, DM, Amp, SigmaT, SigmaDM, Theta, Residual,
		PixCount, Eccentricity, Policy, Accepted, Confidence
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
)

// MySQL is the server-backed Store variant for deployments where several
// processing hosts share one candidate database.
type MySQL struct {
	db *sql.DB
}

// NewMySQL opens the MySQL connection, tunes the pool and creates the schema.
func NewMySQL(cfg mysql.Config) (*MySQL, error) {
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open MySQL DB %q: %s", cfg.Addr, err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	for _, tmpl := range []string{mysqlCreateSearchedTmpl, mysqlCreateCandidatesTmpl} {
		statement, err := db.Prepare(tmpl)
		if err != nil {
			return nil, fmt.Errorf("unable to prepare table creation: %s", err)
		}
		if _, err := statement.Exec(); err != nil {
			return nil, fmt.Errorf("unable to create table: %s", err)
		}
	}
	return &MySQL{db: db}, nil
}

func (m *MySQL) AppendCandidate(ctx context.Context, c Candidate) error {
	statement, err := m.db.PrepareContext(ctx, mysqlInsertCandidateTmpl)
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

func (m *MySQL) AppendSearchedChunk(ctx context.Context, sc SearchedChunk) error {
	statement, err := m.db.PrepareContext(ctx, mysqlInsertSearchedTmpl)
	if err != nil {
		return err
	}
	if _, err := statement.ExecContext(ctx, sc.Experiment, sc.Antenna,
		sc.StartSec, sc.EndSec, sc.MinDM, sc.MaxDM, sc.Policy); err != nil {
		return err
	}
	return nil
}

func (m *MySQL) QueryCandidates(ctx context.Context, q Query) ([]Candidate, error) {
	statement, err := m.db.PrepareContext(ctx, sqlQueryCandidatesTmpl)
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

func (m *MySQL) Close() error {
	return m.db.Close()
}
