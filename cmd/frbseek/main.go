// frbseek searches converted dynamic-spectrum chunks for dispersed pulse
// candidates and records the outcome in a candidate store.
//
// Chunks are JSON files produced by the external instrument format
// converter, one dynamic spectrum per file. Raw instrument binary layouts
// are not parsed here.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/frbseek/frbseek/classify"
	"github.com/frbseek/frbseek/dedisperse"
	"github.com/frbseek/frbseek/dynspec"
	"github.com/frbseek/frbseek/gaussfit"
	"github.com/frbseek/frbseek/preprocess"
	"github.com/frbseek/frbseek/render"
	"github.com/frbseek/frbseek/search"
	"github.com/frbseek/frbseek/store"

	// Blind import support for sqlite3 used by the sqlite store.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	policyName = flag.String("policy", "fit", "decision policy to use (one of: peak, fit, clf)")
	modelFile  = flag.String("model", "", "trained model artifact for the clf policy")

	minDM  = flag.Float64("minDM", 0, "lowest trial dispersion measure")
	maxDM  = flag.Float64("maxDM", 1000, "highest trial dispersion measure")
	stepDM = flag.Float64("stepDM", 1, "trial dispersion measure step")

	minBlobPix    = flag.Int("minBlobPix", 3, "discard connected regions below this pixel count")
	peakNSigma    = flag.Float64("peakNSigma", 6, "peak policy threshold in robust sigmas")
	fitMinAmp     = flag.Float64("fitMinAmp", 0, "fit policy amplitude floor")
	fitMaxIter    = flag.Int("fitMaxIter", 400, "optimizer iteration bound per blob")
	chunkWorkers  = flag.Int("chunkWorkers", 4, "chunks processed concurrently")
	trialWorkers  = flag.Int("trialWorkers", 0, "workers per chunk for trial DMs (0: one per CPU)")
	fitWorkers    = flag.Int("fitWorkers", 4, "workers per chunk for blob fits")

	output    = flag.String("output", "sqlite", "candidate store to use (one of: sqlite, mysql)")
	csvOut    = flag.String("csvOut", "", "optionally dump accepted candidates to this CSV file")
	renderDir = flag.String("renderDir", "", "optionally write a t-DM heatmap PNG per chunk with candidates into this directory")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/frbseek.db", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "frbseek", "Name of the DB to use.")
)

func writeHeatmap(r search.ChunkReport) error {
	img := render.Plane(r.Plane, render.Options{
		AddGrid: true,
		Marks:   r.Candidates,
	})
	f, err := os.Create(filepath.Join(*renderDir, r.ChunkID+".png"))
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
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

	// Policy setup
	var policy classify.Policy
	switch strings.ToLower(*policyName) {
	case "peak":
		policy = &classify.PeakSearch{NSigma: *peakNSigma}
	case "fit":
		policy = &classify.FitThreshold{MinAmp: *fitMinAmp}
	case "clf":
		model, err := classify.LoadModel(*modelFile)
		if err != nil {
			glog.Exitf("unable to load model for clf policy: %s", err)
		}
		policy = &classify.Learned{Model: model}
	default:
		glog.Exitf("%q is not a supported policy, pick one of: peak, fit, clf", *policyName)
	}

	// Store setup
	var st store.Store
	switch strings.ToLower(*output) {
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		st, err = store.NewSQL(db)
		if err != nil {
			glog.Exitf("unable to set up sqlite store: %s", err)
		}
	case "mysql":
		pass, err := os.ReadFile(*mysqlPasswordFile)
		if err != nil {
			glog.Exitf("unable to read MySQL password file %q: %s\n", *mysqlPasswordFile, err)
		}
		cfg := mysql.Config{
			User:   *mysqlUser,
			Passwd: strings.TrimSpace(string(pass)),
			Net:    "tcp",
			Addr:   *mysqlServer,
			DBName: *mysqlDBName,
		}
		st, err = store.NewMySQL(cfg)
		if err != nil {
			glog.Exitf("unable to set up MySQL store: %s", err)
		}
	default:
		glog.Exitf("%q is not a supported store, pick one of: sqlite, mysql", *output)
	}
	defer st.Close()

	searcher := &search.Searcher{
		Config: search.Config{
			Grid:              dedisperse.Grid{MinDM: *minDM, MaxDM: *maxDM, StepDM: *stepDM},
			Fit:               gaussfit.Config{MaxIterations: *fitMaxIter},
			Preprocess:        preprocess.Config{},
			MinBlobPix:        *minBlobPix,
			DedisperseWorkers: *trialWorkers,
			FitWorkers:        *fitWorkers,
		},
		Policy:     policy,
		Store:      st,
		KeepPlanes: *renderDir != "",
	}

	// Feed chunks.
	chunks := make(chan *dynspec.Spectrum)
	go func() {
		defer close(chunks)
		for _, path := range flag.Args() {
			sp, err := loadChunk(path)
			if err != nil {
				glog.Warningf("unable to load chunk %q: %s\n", path, err)
				continue
			}
			chunks <- sp
		}
	}()

	reports := searcher.SearchAll(ctx, chunks, *chunkWorkers)

	var accepted []store.Candidate
	failures := 0
	for _, r := range reports {
		if r.Err != nil {
			failures++
			continue
		}
		accepted = append(accepted, r.Candidates...)
		if *renderDir != "" && r.Plane != nil && len(r.Candidates) > 0 {
			if err := writeHeatmap(r); err != nil {
				glog.Warningf("unable to render chunk %s: %s\n", r.ChunkID, err)
			}
		}
	}
	glog.Infof("searched %d chunks (%d failed), %d candidates accepted\n", len(reports), failures, len(accepted))

	if *csvOut != "" {
		f, err := os.Create(*csvOut)
		if err != nil {
			glog.Exitf("unable to create CSV output %q: %s", *csvOut, err)
		}
		defer f.Close()
		if err := store.WriteCSV(f, accepted); err != nil {
			glog.Exitf("unable to write CSV output: %s", err)
		}
	}

	glog.Flush()
}
