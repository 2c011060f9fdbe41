// frbserver exposes the candidate store over HTTP: candidate queries and
// cross-antenna match listings for an experiment.
package main

import (
	"database/sql"
	"flag"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/frbseek/frbseek/match"
	"github.com/frbseek/frbseek/store"

	// Blind import support for sqlite3 used by the sqlite store.
	_ "github.com/mattn/go-sqlite3"
)

var (
	listen     = flag.String("listen", ":8080", "address and port to serve on")
	sqliteFile = flag.String("sqliteFile", "/tmp/frbseek.db", "File path of the sqlite DB file to use.")

	defaultDTSec = flag.Float64("matchDT", 0.1, "default match tolerance in seconds")
	defaultDDM   = flag.Float64("matchDDM", 1.0, "default match tolerance in DM units")
)

type server struct {
	store store.Store
}

func (s *server) candidatesHandler(c *gin.Context) {
	q := store.Query{
		Experiment:   c.Query("experiment"),
		AcceptedOnly: c.DefaultQuery("accepted", "1") == "1",
	}
	if q.Experiment == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "experiment required"})
		return
	}
	q.StartSec, _ = strconv.ParseFloat(c.Query("startSec"), 64)
	q.EndSec, _ = strconv.ParseFloat(c.Query("endSec"), 64)
	q.MinDM, _ = strconv.ParseFloat(c.Query("minDM"), 64)
	q.MaxDM, _ = strconv.ParseFloat(c.Query("maxDM"), 64)

	cands, err := s.store.QueryCandidates(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(cands), "candidates": cands})
}

func (s *server) matchesHandler(c *gin.Context) {
	tol := match.Tolerance{DTSec: *defaultDTSec, DDM: *defaultDDM}
	if v := c.Query("dt"); v != "" {
		tol.DTSec, _ = strconv.ParseFloat(v, 64)
	}
	if v := c.Query("ddm"); v != "" {
		tol.DDM, _ = strconv.ParseFloat(v, 64)
	}

	matches, err := match.Find(c.Request.Context(), s.store, c.Param("experiment"), tol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(matches), "matches": matches})
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()

	db, err := sql.Open("sqlite3", *sqliteFile)
	if err != nil {
		glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
	}
	st, err := store.NewSQL(db)
	if err != nil {
		glog.Exitf("unable to set up sqlite store: %s", err)
	}
	defer st.Close()

	s := &server{store: st}
	router := gin.Default()
	router.GET("/frb/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/frb/v1/candidates", s.candidatesHandler)
	router.GET("/frb/v1/matches/:experiment", s.matchesHandler)

	glog.Infof("serving on %s\n", *listen)
	glog.Fatal(router.Run(*listen))
}
