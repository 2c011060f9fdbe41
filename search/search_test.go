package search

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/frbseek/frbseek/classify"
	"github.com/frbseek/frbseek/dedisperse"
	"github.com/frbseek/frbseek/dynspec"
	"github.com/frbseek/frbseek/gaussfit"
	"github.com/frbseek/frbseek/store"
)

// memStore records appends for assertions. Safe for the concurrent chunk
// workers the way a real store is.
type memStore struct {
	mu       sync.Mutex
	cands    []store.Candidate
	searched []store.SearchedChunk
}

func (m *memStore) AppendCandidate(_ context.Context, c store.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cands = append(m.cands, c)
	return nil
}

func (m *memStore) AppendSearchedChunk(_ context.Context, sc store.SearchedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searched = append(m.searched, sc)
	return nil
}

func (m *memStore) QueryCandidates(context.Context, store.Query) ([]store.Candidate, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }

// noiseChunk builds a pulse-free chunk with Gaussian channel noise.
func noiseChunk(seed int64) *dynspec.Spectrum {
	s := &dynspec.Spectrum{
		Experiment: "exp1",
		Antenna:    "ant1",
		Amp:        make([][]float64, 256),
		FreqMHz:    make([]float64, 32),
		SampleSec:  0.001,
	}
	for c := range s.FreqMHz {
		s.FreqMHz[c] = 1431 - float64(c)
	}
	rnd := rand.New(rand.NewSource(seed))
	for t := range s.Amp {
		s.Amp[t] = make([]float64, 32)
		for c := range s.Amp[t] {
			s.Amp[t][c] = rnd.NormFloat64() * 0.1
		}
	}
	return s
}

func testConfig() Config {
	return Config{
		Grid:       dedisperse.Grid{MinDM: 0, MaxDM: 200, StepDM: 10},
		Fit:        gaussfit.Config{MaxIterations: 2000},
		MinBlobPix: 3,
	}
}

// An injected dispersed pulse travels the whole pipeline and comes out as an
// accepted candidate at its injection coordinates.
func TestSearchChunkRecoversInjectedPulse(t *testing.T) {
	const (
		injectDM  = 100.0
		injectSec = 0.1
	)
	sp := dynspec.Inject(noiseChunk(1), dynspec.Pulse{
		DM:       injectDM,
		TimeSec:  injectSec,
		Amp:      5,
		WidthSec: 0.002,
	})

	st := &memStore{}
	s := &Searcher{
		Config: testConfig(),
		Policy: &classify.FitThreshold{MinAmp: 1},
		Store:  st,
	}

	report := s.SearchChunk(context.Background(), sp)
	if report.Err != nil {
		t.Fatalf("SearchChunk() error: %s", report.Err)
	}
	if report.Blobs == 0 {
		t.Fatal("SearchChunk() found no blobs around the injected pulse")
	}
	if len(report.Candidates) == 0 {
		t.Fatal("SearchChunk() accepted no candidates for the injected pulse")
	}

	best := report.Candidates[0]
	for _, c := range report.Candidates {
		if c.Amp > best.Amp {
			best = c
		}
	}
	if math.Abs(best.TimeSec-injectSec) > 2*sp.SampleSec {
		t.Errorf("candidate TimeSec = %g, want %g within two samples", best.TimeSec, injectSec)
	}
	if math.Abs(best.DM-injectDM) > s.Config.Grid.StepDM {
		t.Errorf("candidate DM = %g, want %g within one trial step", best.DM, injectDM)
	}
	if !best.Accepted || best.Policy != "fit" || best.Experiment != "exp1" {
		t.Errorf("candidate metadata = %+v", best)
	}
	if len(st.cands) != len(report.Candidates) {
		t.Errorf("store has %d candidates, report has %d", len(st.cands), len(report.Candidates))
	}
	if len(st.searched) != 1 {
		t.Fatalf("store has %d searched records, want 1", len(st.searched))
	}
	if sc := st.searched[0]; sc.Antenna != "ant1" || sc.Policy != "fit" || sc.EndSec != sp.EndSec() {
		t.Errorf("searched record = %+v", sc)
	}
}

// A pulse-free chunk yields no candidates but still records coverage.
func TestSearchChunkEmptyResult(t *testing.T) {
	st := &memStore{}
	s := &Searcher{
		Config: testConfig(),
		Policy: &classify.FitThreshold{MinAmp: 1},
		Store:  st,
	}

	report := s.SearchChunk(context.Background(), noiseChunk(2))
	if report.Err != nil {
		t.Fatalf("SearchChunk() error: %s", report.Err)
	}
	if len(report.Candidates) != 0 {
		t.Errorf("SearchChunk() on noise = %d candidates, want 0", len(report.Candidates))
	}
	if len(st.searched) != 1 {
		t.Errorf("store has %d searched records, want 1", len(st.searched))
	}
}

// A malformed chunk fails in isolation: error in the report, nothing
// recorded, siblings unaffected.
func TestSearchChunkBadShape(t *testing.T) {
	sp := noiseChunk(3)
	sp.Amp[10] = sp.Amp[10][:5] // ragged row

	st := &memStore{}
	s := &Searcher{
		Config: testConfig(),
		Policy: &classify.FitThreshold{MinAmp: 1},
		Store:  st,
	}

	report := s.SearchChunk(context.Background(), sp)
	if !errors.Is(report.Err, dynspec.ErrInputShape) {
		t.Fatalf("SearchChunk() error = %v, want ErrInputShape", report.Err)
	}
	if len(st.searched) != 0 || len(st.cands) != 0 {
		t.Error("failed chunk left records in the store")
	}
}

// The learned policy without its artifact is a chunk-level failure, not a
// silent accept-nothing.
func TestSearchChunkMissingModel(t *testing.T) {
	st := &memStore{}
	s := &Searcher{
		Config: testConfig(),
		Policy: &classify.Learned{},
		Store:  st,
	}

	report := s.SearchChunk(context.Background(), noiseChunk(4))
	if !errors.Is(report.Err, classify.ErrModelMissing) {
		t.Fatalf("SearchChunk() error = %v, want ErrModelMissing", report.Err)
	}
	if len(st.searched) != 0 {
		t.Error("failed chunk recorded coverage")
	}
}

func TestSearchAll(t *testing.T) {
	st := &memStore{}
	s := &Searcher{
		Config: testConfig(),
		Policy: &classify.FitThreshold{MinAmp: 1},
		Store:  st,
	}

	chunks := make(chan *dynspec.Spectrum)
	go func() {
		defer close(chunks)
		for seed := int64(10); seed < 14; seed++ {
			sp := noiseChunk(seed)
			sp.StartSec = float64(seed)
			chunks <- sp
		}
	}()

	reports := s.SearchAll(context.Background(), chunks, 2)
	if len(reports) != 4 {
		t.Fatalf("SearchAll() = %d reports, want 4", len(reports))
	}
	for _, r := range reports {
		if r.Err != nil {
			t.Errorf("chunk %s failed: %s", r.ChunkID, r.Err)
		}
	}
	if len(st.searched) != 4 {
		t.Errorf("store has %d searched records, want 4", len(st.searched))
	}
}

func TestMeasurePairsNoSideEffects(t *testing.T) {
	sp := dynspec.Inject(noiseChunk(5), dynspec.Pulse{
		DM:       100,
		TimeSec:  0.1,
		Amp:      5,
		WidthSec: 0.002,
	})

	plane, pairs, err := MeasurePairs(context.Background(), sp, testConfig())
	if err != nil {
		t.Fatalf("MeasurePairs() error: %s", err)
	}
	if plane == nil || plane.NumDM() != 21 {
		t.Fatalf("MeasurePairs() plane = %+v, want 21 trial DMs", plane)
	}
	if len(pairs) == 0 {
		t.Fatal("MeasurePairs() measured no pairs around the injected pulse")
	}
	converged := 0
	for _, pr := range pairs {
		if pr.Fit.Converged {
			converged++
		}
	}
	if converged == 0 {
		t.Error("no fit converged on the injected pulse")
	}
}
