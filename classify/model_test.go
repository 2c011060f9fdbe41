package classify

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// separableSet builds an alternating labeled set where fit amplitude alone
// separates the classes.
func separableSet(n int) (features [][]float64, labels []int) {
	for i := 0; i < n; i++ {
		amp := 1 + 0.01*float64(i)
		label := 0
		if i%2 == 1 {
			amp = 10 + 0.01*float64(i)
			label = 1
		}
		pr := convergedPair(amp, 3, 1, 0.9)
		features = append(features, Features(pr))
		labels = append(labels, label)
	}
	return features, labels
}

func TestTrainSeparable(t *testing.T) {
	features, labels := separableSet(40)
	m, err := Train(features, labels, TrainConfig{Rounds: 10, Shrinkage: 0.5})
	if err != nil {
		t.Fatalf("Train() error: %s", err)
	}
	if m.Version != ModelVersion {
		t.Errorf("Version = %q, want %q", m.Version, ModelVersion)
	}
	if len(m.Stumps) == 0 {
		t.Fatal("Train() produced no stumps")
	}
	if got := m.Score(Features(convergedPair(10, 3, 1, 0.9))); got <= 0.5 {
		t.Errorf("Score(positive) = %g, want > 0.5", got)
	}
	if got := m.Score(Features(convergedPair(1, 3, 1, 0.9))); got >= 0.5 {
		t.Errorf("Score(negative) = %g, want < 0.5", got)
	}
}

func TestTrainDeterministic(t *testing.T) {
	features, labels := separableSet(40)
	cfg := TrainConfig{Rounds: 10, Shrinkage: 0.5}
	m1, err := Train(features, labels, cfg)
	if err != nil {
		t.Fatalf("Train() error: %s", err)
	}
	m2, err := Train(features, labels, cfg)
	if err != nil {
		t.Fatalf("Train() error: %s", err)
	}
	if !reflect.DeepEqual(m1, m2) {
		t.Error("repeat training produced a different model")
	}
}

func TestTrainRejectsBadSets(t *testing.T) {
	features, _ := separableSet(10)
	tests := []struct {
		name   string
		feats  [][]float64
		labels []int
	}{
		{"empty", nil, nil},
		{"size mismatch", features, []int{1}},
		{"single class", features, []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Train(tt.feats, tt.labels, TrainConfig{}); err == nil {
				t.Error("Train() succeeded, want error")
			}
		})
	}
}

func TestModelArtifactRoundtrip(t *testing.T) {
	features, labels := separableSet(40)
	m, err := Train(features, labels, TrainConfig{Rounds: 5, Shrinkage: 0.3})
	if err != nil {
		t.Fatalf("Train() error: %s", err)
	}

	path := filepath.Join(t.TempDir(), "model.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save() error: %s", err)
	}
	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel() error: %s", err)
	}
	if !reflect.DeepEqual(m, loaded) {
		t.Errorf("roundtrip mismatch:\nsaved  %+v\nloaded %+v", m, loaded)
	}
}

func TestLoadModelMissing(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "no-such-model.json"))
	if !errors.Is(err, ErrModelMissing) {
		t.Errorf("LoadModel() on missing file error = %v, want ErrModelMissing", err)
	}
}

func TestLoadModelVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(`{"version": "frbseek-boost-v0"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadModel(path)
	if err == nil {
		t.Fatal("LoadModel() accepted a foreign version")
	}
	if errors.Is(err, ErrModelMissing) {
		t.Error("version mismatch reported as ErrModelMissing")
	}
}

func TestGridSearchPicksWorkingModel(t *testing.T) {
	features, labels := separableSet(60)
	m, acc, err := GridSearch(features, labels, 4, []int{5, 10}, []float64{0.1, 0.5}, 0.5)
	if err != nil {
		t.Fatalf("GridSearch() error: %s", err)
	}
	if acc < 0.9 {
		t.Errorf("cross-validation accuracy = %g, want >= 0.9 on separable data", acc)
	}
	if got := m.Score(Features(convergedPair(10, 3, 1, 0.9))); got < m.Threshold {
		t.Errorf("final model Score(positive) = %g, below threshold %g", got, m.Threshold)
	}
}
