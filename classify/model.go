package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// ModelVersion is written into every saved artifact. Loading refuses
// artifacts from a different version.
const ModelVersion = "frbseek-boost-v1"

// ErrModelMissing indicates the trained classifier artifact could not be
// found. Fatal only for runs explicitly requesting Policy C.
var ErrModelMissing = errors.New("classifier model artifact missing")

// Stump is one decision stump of the boosted ensemble: samples with
// feature value <= Split contribute Left to the raw score, others Right.
type Stump struct {
	Feature int     `json:"feature"`
	Split   float64 `json:"split"`
	Left    float64 `json:"left"`
	Right   float64 `json:"right"`
}

// Model is a gradient-boosted decision stump binary classifier. Trained once
// offline; inference is stateless and read-only.
type Model struct {
	Version      string   `json:"version"`
	FeatureNames []string `json:"feature_names"`
	Bias         float64  `json:"bias"`
	Shrinkage    float64  `json:"shrinkage"`
	Threshold    float64  `json:"threshold"`
	Stumps       []Stump  `json:"stumps"`
}

// Score returns the model's probability that the feature vector describes a
// real pulse.
func (m *Model) Score(features []float64) float64 {
	raw := m.Bias
	for _, s := range m.Stumps {
		if s.Feature >= len(features) {
			continue
		}
		if features[s.Feature] <= s.Split {
			raw += m.Shrinkage * s.Left
		} else {
			raw += m.Shrinkage * s.Right
		}
	}
	return sigmoid(raw)
}

// Save writes the model artifact as JSON.
func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadModel reads a model artifact. A missing file maps to ErrModelMissing.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelMissing, path)
		}
		return nil, err
	}
	m := &Model{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unable to parse model artifact %q: %s", path, err)
	}
	if m.Version != ModelVersion {
		return nil, fmt.Errorf("model artifact %q has version %q, want %q", path, m.Version, ModelVersion)
	}
	return m, nil
}

// TrainConfig are the Policy C training hyperparameters. Injected training
// amplitudes are chosen by the operator, not derived from the noise floor.
type TrainConfig struct {
	Rounds    int
	Shrinkage float64
	Threshold float64
}

// Train fits a boosted stump ensemble to the labeled feature matrix with
// logistic loss. labels are 0 (natural blob) or 1 (injected pulse).
// Deterministic: no randomness in split selection or ordering.
func Train(features [][]float64, labels []int, cfg TrainConfig) (*Model, error) {
	n := len(features)
	if n == 0 || n != len(labels) {
		return nil, fmt.Errorf("training set size mismatch: %d features, %d labels", n, len(labels))
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = 50
	}
	if cfg.Shrinkage <= 0 {
		cfg.Shrinkage = 0.1
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.5
	}

	pos := 0
	for _, y := range labels {
		if y == 1 {
			pos++
		}
	}
	if pos == 0 || pos == n {
		return nil, fmt.Errorf("training set needs both classes, got %d/%d positives", pos, n)
	}
	p := float64(pos) / float64(n)

	m := &Model{
		Version:      ModelVersion,
		FeatureNames: FeatureNames(),
		Bias:         math.Log(p / (1 - p)),
		Shrinkage:    cfg.Shrinkage,
		Threshold:    cfg.Threshold,
	}

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = m.Bias
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	for round := 0; round < cfg.Rounds; round++ {
		for i := range features {
			pi := sigmoid(raw[i])
			grad[i] = float64(labels[i]) - pi
			hess[i] = pi * (1 - pi)
		}
		s, ok := bestStump(features, grad, hess)
		if !ok {
			break
		}
		m.Stumps = append(m.Stumps, s)
		for i, f := range features {
			if f[s.Feature] <= s.Split {
				raw[i] += cfg.Shrinkage * s.Left
			} else {
				raw[i] += cfg.Shrinkage * s.Right
			}
		}
	}
	return m, nil
}

// bestStump finds the single split maximizing the Newton gain over all
// features and thresholds.
func bestStump(features [][]float64, grad, hess []float64) (Stump, bool) {
	const lambda = 1.0 // leaf regularization

	nFeat := len(features[0])
	var best Stump
	bestGain := 0.0
	found := false

	var gTot, hTot float64
	for i := range grad {
		gTot += grad[i]
		hTot += hess[i]
	}
	base := gTot * gTot / (hTot + lambda)

	for f := 0; f < nFeat; f++ {
		for _, split := range splitPoints(features, f) {
			var gl, hl float64
			for i, row := range features {
				if row[f] <= split {
					gl += grad[i]
					hl += hess[i]
				}
			}
			gr := gTot - gl
			hr := hTot - hl
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - base
			if gain > bestGain {
				bestGain = gain
				best = Stump{
					Feature: f,
					Split:   split,
					Left:    gl / (hl + lambda),
					Right:   gr / (hr + lambda),
				}
				found = true
			}
		}
	}
	return best, found
}

// splitPoints returns candidate thresholds for a feature: midpoints between
// consecutive distinct sorted values.
func splitPoints(features [][]float64, f int) []float64 {
	vals := make([]float64, 0, len(features))
	for _, row := range features {
		vals = append(vals, row[f])
	}
	insertionSort(vals)

	var splits []float64
	for i := 1; i < len(vals); i++ {
		if vals[i] != vals[i-1] {
			splits = append(splits, (vals[i]+vals[i-1])/2)
		}
	}
	return splits
}

func insertionSort(vals []float64) {
	for i := 1; i < len(vals); i++ {
		for j := i; j > 0 && vals[j] < vals[j-1]; j-- {
			vals[j], vals[j-1] = vals[j-1], vals[j]
		}
	}
}

// GridSearch selects hyperparameters by k-fold cross-validation over the
// candidate rounds and shrinkage values, then trains the final model on the
// full set with the winner. Folds are assigned by index stride, keeping the
// whole procedure deterministic.
func GridSearch(features [][]float64, labels []int, folds int, rounds []int, shrinkages []float64, threshold float64) (*Model, float64, error) {
	if folds < 2 {
		folds = 5
	}
	if len(rounds) == 0 {
		rounds = []int{25, 50, 100}
	}
	if len(shrinkages) == 0 {
		shrinkages = []float64{0.05, 0.1, 0.3}
	}

	bestAcc := -1.0
	var bestCfg TrainConfig
	for _, r := range rounds {
		for _, s := range shrinkages {
			cfg := TrainConfig{Rounds: r, Shrinkage: s, Threshold: threshold}
			acc, err := crossValidate(features, labels, folds, cfg)
			if err != nil {
				continue
			}
			if acc > bestAcc {
				bestAcc = acc
				bestCfg = cfg
			}
		}
	}
	if bestAcc < 0 {
		return nil, 0, fmt.Errorf("no hyperparameter combination produced a valid model")
	}
	m, err := Train(features, labels, bestCfg)
	if err != nil {
		return nil, 0, err
	}
	return m, bestAcc, nil
}

func crossValidate(features [][]float64, labels []int, folds int, cfg TrainConfig) (float64, error) {
	correct, total := 0, 0
	for k := 0; k < folds; k++ {
		var trainX, testX [][]float64
		var trainY, testY []int
		for i := range features {
			if i%folds == k {
				testX = append(testX, features[i])
				testY = append(testY, labels[i])
			} else {
				trainX = append(trainX, features[i])
				trainY = append(trainY, labels[i])
			}
		}
		m, err := Train(trainX, trainY, cfg)
		if err != nil {
			return 0, err
		}
		for i, f := range testX {
			pred := 0
			if m.Score(f) >= m.Threshold {
				pred = 1
			}
			if pred == testY[i] {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("empty validation set")
	}
	return float64(correct) / float64(total), nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
