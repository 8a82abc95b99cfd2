package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/finsentinel/risk-scoring-backend/internal/service/riskscoring"
)

// featureOrder is the canonical column order of the training data. The
// artifact stores weights by feature name; loading resolves them into
// this order so Predict is a plain dot product.
var featureOrder = []string{"amount", "time_of_day", "location_risk", "merchant_risk", "frequency"}

// Artifact is the on-disk JSON shape of an exported logistic model.
// Means and scales are the standardization parameters captured at
// training time; both are optional and default to identity.
type Artifact struct {
	Version   string             `json:"version"`
	TrainedAt string             `json:"trained_at"`
	Weights   map[string]float64 `json:"weights"`
	Intercept float64            `json:"intercept"`
	Means     map[string]float64 `json:"means,omitempty"`
	Scales    map[string]float64 `json:"scales,omitempty"`
}

// Logistic is a logistic-regression classifier backed by a JSON model
// artifact. The artifact is resolved into flat slices at load time and
// never mutated afterwards, so a single instance is safe for concurrent
// Predict calls.
type Logistic struct {
	version   string
	weights   []float64
	intercept float64
	means     []float64
	scales    []float64
	logger    *zap.Logger
}

// LoadLogistic reads and validates a model artifact from path.
func LoadLogistic(path string, logger *zap.Logger) (*Logistic, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parsing model artifact: %w", err)
	}

	model, err := NewLogistic(artifact, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("logistic model loaded",
		zap.String("path", path),
		zap.String("version", model.version))

	return model, nil
}

// NewLogistic builds a classifier from an in-memory artifact.
func NewLogistic(artifact Artifact, logger *zap.Logger) (*Logistic, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(artifact.Weights) == 0 {
		return nil, fmt.Errorf("model artifact has no weights")
	}
	weights, err := resolve(artifact.Weights, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid model weights: %w", err)
	}

	means, err := resolve(artifact.Means, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid model means: %w", err)
	}

	scales, err := resolve(artifact.Scales, 1)
	if err != nil {
		return nil, fmt.Errorf("invalid model scales: %w", err)
	}
	for i, s := range scales {
		if s == 0 {
			return nil, fmt.Errorf("invalid model scales: zero scale for %q", featureOrder[i])
		}
	}

	return &Logistic{
		version:   artifact.Version,
		weights:   weights,
		intercept: artifact.Intercept,
		means:     means,
		scales:    scales,
		logger:    logger,
	}, nil
}

// Predict returns the fraud probability for the feature vector.
func (l *Logistic) Predict(ctx context.Context, features riskscoring.Features) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	vector := features.Vector()
	if len(vector) != len(l.weights) {
		return 0, fmt.Errorf("%w: feature vector length %d, model expects %d",
			riskscoring.ErrClassifierUnavailable, len(vector), len(l.weights))
	}

	z := l.intercept
	for i, x := range vector {
		z += l.weights[i] * ((x - l.means[i]) / l.scales[i])
	}

	p := sigmoid(z)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("%w: non-finite prediction", riskscoring.ErrClassifierUnavailable)
	}
	return p, nil
}

// Version reports the artifact version, empty when untagged.
func (l *Logistic) Version() string {
	return l.version
}

// resolve maps named parameters into featureOrder, filling absent
// features with def. An unknown feature name is an error.
func resolve(params map[string]float64, def float64) ([]float64, error) {
	out := make([]float64, len(featureOrder))
	for i := range out {
		out[i] = def
	}
	if len(params) == 0 {
		return out, nil
	}

	index := make(map[string]int, len(featureOrder))
	for i, name := range featureOrder {
		index[name] = i
	}

	for name, value := range params {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		out[i] = value
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
