// Command generate-model writes a seed classifier artifact so the API
// can run with the blended scorer before a trained model is available.
// The weights mirror the factor policy: location and merchant dominate,
// amount contributes per dollar, late-night hours push the probability
// up slightly.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/finsentinel/risk-scoring-backend/internal/infrastructure/classifier"
)

func main() {
	out := flag.String("out", "models/risk_model.json", "Output path for the model artifact")
	version := flag.String("version", "seed-1", "Artifact version label")
	flag.Parse()

	artifact := classifier.Artifact{
		Version:   *version,
		TrainedAt: time.Now().UTC().Format(time.RFC3339),
		Weights: map[string]float64{
			"amount":        0.0004,
			"time_of_day":   -0.05,
			"location_risk": 1.2,
			"merchant_risk": 1.5,
			"frequency":     0.3,
		},
		Intercept: -3.0,
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshaling artifact: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*out, append(data, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "writing %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (version %s)\n", *out, *version)
}
