package facematch

import (
	"fmt"
	"math"
	"strings"
)

// Metric names a distance function between two embeddings.
type Metric string

const (
	MetricCosine      Metric = "cosine"
	MetricEuclidean   Metric = "euclidean"
	MetricEuclideanL2 Metric = "euclidean_l2"
)

// ParseMetric returns the metric for a config value. Empty selects euclidean_l2.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MetricEuclideanL2, nil
	case MetricCosine, MetricEuclidean, MetricEuclideanL2:
		return m, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// CosineDistance computes 1 - cosine similarity.
// Returns +Inf for mismatched, empty or zero vectors.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.Inf(1)
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))
	return 1 - similarity
}

// EuclideanDistance computes the L2 distance between the raw vectors.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// EuclideanL2Distance computes the euclidean distance between the L2-normalized vectors.
func EuclideanL2Distance(a, b []float32) float64 {
	na, nb := l2Normalize(a), l2Normalize(b)
	if na == nil || nb == nil {
		return math.Inf(1)
	}
	return EuclideanDistance(na, nb)
}

func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// FindDistance dispatches to the distance function of metric.
// Unknown metrics fall back to euclidean_l2.
func FindDistance(a, b []float32, metric Metric) float64 {
	switch metric {
	case MetricCosine:
		return CosineDistance(a, b)
	case MetricEuclidean:
		return EuclideanDistance(a, b)
	default:
		return EuclideanL2Distance(a, b)
	}
}
