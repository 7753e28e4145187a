// Package facematch matches detected face embeddings against a consent reference set
// and renders the outcome onto frames.
package facematch

import (
	"math"

	"github.com/kozaktomas/consent-audit/internal/constants"
	"github.com/kozaktomas/consent-audit/internal/database"
)

// ThresholdTable looks up the default verification threshold of a model/metric pair.
type ThresholdTable interface {
	FindThreshold(model, metric string) (float64, bool)
}

// ResolveThreshold picks the acceptance threshold: an explicit override, else the
// model default from table, else constants.FallbackMatchThreshold.
func ResolveThreshold(override *float64, table ThresholdTable, model string, metric Metric) float64 {
	if override != nil {
		return *override
	}
	if table != nil {
		if thr, ok := table.FindThreshold(model, string(metric)); ok {
			return thr
		}
	}
	return constants.FallbackMatchThreshold
}

// Candidate is the consent face closest to a probe embedding.
type Candidate struct {
	ConsentFaceID string
	PersonName    string
	Distance      float64
}

// BestMatch scans cache linearly and returns the closest consent face whose distance is
// within threshold. Entries without an embedding are skipped; on ties the first one wins.
func BestMatch(embedding []float32, cache []database.ConsentFace, metric Metric, threshold float64) (*Candidate, bool) {
	if len(embedding) == 0 {
		return nil, false
	}

	var best *Candidate
	bestDistance := math.Inf(1)
	for i := range cache {
		cf := &cache[i]
		if !cf.HasEmbedding() {
			continue
		}
		d := FindDistance(embedding, cf.Embedding, metric)
		if d <= threshold && d < bestDistance {
			bestDistance = d
			best = &Candidate{ConsentFaceID: cf.ID, PersonName: cf.PersonName, Distance: d}
		}
	}
	return best, best != nil
}

// EmbeddingsCache returns the consent faces that carry an embedding.
func EmbeddingsCache(faces []database.ConsentFace) []database.ConsentFace {
	out := make([]database.ConsentFace, 0, len(faces))
	for _, f := range faces {
		if f.HasEmbedding() {
			out = append(out, f)
		}
	}
	return out
}
