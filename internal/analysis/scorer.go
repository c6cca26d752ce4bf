package analysis

import (
	"errors"
	"sort"

	"ecg-monitor/internal/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrScorerUnavailable = errors.New("analysis: scorer unavailable")

// Scorer labels a window. Implementations must be safe for concurrent use.
type Scorer interface {
	Score(signal []float64, sampleRate float64) (models.Scores, error)
}

// NoopScorer stands in when no classifier is configured.
type NoopScorer struct{}

func (NoopScorer) Score([]float64, float64) (models.Scores, error) {
	return models.Scores{}, ErrScorerUnavailable
}

// HeuristicScorer maps signal variance and mean absolute level onto fixed
// class scores. It is a placeholder for a trained model.
type HeuristicScorer struct{}

var heuristicLabels = []string{"normal", "afib", "av_block", "pvcs"}

func (HeuristicScorer) Score(signal []float64, sampleRate float64) (models.Scores, error) {
	if len(signal) == 0 || sampleRate <= 0 {
		return models.Scores{Scores: map[string]float64{}}, nil
	}
	_, variance := stat.PopMeanVariance(signal, nil)
	abs := make([]float64, len(signal))
	for i, v := range signal {
		if v < 0 {
			v = -v
		}
		abs[i] = v
	}
	meanAbs := floats.Sum(abs) / float64(len(abs))

	scores := map[string]float64{
		"normal":   max(0, 1-variance),
		"afib":     min(1, variance*0.5),
		"av_block": min(1, meanAbs*0.3),
		"pvcs":     min(1, variance*0.2+meanAbs*0.1),
	}
	return models.Scores{Scores: scores, TopLabel: topLabel(scores)}, nil
}

// topLabel picks the highest score; ties go to the earlier label.
func topLabel(scores map[string]float64) string {
	labels := append([]string(nil), heuristicLabels...)
	sort.SliceStable(labels, func(i, j int) bool { return scores[labels[i]] > scores[labels[j]] })
	return labels[0]
}
