package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Classifier turns predictor output into a labelled prediction.
type Classifier struct {
	predictor Predictor
	classes   []string
}

func NewClassifier(predictor Predictor, classes []string) *Classifier {
	return &Classifier{
		predictor: predictor,
		classes:   append([]string(nil), classes...),
	}
}

// Classify picks the most probable class. Ties go to the lowest index.
func (c *Classifier) Classify(in *Tensor) (*Prediction, error) {
	probs, err := c.predictor.Predict(in)
	if err != nil {
		return nil, err
	}
	if len(probs) != len(c.classes) {
		return nil, fmt.Errorf("model returned %d probabilities for %d classes", len(probs), len(c.classes))
	}

	if err := checkDistribution(probs); err != nil {
		return nil, err
	}

	idx := floats.MaxIdx(probs)
	predictions := make(map[string]float64, len(probs))
	for i, p := range probs {
		predictions[c.classes[i]] = p
	}

	return &Prediction{
		Emotion:       c.classes[idx],
		Confidence:    probs[idx],
		Probabilities: predictions,
	}, nil
}

// distributionTolerance absorbs float32 rounding in the softmax sum.
const distributionTolerance = 1e-3

// checkDistribution rejects outputs that are not probabilities, such as raw
// logits from a graph exported without its softmax.
func checkDistribution(probs []float64) error {
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: output %d is %v", ErrNotProbabilities, i, p)
		}
	}
	if sum := floats.Sum(probs); math.Abs(sum-1) > distributionTolerance {
		return fmt.Errorf("%w: outputs sum to %v", ErrNotProbabilities, sum)
	}
	return nil
}

func (c *Classifier) Classes() []string {
	return append([]string(nil), c.classes...)
}

func (c *Classifier) Close() error {
	return c.predictor.Close()
}
