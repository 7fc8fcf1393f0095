package scorer

import "math"

const (
	learningRate = 0.01
	fitEpochs    = 5
)

// model is an incremental logistic-regression classifier trained with
// stochastic gradient descent on log loss.
type model struct {
	weights []float64
	bias    float64
}

func newModel(dim int) *model {
	return &model{weights: make([]float64, dim)}
}

// predict returns the class-1 probability for a feature vector. Vectors
// shorter than the model dimension are implicitly zero-padded; longer ones
// are truncated.
func (m *model) predict(x []float64) float64 {
	z := m.bias

	n := len(x)
	if n > len(m.weights) {
		n = len(m.weights)
	}

	for i := 0; i < n; i++ {
		z += m.weights[i] * x[i]
	}

	return sigmoid(z)
}

// fit performs an incremental gradient pass over the batch.
func (m *model) fit(batch [][]float64, labels []float64) {
	for epoch := 0; epoch < fitEpochs; epoch++ {
		for i, x := range batch {
			m.step(x, labels[i])
		}
	}
}

func (m *model) step(x []float64, label float64) {
	grad := m.predict(x) - label

	n := len(x)
	if n > len(m.weights) {
		n = len(m.weights)
	}

	for i := 0; i < n; i++ {
		m.weights[i] -= learningRate * grad * x[i]
	}

	m.bias -= learningRate * grad
}

// grow zero-pads the weight vector on the right so previously learned
// dimensions keep their positions.
func (m *model) grow(dim int) {
	if dim <= len(m.weights) {
		return
	}

	grown := make([]float64, dim)
	copy(grown, m.weights)
	m.weights = grown
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
