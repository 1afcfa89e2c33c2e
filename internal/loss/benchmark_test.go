package loss

import (
	"math/rand"
	"testing"
)

// BenchmarkSoftmaxCrossEntropy benchmarks forward and backward over 10 classes.
func BenchmarkSoftmaxCrossEntropy(b *testing.B) {
	ce := SoftmaxCrossEntropy{}
	logits := make([]float64, 10)
	for i := range logits {
		logits[i] = rand.Float64()*4 - 2
	}
	yTrue := make([]float64, 10)
	yTrue[3] = 1
	grad := make([]float64, 10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ce.Forward(logits, yTrue)
		ce.BackwardInPlace(logits, yTrue, grad)
	}
}
