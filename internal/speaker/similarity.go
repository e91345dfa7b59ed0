package speaker

import "gonum.org/v1/gonum/floats"

// Cosine returns the cosine similarity of two vectors in [-1, 1]. Vectors of
// mismatched or zero dimension, and vectors with zero norm, yield 0 so that
// degenerate embeddings never clear the match threshold.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
