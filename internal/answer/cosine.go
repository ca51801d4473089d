package answer

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned by Cosine for vectors of different length.
var ErrDimensionMismatch = errors.New("answer: vector dimensions differ")

// Cosine returns dot(a,b) / (|a|·|b|), clamped to [-1, 1]. If either vector
// has zero norm the result is 0. Accumulation is done in float64.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return max(-1, min(1, s)), nil
}
