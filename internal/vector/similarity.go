// Package vector provides cosine similarity primitives and similarity matrices for embeddings.
package vector

import (
	"math"

	"github.com/hyperjump/embedsim/internal/models"
)

// Dot returns the inner product of two equal-length vectors, accumulated in float64.
func Dot(a, b models.Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x models.Vector) float64 {
	return math.Sqrt(Dot(x, x))
}

// Norms returns the L2 norm of every vector.
func Norms(vecs []models.Vector) []float64 {
	out := make([]float64, len(vecs))
	for i, v := range vecs {
		out[i] = L2Norm(v)
	}
	return out
}

// Cosine returns dot(a,b) / (|a| |b|), or 0 when either norm is zero.
func Cosine(a, b models.Vector) float64 {
	return CosineWithNorms(a, b, L2Norm(a), L2Norm(b))
}

// CosineWithNorms is Cosine with precomputed norms. Every similarity value in the
// module goes through this function so matrix and streaming paths agree bit for bit.
func CosineWithNorms(a, b models.Vector, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// SelfSimilarity returns the full N x N cosine similarity matrix of vecs.
func SelfSimilarity(vecs []models.Vector) [][]float64 {
	return CrossSimilarity(vecs, vecs)
}

// CrossSimilarity returns the len(a) x len(b) cosine similarity matrix.
func CrossSimilarity(a, b []models.Vector) [][]float64 {
	na, nb := Norms(a), Norms(b)
	m := make([][]float64, len(a))
	for i := range a {
		m[i] = make([]float64, len(b))
		for j := range b {
			m[i][j] = CosineWithNorms(a[i], b[j], na[i], nb[j])
		}
	}
	return m
}

// UpperTriangle returns the entries strictly above the diagonal in row-major order.
func UpperTriangle(m [][]float64) []float64 {
	n := len(m)
	if n < 2 {
		return []float64{}
	}
	out := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < len(m[i]); j++ {
			out = append(out, m[i][j])
		}
	}
	return out
}

// Flatten returns all entries of m in row-major order.
func Flatten(m [][]float64) []float64 {
	var n int
	for _, row := range m {
		n += len(row)
	}
	out := make([]float64, 0, n)
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}
