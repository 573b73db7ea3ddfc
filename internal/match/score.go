// Package match scores an application embedding against a job post.
package match

import "math"

// Cosine returns the cosine similarity of two embeddings, clamped to
// [0, 1]. Vectors of different lengths are compared over their common
// prefix; a zero vector scores 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// OverallScore combines the per-facet similarities with the model's own
// score into a single fit score: requirements weigh 40, responsibilities
// 30, description 20, model score 10, minus any penalty.
func OverallScore(description, requirements, responsibilities, modelScore, penalty float64) float64 {
	return requirements*40 + responsibilities*30 + description*20 + modelScore*10 - penalty
}
