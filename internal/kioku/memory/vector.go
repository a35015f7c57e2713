package memory

import (
	"encoding/json"
	"fmt"
	"math"
)

// EncodeEmbedding serialises a vector for the nullable embedding column.
// A nil vector encodes to nil so the column stays NULL.
func EncodeEmbedding(vec []float32) ([]byte, error) {
	if vec == nil {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	return data, nil
}

// DecodeEmbedding parses a stored embedding column value.
func DecodeEmbedding(raw string) ([]float32, error) {
	if raw == "" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return vec, nil
}

// CosineSimilarity returns 1 - cosine distance between a and b. Vectors of
// different length, empty vectors, and zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
