package index

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankAndWindow sorts hits by score descending (passage ID breaks ties so
// pagination is stable) and returns the [offset, offset+limit) window
func rankAndWindow(hits []types.SearchHit, limit, offset int) []types.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Passage.ID < hits[j].Passage.ID
	})

	if offset >= len(hits) {
		return []types.SearchHit{}
	}
	hits = hits[offset:]
	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	return hits
}

// validateVectors checks that every passage carries a vector of the same length
func validateVectors(passages []types.Passage, dimension int) error {
	want := dimension
	for i := range passages {
		n := len(passages[i].Vector)
		if n == 0 {
			return ErrMissingVector
		}
		if want == 0 {
			want = n
			continue
		}
		if n != want {
			return ErrDimensionMismatch
		}
	}
	return nil
}
