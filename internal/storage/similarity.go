package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/models"
)

// cosine returns the cosine similarity of a and b, 0 for mismatched or zero vectors.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

type scored struct {
	personID  uuid.UUID
	imageKey  string
	embedding []float32
}

// rankReferences scores candidates in process for backends without a vector index.
func rankReferences(candidates []scored, probe []float32, threshold float64, limit int) []models.ReferenceMatch {
	if limit <= 0 {
		limit = 5
	}
	var matches []models.ReferenceMatch
	for _, c := range candidates {
		score := cosine(probe, c.embedding)
		if float64(score) < threshold {
			continue
		}
		matches = append(matches, models.ReferenceMatch{
			PersonID: c.personID,
			ImageKey: c.imageKey,
			Score:    score,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
