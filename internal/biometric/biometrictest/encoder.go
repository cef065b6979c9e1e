// Package biometrictest provides a deterministic Encoder for tests.
package biometrictest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/your-org/passgate/internal/apperr"
)

// Encoder maps exact image bytes to embeddings. Unknown images have no face.
type Encoder struct {
	mu    sync.Mutex
	faces map[string][]float32
	calls int
}

func NewEncoder() *Encoder {
	return &Encoder{faces: make(map[string][]float32)}
}

// Face registers an image payload and returns it for convenience.
func (e *Encoder) Face(image string, embedding []float32) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faces[image] = embedding
	return []byte(image)
}

func (e *Encoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Encoder) Encode(ctx context.Context, r io.Reader) ([]float32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	emb, ok := e.faces[string(data)]
	if !ok {
		return nil, apperr.ErrNoFaceDetected
	}
	return append([]float32(nil), emb...), nil
}

// Vector returns a unit vector of dim 512 along axis.
func Vector(axis int) []float32 {
	v := make([]float32, 512)
	v[axis] = 1
	return v
}
