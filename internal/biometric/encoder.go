package biometric

import (
	"context"
	"io"
	"time"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/observability"
)

// Encoder turns an image into a face embedding. Implementations return
// apperr.ErrNoFaceDetected when the image holds no face.
type Encoder interface {
	Encode(ctx context.Context, r io.Reader) ([]float32, error)
}

// Pool hands out encoders exclusively. ONNX sessions own their input and
// output tensors, so one encoder serves one request at a time.
type Pool struct {
	free chan Encoder
	size int
}

func NewPool(encoders ...Encoder) *Pool {
	p := &Pool{free: make(chan Encoder, len(encoders)), size: len(encoders)}
	for _, e := range encoders {
		p.free <- e
	}
	return p
}

func (p *Pool) Size() int { return p.size }

// Encode checks out an encoder, waiting until one is free or ctx ends.
func (p *Pool) Encode(ctx context.Context, r io.Reader) ([]float32, error) {
	if p.size == 0 {
		return nil, apperr.New(apperr.ErrUpstreamUnavailable, "no face encoder is loaded")
	}

	start := time.Now()
	var enc Encoder
	select {
	case enc = <-p.free:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	observability.EncoderPoolWait.Observe(time.Since(start).Seconds())
	defer func() { p.free <- enc }()

	return enc.Encode(ctx, r)
}
