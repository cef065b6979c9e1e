package vision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/config"
	"github.com/your-org/passgate/internal/observability"
)

const (
	detectionModel = "det_10g.onnx"
	embeddingModel = "w600k_r50.onnx"
)

// FaceEncoder detects the most confident face in an image and embeds it.
// One FaceEncoder owns one pair of sessions and must not be shared
// between goroutines; pool instances instead.
type FaceEncoder struct {
	detector *Detector
	embedder *Embedder
}

func NewFaceEncoder(cfg config.VisionConfig) (*FaceEncoder, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectionModel)
	embPath := filepath.Join(cfg.ModelsDir, embeddingModel)

	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector %s: %w", detPath, err)
	}
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder %s: %w", embPath, err)
	}
	return &FaceEncoder{detector: det, embedder: emb}, nil
}

// NewFaceEncoders loads n independent encoders.
func NewFaceEncoders(cfg config.VisionConfig, n int) ([]*FaceEncoder, error) {
	slog.Info("loading face models", "dir", cfg.ModelsDir, "instances", n)
	out := make([]*FaceEncoder, 0, n)
	for i := 0; i < n; i++ {
		enc, err := NewFaceEncoder(cfg)
		if err != nil {
			for _, e := range out {
				e.Close()
			}
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

func (f *FaceEncoder) Encode(ctx context.Context, r io.Reader) ([]float32, error) {
	img, err := decodeImage(r)
	if err != nil {
		return nil, apperr.New(apperr.ErrInvalidInput, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	faces, err := f.detector.Detect(img)
	if err != nil {
		return nil, err
	}
	observability.VerificationDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if len(faces) == 0 {
		return nil, apperr.ErrNoFaceDetected
	}

	crop := cropFace(img, faces[0].Box)
	if crop == nil {
		return nil, apperr.ErrNoFaceDetected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	emb, err := f.embedder.Embed(crop)
	if err != nil {
		return nil, err
	}
	observability.VerificationDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	return emb, nil
}

func (f *FaceEncoder) Close() {
	f.detector.Close()
	f.embedder.Close()
}
