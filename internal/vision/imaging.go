package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
)

// Normalisation constants for the two models.
var (
	detectionMean = [3]float32{127.5, 127.5, 127.5}
	detectionStd  = [3]float32{128, 128, 128}
	embeddingMean = [3]float32{127.5, 127.5, 127.5}
	embeddingStd  = [3]float32{127.5, 127.5, 127.5}
)

// decodeImage accepts JPEG and PNG and returns an RGBA copy.
func decodeImage(r io.Reader) (*image.RGBA, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// fillCHW writes img, resized nearest-neighbour to w×h, into dst as planar
// RGB normalised by (v-mean)/std. dst must hold 3*w*h values.
func fillCHW(dst []float32, img *image.RGBA, w, h int, mean, std [3]float32) {
	srcW, srcH := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		sy := y * srcH / h
		row := img.Pix[sy*img.Stride:]
		for x := 0; x < w; x++ {
			sx := (x * srcW / w) * 4
			i := y*w + x
			dst[i] = (float32(row[sx]) - mean[0]) / std[0]
			dst[plane+i] = (float32(row[sx+1]) - mean[1]) / std[1]
			dst[2*plane+i] = (float32(row[sx+2]) - mean[2]) / std[2]
		}
	}
}

// cropFace cuts the box out of img with 10% padding on each side.
// It returns nil for an empty box.
func cropFace(img *image.RGBA, box [4]float32) *image.RGBA {
	r := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])).Intersect(img.Rect)
	if r.Empty() {
		return nil
	}
	padX, padY := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padX, r.Min.Y-padY, r.Max.X+padX, r.Max.Y+padY).Intersect(img.Rect)

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}
