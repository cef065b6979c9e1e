package vision

import (
	"fmt"
	"image"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face box in source image pixels.
type Detection struct {
	Box        [4]float32 // x1, y1, x2, y2
	Confidence float32
}

func (d Detection) area() float32 {
	return (d.Box[2] - d.Box[0]) * (d.Box[3] - d.Box[1])
}

const (
	detInputSize    = 640
	anchorsPerCell  = 2
	nmsIoUThreshold = 0.4
	detInputName    = "input.1"
)

// RetinaFace det_10g emits scores, boxes and landmarks for strides 8, 16
// and 32, without a batch dimension. Landmarks are bound but unused.
var detStrides = []int{8, 16, 32}

var detOutputs = []struct {
	name  string
	shape ort.Shape
}{
	{"448", ort.NewShape(12800, 1)},
	{"471", ort.NewShape(3200, 1)},
	{"494", ort.NewShape(800, 1)},
	{"451", ort.NewShape(12800, 4)},
	{"474", ort.NewShape(3200, 4)},
	{"497", ort.NewShape(800, 4)},
	{"454", ort.NewShape(12800, 10)},
	{"477", ort.NewShape(3200, 10)},
	{"500", ort.NewShape(800, 10)},
}

// Detector runs RetinaFace. Not safe for concurrent use.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []*ort.Tensor[float32]
	threshold float32
}

func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	d := &Detector{threshold: threshold}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	names := make([]string, len(detOutputs))
	values := make([]ort.Value, len(detOutputs))
	for i, spec := range detOutputs {
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		d.outputs = append(d.outputs, t)
		names[i] = spec.name
		values[i] = t
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{detInputName}, names,
		[]ort.Value{d.input}, values, nil)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect returns faces above the confidence threshold after NMS, best first.
func (d *Detector) Detect(img *image.RGBA) ([]Detection, error) {
	fillCHW(d.input.GetData(), img, detInputSize, detInputSize, detectionMean, detectionStd)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	return suppress(d.decode(float32(w), float32(h)), nmsIoUThreshold), nil
}

// decode turns anchor distances into boxes scaled back to w×h.
func (d *Detector) decode(w, h float32) []Detection {
	sx := w / detInputSize
	sy := h / detInputSize

	var out []Detection
	for si, stride := range detStrides {
		scores := d.outputs[si].GetData()
		boxes := d.outputs[si+len(detStrides)].GetData()
		cells := detInputSize / stride
		st := float32(stride)

		for i := range scores {
			if scores[i] < d.threshold {
				continue
			}
			cell := i / anchorsPerCell
			ax := float32(cell%cells) * st
			ay := float32(cell/cells) * st
			b := boxes[i*4 : i*4+4]
			out = append(out, Detection{
				Box: [4]float32{
					clamp((ax-b[0]*st)*sx, 0, w),
					clamp((ay-b[1]*st)*sy, 0, h),
					clamp((ax+b[2]*st)*sx, 0, w),
					clamp((ay+b[3]*st)*sy, 0, h),
				},
				Confidence: scores[i],
			})
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		t.Destroy()
	}
}

// suppress is greedy non-maximum suppression.
func suppress(dets []Detection, iouThreshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	kept := dets[:0]
outer:
	for _, cand := range dets {
		for _, k := range kept {
			if iou(cand, k) > iouThreshold {
				continue outer
			}
		}
		kept = append(kept, cand)
	}
	return kept
}

func iou(a, b Detection) float32 {
	x1 := max(a.Box[0], b.Box[0])
	y1 := max(a.Box[1], b.Box[1])
	x2 := min(a.Box[2], b.Box[2])
	y2 := min(a.Box[3], b.Box[3])
	inter := max(0, x2-x1) * max(0, y2-y1)
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
