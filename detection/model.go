package detection

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// yoloInputSize is the square network input. Frames are letterboxed into it
// so detections must be mapped back through the same transform.
const yoloInputSize = 416

// minConfidence drops weak detections before they ever reach the tracker
const minConfidence = 0.3

// letterbox captures the geometry of fitting a frame into the square network
// input with aspect ratio preserved and gray/black bars on the short axis.
type letterbox struct {
	frameW   float64
	frameH   float64
	scale    float64
	xOffset  float64
	yOffset  float64
	netInput float64
}

func newLetterbox(frameW, frameH int) letterbox {
	w := float64(frameW)
	h := float64(frameH)
	net := float64(yoloInputSize)
	scale := net / w
	if h > w {
		scale = net / h
	}
	return letterbox{
		frameW:   w,
		frameH:   h,
		scale:    scale,
		xOffset:  (net - w*scale) / 2,
		yOffset:  (net - h*scale) / 2,
		netInput: net,
	}
}

// toFrame maps a normalized network-space box (center x/y, width/height) back
// to a pixel rectangle in the original frame, clamped to the frame.
func (lb letterbox) toFrame(xNorm, yNorm, wNorm, hNorm float64) image.Rectangle {
	cx := (xNorm*lb.netInput - lb.xOffset) / lb.scale
	cy := (yNorm*lb.netInput - lb.yOffset) / lb.scale
	w := wNorm * lb.netInput / lb.scale
	h := hNorm * lb.netInput / lb.scale

	left := int(cx - w/2)
	top := int(cy - h/2)
	rect := image.Rect(left, top, left+int(w), top+int(h))
	return rect.Intersect(image.Rect(0, 0, int(lb.frameW), int(lb.frameH)))
}

// decodeYOLOOutput turns the raw forward-pass output into frame-space
// detections. Each output row is [cx, cy, w, h, objectness, class scores...].
// Shared by the CPU and GPU providers so the coordinate math cannot drift
// between them.
func decodeYOLOOutput(output gocv.Mat, frameW, frameH int, classNames []string) *DetectionResult {
	lb := newLetterbox(frameW, frameH)

	var rects []image.Rectangle
	var names []string
	var confidences []float64

	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		data := row.Clone()
		scores := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scores)
		classID := maxLoc.X
		confidence := float64(maxVal)

		if confidence > minConfidence && classID < len(classNames) {
			rect := lb.toFrame(
				float64(data.GetFloatAt(0, 0)),
				float64(data.GetFloatAt(0, 1)),
				float64(data.GetFloatAt(0, 2)),
				float64(data.GetFloatAt(0, 3)),
			)
			if !rect.Empty() {
				rects = append(rects, rect)
				names = append(names, classNames[classID])
				confidences = append(confidences, confidence)
			}
		}

		scores.Close()
		data.Close()
		row.Close()
	}

	return &DetectionResult{
		Rects:       rects,
		ClassNames:  names,
		Confidences: confidences,
	}
}

// loadClassNames reads a .names file, one class per line, skipping blanks
func loadClassNames(namesPath string) ([]string, error) {
	raw, err := os.ReadFile(namesPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not read class names")
	}
	var names []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no class names in %s", namesPath)
	}
	return names, nil
}

// ModelInfo describes one loadable model found in the models directory
type ModelInfo struct {
	Name        string `json:"name"`
	WeightsPath string `json:"weights"`
	ConfigPath  string `json:"config"`
}

// ListModels scans dir for Darknet weight/config pairs. A model is listed
// only when both files are present under the same base name.
func ListModels(dir string) ([]ModelInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read models directory %s", dir)
	}

	var models []ModelInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".weights") {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".weights")
		cfg := filepath.Join(dir, base+".cfg")
		if _, err := os.Stat(cfg); err != nil {
			continue
		}
		models = append(models, ModelInfo{
			Name:        base,
			WeightsPath: filepath.Join(dir, entry.Name()),
			ConfigPath:  cfg,
		})
	}
	sort.Slice(models, func(a, b int) bool { return models[a].Name < models[b].Name })
	return models, nil
}
