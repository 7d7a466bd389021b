package detection

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// GPUProvider implements YOLO inference using OpenCV CUDA backend
type GPUProvider struct {
	net        gocv.Net
	classNames []string
	mu         sync.Mutex
}

// Initialize initializes the GPU provider with model files
func (gp *GPUProvider) Initialize(weightsPath, configPath, namesPath string) error {
	gp.net = gocv.ReadNet(weightsPath, configPath)
	if gp.net.Empty() {
		return errors.Errorf("failed to load YOLO network from %s and %s", weightsPath, configPath)
	}

	gp.net.SetPreferableBackend(gocv.NetBackendCUDA)
	gp.net.SetPreferableTarget(gocv.NetTargetCUDA)

	names, err := loadClassNames(namesPath)
	if err != nil {
		return err
	}
	gp.classNames = names

	return nil
}

// Detect performs object detection on a frame using GPU
func (gp *GPUProvider) Detect(frame gocv.Mat) (*DetectionResult, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	gp.net.SetInput(blob, "")
	output := gp.net.Forward("")
	defer output.Close()

	return decodeYOLOOutput(output, frame.Cols(), frame.Rows(), gp.classNames), nil
}

// Close releases resources used by the GPU provider
func (gp *GPUProvider) Close() error {
	gp.net.Close()
	return nil
}

// GetProviderInfo returns information about the GPU provider
func (gp *GPUProvider) GetProviderInfo() ProviderInfo {
	return ProviderInfo{
		Type:         "GPU",
		Backend:      "OpenCV CUDA",
		Device:       "NVIDIA GPU",
		EstimatedFPS: 200, // Optimistic estimate for GPU inference
		MemoryUsage:  "~2GB VRAM",
	}
}
