package detection

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// CPUProvider implements YOLO inference using OpenCV CPU backend
type CPUProvider struct {
	net        gocv.Net
	classNames []string
	mu         sync.Mutex
}

// Initialize initializes the CPU provider with model files
func (cp *CPUProvider) Initialize(weightsPath, configPath, namesPath string) error {
	cp.net = gocv.ReadNet(weightsPath, configPath)
	if cp.net.Empty() {
		return errors.Errorf("failed to load YOLO network from %s and %s", weightsPath, configPath)
	}

	cp.net.SetPreferableBackend(gocv.NetBackendDefault)
	cp.net.SetPreferableTarget(gocv.NetTargetCPU)

	names, err := loadClassNames(namesPath)
	if err != nil {
		return err
	}
	cp.classNames = names

	return nil
}

// Detect performs object detection on a frame using CPU
func (cp *CPUProvider) Detect(frame gocv.Mat) (*DetectionResult, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	cp.net.SetInput(blob, "")
	output := cp.net.Forward("")
	defer output.Close()

	return decodeYOLOOutput(output, frame.Cols(), frame.Rows(), cp.classNames), nil
}

// Close releases resources used by the CPU provider
func (cp *CPUProvider) Close() error {
	cp.net.Close()
	return nil
}

// GetProviderInfo returns information about the CPU provider
func (cp *CPUProvider) GetProviderInfo() ProviderInfo {
	return ProviderInfo{
		Type:         "CPU",
		Backend:      "OpenCV CPU",
		Device:       "CPU",
		EstimatedFPS: 15, // Conservative estimate for CPU inference
		MemoryUsage:  "~500MB",
	}
}
