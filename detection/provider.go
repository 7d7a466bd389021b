package detection

import (
	"fmt"
	"image"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DetectionResult represents the output of object detection
type DetectionResult struct {
	Rects       []image.Rectangle
	ClassNames  []string
	Confidences []float64
}

// Global debug function for detection package
var debugMsgFunc func(string, string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// InferenceProvider defines the interface for YOLO inference
type InferenceProvider interface {
	Initialize(weightsPath, configPath, namesPath string) error
	Detect(frame gocv.Mat) (*DetectionResult, error)
	Close() error
	GetProviderInfo() ProviderInfo
}

// ProviderInfo contains information about the inference provider
type ProviderInfo struct {
	Type         string        // "GPU" or "CPU"
	Backend      string        // "CUDA" or "OpenCV CPU"
	Device       string        // Device identifier
	EstimatedFPS int           // Estimated inference FPS
	MemoryUsage  string        // Memory usage info
	InitTime     time.Duration // Time taken to initialize
}

// ProviderManager handles automatic provider selection and fallback
type ProviderManager struct {
	currentProvider InferenceProvider
	providerInfo    ProviderInfo
}

// NewProviderManager creates a new provider manager with auto-detection
func NewProviderManager() *ProviderManager {
	return &ProviderManager{}
}

// Initialize performs auto-detection and initializes the best available
// provider. GPU is tried first with a verification inference; anything short
// of a working GPU path falls back to CPU.
func (pm *ProviderManager) Initialize(weightsPath, configPath, namesPath string) error {
	debugMsg("PROVIDER", "Auto-detecting best inference provider...")

	if hasGPUCapability() {
		debugMsg("PROVIDER", "GPU capability detected, attempting GPU initialization...")
		gpuProvider := &GPUProvider{}

		startTime := time.Now()
		err := gpuProvider.Initialize(weightsPath, configPath, namesPath)
		if err == nil {
			if testProvider(gpuProvider) {
				pm.currentProvider = gpuProvider
				pm.providerInfo = gpuProvider.GetProviderInfo()
				pm.providerInfo.InitTime = time.Since(startTime)
				debugMsg("PROVIDER", fmt.Sprintf("GPU provider successfully initialized (%v)", pm.providerInfo.InitTime))
				return nil
			}
			debugMsg("PROVIDER", "GPU test inference failed, falling back to CPU")
			gpuProvider.Close()
		} else {
			debugMsg("PROVIDER", fmt.Sprintf("GPU initialization failed: %v, falling back to CPU", err))
		}
	} else {
		debugMsg("PROVIDER", "No GPU capability detected")
	}

	debugMsg("PROVIDER", "Initializing CPU provider...")
	cpuProvider := &CPUProvider{}

	startTime := time.Now()
	if err := cpuProvider.Initialize(weightsPath, configPath, namesPath); err != nil {
		return errors.Wrap(err, "both GPU and CPU providers failed")
	}

	pm.currentProvider = cpuProvider
	pm.providerInfo = cpuProvider.GetProviderInfo()
	pm.providerInfo.InitTime = time.Since(startTime)
	debugMsg("PROVIDER", fmt.Sprintf("CPU provider initialized (%v)", pm.providerInfo.InitTime))

	return nil
}

// GetProvider returns the current active provider
func (pm *ProviderManager) GetProvider() InferenceProvider {
	return pm.currentProvider
}

// GetProviderInfo returns information about the current provider
func (pm *ProviderManager) GetProviderInfo() ProviderInfo {
	return pm.providerInfo
}

// Close closes the current provider
func (pm *ProviderManager) Close() error {
	if pm.currentProvider != nil {
		return pm.currentProvider.Close()
	}
	return nil
}

// hasGPUCapability checks if GPU inference is possible
func hasGPUCapability() bool {
	if !hasNVIDIAGPU() {
		debugMsg("GPU_DETECT", "No NVIDIA GPU detected")
		return false
	}
	debugMsg("GPU_DETECT", "NVIDIA GPU found")

	if !hasNVIDIADriver() {
		debugMsg("GPU_DETECT", "NVIDIA drivers not loaded")
		return false
	}
	debugMsg("GPU_DETECT", "NVIDIA drivers loaded")

	// CUDA itself is verified during GPU provider initialization.
	return true
}

// hasNVIDIAGPU checks if NVIDIA GPU is present
func hasNVIDIAGPU() bool {
	cmd := exec.Command("lspci")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "nvidia")
}

// hasNVIDIADriver checks if NVIDIA drivers are loaded
func hasNVIDIADriver() bool {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	if err := cmd.Run(); err != nil {
		return false
	}

	matches, _ := filepath.Glob("/dev/nvidia*")
	return len(matches) > 0
}

// testProvider performs a quick test inference to verify the provider works
func testProvider(provider InferenceProvider) bool {
	testFrame := gocv.NewMatWithSize(yoloInputSize, yoloInputSize, gocv.MatTypeCV8UC3)
	defer testFrame.Close()

	_, err := provider.Detect(testFrame)
	return err == nil
}
