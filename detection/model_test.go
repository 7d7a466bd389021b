package detection

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterboxWideFrame(t *testing.T) {
	// 640x480 into 416x416: width-limited, bars top and bottom.
	lb := newLetterbox(640, 480)
	assert.InDelta(t, 416.0/640.0, lb.scale, 1e-9)
	assert.InDelta(t, 0, lb.xOffset, 1e-9)
	assert.Greater(t, lb.yOffset, 0.0)

	// A box in the exact center of the network input maps to the frame center.
	rect := lb.toFrame(0.5, 0.5, 0.25, 0.25)
	cx := (rect.Min.X + rect.Max.X) / 2
	cy := (rect.Min.Y + rect.Max.Y) / 2
	assert.InDelta(t, 320, cx, 2)
	assert.InDelta(t, 240, cy, 2)
}

func TestLetterboxTallFrame(t *testing.T) {
	// 480x640: height-limited, bars left and right.
	lb := newLetterbox(480, 640)
	assert.InDelta(t, 416.0/640.0, lb.scale, 1e-9)
	assert.Greater(t, lb.xOffset, 0.0)
	assert.InDelta(t, 0, lb.yOffset, 1e-9)
}

func TestLetterboxClampsToFrame(t *testing.T) {
	lb := newLetterbox(640, 480)

	// Box hanging off the left edge gets clipped, never negative.
	rect := lb.toFrame(0.01, 0.5, 0.2, 0.2)
	assert.GreaterOrEqual(t, rect.Min.X, 0)
	assert.True(t, rect.In(image.Rect(0, 0, 640, 480)))
}

func TestListModelsRequiresWeightAndConfigPair(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	write("yolov4-tiny.weights")
	write("yolov4-tiny.cfg")
	write("orphan.weights") // no matching .cfg
	write("notes.txt")

	models, err := ListModels(dir)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "yolov4-tiny", models[0].Name)
	assert.Equal(t, filepath.Join(dir, "yolov4-tiny.weights"), models[0].WeightsPath)
	assert.Equal(t, filepath.Join(dir, "yolov4-tiny.cfg"), models[0].ConfigPath)
}

func TestListModelsMissingDir(t *testing.T) {
	_, err := ListModels(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadClassNamesSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coco.names")
	require.NoError(t, os.WriteFile(path, []byte("person\n\nbicycle\ncar\n"), 0o644))

	names, err := loadClassNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "bicycle", "car"}, names)
}
