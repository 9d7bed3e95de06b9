package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"OnnxClsServer/engine/enginetest"
	iface "OnnxClsServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClassifier_MissingCheckpoint(t *testing.T) {
	_, err := NewClassifier(iface.EngineConfig{
		Checkpoint: filepath.Join(t.TempDir(), "missing.onnx"),
		Device:     "cpu",
	})
	require.Error(t, err)
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, "cpu", loadErr.Device)
}

func TestNewClassifier_BadInputs(t *testing.T) {
	checkpoint := filepath.Join(t.TempDir(), "classifier.pt")
	require.NoError(t, os.WriteFile(checkpoint, []byte("not a model"), 0o644))

	t.Run("empty path", func(t *testing.T) {
		_, err := NewClassifier(iface.EngineConfig{Device: "cpu"})
		var loadErr *LoadError
		assert.True(t, errors.As(err, &loadErr))
	})
	t.Run("directory", func(t *testing.T) {
		_, err := NewClassifier(iface.EngineConfig{Checkpoint: t.TempDir(), Device: "cpu"})
		var loadErr *LoadError
		assert.True(t, errors.As(err, &loadErr))
	})
	t.Run("unknown device", func(t *testing.T) {
		_, err := NewClassifier(iface.EngineConfig{Checkpoint: checkpoint, Device: "tpu"})
		var loadErr *LoadError
		require.True(t, errors.As(err, &loadErr))
		assert.Equal(t, checkpoint, loadErr.Checkpoint)
	})
}

const testClasses = 5

// The tests below need the onnxruntime shared library; the model is built
// on the fly.
func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	if os.Getenv(RuntimeLibEnv) == "" {
		t.Skip("ONNXRUNTIME_LIB must be set")
	}
	checkpoint, err := enginetest.WriteClassifier(t.TempDir(), testClasses)
	require.NoError(t, err)
	c, err := NewClassifier(iface.EngineConfig{Checkpoint: checkpoint, Device: "cpu"})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func sampleImage(h, w int) iface.ImageData {
	data := make([]byte, h*w*3)
	for i := range data {
		data[i] = byte((i * 31) % 256)
	}
	return iface.ImageData{Data: data, Width: w, Height: h, Channels: 3}
}

func TestClassifier_All(t *testing.T) {
	c := testClassifier(t)

	t.Run("Test CheckConfig", func(t *testing.T) {
		info := c.CheckConfig()
		assert.Equal(t, "cpu", info.Device)
		assert.Equal(t, testClasses, info.NumClasses)
		assert.Equal(t, enginetest.InputName, info.InputName)
		assert.Equal(t, enginetest.OutputName, info.OutputName)
		assert.Equal(t, [2]int{DefaultInputResolution, DefaultInputResolution}, info.InputSize)
	})

	t.Run("Test Predict", func(t *testing.T) {
		for _, size := range [][2]int{{1, 1}, {224, 224}, {480, 640}, {17, 3}} {
			scores, err := c.Predict(sampleImage(size[0], size[1]))
			require.NoError(t, err, "size %v", size)
			require.Len(t, scores, 1)
			assert.Len(t, scores[0], c.NumClasses())
		}
	})

	t.Run("Test Predict does not mutate input", func(t *testing.T) {
		img := sampleImage(120, 90)
		before := bytes.Clone(img.Data)
		_, err := c.Predict(img)
		require.NoError(t, err)
		assert.Equal(t, before, img.Data)
	})

	t.Run("Test Predict is deterministic", func(t *testing.T) {
		img := sampleImage(64, 64)
		first, err := c.Predict(img)
		require.NoError(t, err)
		second, err := c.Predict(img)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("Test Predict scores", func(t *testing.T) {
		img := iface.ImageData{Width: 7, Height: 5, Channels: 3, Data: make([]byte, 7*5*3)}
		px := [3]byte{200, 30, 90}
		for i := 0; i < len(img.Data); i += 3 {
			copy(img.Data[i:i+3], px[:])
		}
		var means [3]float32
		for k := range means {
			means[k] = float32((float64(px[k])/255 - channelMean[k]) / channelStd[k])
		}
		scores, err := c.Predict(img)
		require.NoError(t, err)
		want := enginetest.Logits(means, testClasses)
		for i := range want {
			assert.InDelta(t, want[i], scores[0][i], 1e-4, "class %d", i)
		}
	})

	t.Run("Test Classify", func(t *testing.T) {
		img := sampleImage(32, 48)
		classes, err := c.Classify(img)
		require.NoError(t, err)
		assert.Len(t, classes, testClasses)
		scores, err := c.Predict(img)
		require.NoError(t, err)
		assert.Equal(t, Rank(scores[0]), classes)
		for i := 1; i < len(classes); i++ {
			assert.GreaterOrEqual(t, scores[0][classes[i-1]], scores[0][classes[i]])
		}
	})

	t.Run("Test Forward batch", func(t *testing.T) {
		batch := Tensor{Shape: []int64{2, 3, 4, 4}, Data: make([]float32, 2*3*4*4)}
		out, err := c.Forward(batch)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, testClasses}, out.Shape)
		assert.Len(t, out.Rows(), 2)
	})

	t.Run("Test invalid image", func(t *testing.T) {
		_, err := c.Predict(iface.ImageData{Data: []byte{1, 2}, Width: 1, Height: 1, Channels: 2})
		var inferErr *InferenceError
		require.True(t, errors.As(err, &inferErr))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})
}

func TestRank(t *testing.T) {
	assert.Equal(t, []int{1, 2, 0}, Rank([]float32{0.1, 0.9, 0.3}))
	assert.Equal(t, []int{1, 0, 2, 3}, Rank([]float32{0.5, 0.7, 0.5, 0.1}))
	assert.Empty(t, Rank(nil))
}

func TestParseDevice(t *testing.T) {
	cases := []struct {
		in   string
		want Device
		ok   bool
	}{
		{"cpu", Device{Kind: CPU}, true},
		{" CPU ", Device{Kind: CPU}, true},
		{"cuda", Device{Kind: CUDA}, true},
		{"cuda:1", Device{Kind: CUDA, ID: 1}, true},
		{"gpu:0", Device{Kind: CUDA}, true},
		{"dml:2", Device{Kind: DML, ID: 2}, true},
		{"cpu:0", Device{}, false},
		{"cuda:-1", Device{}, false},
		{"cuda:x", Device{}, false},
		{"tpu", Device{}, false},
	}
	for _, tc := range cases {
		got, err := ParseDevice(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	assert.Equal(t, "cuda:1", Device{Kind: CUDA, ID: 1}.String())
	assert.Equal(t, "cpu", Device{}.String())
}

func TestTensorRows(t *testing.T) {
	rows := Tensor{Shape: []int64{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}.Rows()
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, rows)
	assert.Nil(t, Tensor{}.Rows())
}
