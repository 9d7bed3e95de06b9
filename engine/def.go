package engine

import (
	"errors"
	"fmt"
)

const (
	BaseScalingFactor      = 255
	DefaultInputResolution = 224
)

var (
	channelMean = [3]float64{0.485, 0.456, 0.406}
	channelStd  = [3]float64{0.229, 0.224, 0.225}
)

var (
	ErrInvalidImage = errors.New("invalid image")
	ErrDecode       = errors.New("image decode failed")
)

// Tensor is a dense row-major float32 array.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Rows splits the tensor along its leading (batch) dimension.
func (t Tensor) Rows() [][]float32 {
	if len(t.Shape) == 0 || t.Shape[0] <= 0 {
		return nil
	}
	n := int(t.Shape[0])
	step := len(t.Data) / n
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = t.Data[i*step : (i+1)*step : (i+1)*step]
	}
	return rows
}

func (t Tensor) elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	total := int64(1)
	for _, d := range t.Shape {
		total *= d
	}
	return total
}

// LoadError reports a model that could not be brought up.
type LoadError struct {
	Checkpoint string
	Device     string
	Err        error
}

func (e *LoadError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("load model %q on device %q: %v", e.Checkpoint, e.Device, e.Err)
}

func (e *LoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InferenceError reports a failed forward pass or an unusable input.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
