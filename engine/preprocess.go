package engine

import (
	"fmt"
	"image"
	"runtime"
	"unsafe"

	iface "OnnxClsServer/interface"

	"gocv.io/x/gocv"
)

type TargetSize struct {
	Height int
	Width  int
}

var DefaultTargetSize = TargetSize{Height: DefaultInputResolution, Width: DefaultInputResolution}

func validateImage(img iface.ImageData) error {
	if img.Channels != 3 {
		return fmt.Errorf("%w: expected 3 channels, got %d", ErrInvalidImage, img.Channels)
	}
	if img.Width < 1 || img.Height < 1 {
		return fmt.Errorf("%w: empty image %dx%d", ErrInvalidImage, img.Width, img.Height)
	}
	if want := img.Width * img.Height * img.Channels; len(img.Data) != want {
		return fmt.Errorf("%w: buffer holds %d bytes, %dx%dx%d needs %d", ErrInvalidImage, len(img.Data), img.Height, img.Width, img.Channels, want)
	}
	return nil
}

// Preprocess turns an HWC uint8 image into a normalized (1, 3, H, W) batch:
// scale to [0,1], bilinear resize, transpose to CHW, then subtract the
// per-channel mean and divide by the per-channel std. img is only read.
func Preprocess(img iface.ImageData, size TargetSize) (Tensor, error) {
	if err := validateImage(img); err != nil {
		return Tensor{}, err
	}
	if size.Height < 1 || size.Width < 1 {
		return Tensor{}, fmt.Errorf("invalid target size %dx%d", size.Height, size.Width)
	}

	scaled := make([]float32, len(img.Data))
	for i, p := range img.Data {
		scaled[i] = float32(p) / BaseScalingFactor
	}
	src, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV32FC3, float32Bytes(scaled))
	if err != nil {
		return Tensor{}, fmt.Errorf("wrap image: %w", err)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(size.Width, size.Height), 0, 0, gocv.InterpolationLinear)
	runtime.KeepAlive(scaled)
	if dst.Empty() {
		return Tensor{}, fmt.Errorf("resize to %dx%d produced an empty image", size.Height, size.Width)
	}
	resized, err := dst.DataPtrFloat32()
	if err != nil {
		return Tensor{}, fmt.Errorf("read resized image: %w", err)
	}

	plane := size.Height * size.Width
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			// two roundings to float32, as two in-place float32 array updates would do
			v := float32(float64(resized[i*3+c]) - channelMean[c])
			out[c*plane+i] = float32(float64(v) / channelStd[c])
		}
	}
	return Tensor{
		Shape: []int64{1, 3, int64(size.Height), int64(size.Width)},
		Data:  out,
	}, nil
}

func float32Bytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(f))), len(f)*4)
}
