package engine

import (
	"encoding/base64"
	"fmt"
	"strings"

	iface "OnnxClsServer/interface"

	"gocv.io/x/gocv"
)

// DecodeImage decodes an encoded image (JPEG, PNG, ...) into a 3-channel BGR buffer.
func DecodeImage(buf []byte) (iface.ImageData, error) {
	if len(buf) == 0 {
		return iface.ImageData{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	mat, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		return iface.ImageData{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()
	if mat.Empty() {
		// IMDecode hands back an empty Mat on unsupported input
		return iface.ImageData{}, fmt.Errorf("%w: decoded image is empty or unsupported format", ErrDecode)
	}
	return MatToImage(mat), nil
}

// DecodeBase64Image accepts plain base64 or a data URL.
func DecodeBase64Image(b64 string) (iface.ImageData, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return iface.ImageData{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return DecodeImage(data)
}

// MatToImage copies the pixels of an 8-bit Mat out of OpenCV memory.
func MatToImage(m gocv.Mat) iface.ImageData {
	return iface.ImageData{
		Data:     m.ToBytes(),
		Width:    m.Cols(),
		Height:   m.Rows(),
		Channels: m.Channels(),
	}
}
