// Package enginetest builds small ONNX classifiers for tests that need a
// real onnxruntime session.
package enginetest

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	InputName  = "input"
	OutputName = "logits"
	channels   = 3
)

// Weights returns the fully connected layer of the model: w is (3, classes)
// and b is (classes).
func Weights(classes int) (w [][]float32, b []float32) {
	w = make([][]float32, channels)
	for k := range w {
		w[k] = make([]float32, classes)
		for c := range w[k] {
			w[k][c] = float32((c+1)*(k+2)%7) / 7
		}
	}
	b = make([]float32, classes)
	for c := range b {
		b[c] = float32(c) / 100
	}
	return w, b
}

// Logits is what the model computes for per-channel means of the
// normalized input.
func Logits(means [channels]float32, classes int) []float32 {
	w, b := Weights(classes)
	out := make([]float32, classes)
	for c := range out {
		v := b[c]
		for k := 0; k < channels; k++ {
			v += means[k] * w[k][c]
		}
		out[c] = v
	}
	return out
}

// Classifier encodes GlobalAveragePool -> Flatten -> Gemm at opset 9. The
// input is (N, 3, H, W) with symbolic N, H and W; the output is (N, classes).
func Classifier(classes int) []byte {
	w, b := Weights(classes)
	flatW := make([]float32, 0, channels*classes)
	for _, row := range w {
		flatW = append(flatW, row...)
	}

	var graph []byte
	graph = appendBytes(graph, 1, node("GlobalAveragePool", []string{InputName}, "pooled"))
	graph = appendBytes(graph, 1, node("Flatten", []string{"pooled"}, "flat"))
	graph = appendBytes(graph, 1, node("Gemm", []string{"flat", "fc.weight", "fc.bias"}, OutputName))
	graph = appendString(graph, 2, "classifier")
	graph = appendBytes(graph, 5, floatTensor("fc.weight", []int64{channels, int64(classes)}, flatW))
	graph = appendBytes(graph, 5, floatTensor("fc.bias", []int64{int64(classes)}, b))
	graph = appendBytes(graph, 11, valueInfo(InputName, "N", channels, "H", "W"))
	graph = appendBytes(graph, 12, valueInfo(OutputName, "N", classes))

	var opset []byte
	opset = appendString(opset, 1, "")
	opset = appendVarint(opset, 2, 9)

	var model []byte
	model = appendVarint(model, 1, 4) // ir_version
	model = appendString(model, 2, "enginetest")
	model = appendBytes(model, 7, graph)
	model = appendBytes(model, 8, opset)
	return model
}

// WriteClassifier writes Classifier(classes) to dir and returns its path.
func WriteClassifier(dir string, classes int) (string, error) {
	path := filepath.Join(dir, "classifier.onnx")
	if err := os.WriteFile(path, Classifier(classes), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func node(op string, inputs []string, output string) []byte {
	var b []byte
	for _, in := range inputs {
		b = appendString(b, 1, in)
	}
	b = appendString(b, 2, output)
	b = appendString(b, 3, op+"_"+output)
	return appendString(b, 4, op)
}

func floatTensor(name string, dims []int64, data []float32) []byte {
	var b []byte
	for _, d := range dims {
		b = appendVarint(b, 1, uint64(d))
	}
	b = appendVarint(b, 2, 1) // FLOAT
	b = appendString(b, 8, name)
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return appendBytes(b, 9, raw)
}

// valueInfo takes int dims as fixed sizes and string dims as symbolic.
func valueInfo(name string, dims ...any) []byte {
	var shape []byte
	for _, d := range dims {
		var db []byte
		switch v := d.(type) {
		case int:
			db = appendVarint(nil, 1, uint64(v))
		case string:
			db = appendString(nil, 2, v)
		}
		shape = appendBytes(shape, 1, db)
	}
	tensor := appendVarint(nil, 1, 1)
	tensor = appendBytes(tensor, 2, shape)
	b := appendString(nil, 1, name)
	return appendBytes(b, 2, appendBytes(nil, 1, tensor))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
