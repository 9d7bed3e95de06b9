package export

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"

	"OnnxClsServer/engine"
	iface "OnnxClsServer/interface"

	"go.uber.org/zap"
)

// Tracer runs one forward pass on a preprocessed batch.
type Tracer interface {
	Forward(batch engine.Tensor) (engine.Tensor, error)
}

// Converter exports a loaded checkpoint as a static opset 9 graph written
// next to the checkpoint.
type Converter struct {
	checkpoint string
	model      Tracer
	closer     func()
	log        *zap.Logger
}

// NewConverter loads checkpoint onto device with the same contract as
// engine.NewClassifier; failures are *engine.LoadError.
func NewConverter(checkpoint, device string, log *zap.Logger) (*Converter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cls, err := engine.NewClassifier(iface.EngineConfig{Checkpoint: checkpoint, Device: device}, engine.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &Converter{checkpoint: checkpoint, model: cls, closer: cls.Close, log: log}, nil
}

// NewConverterWithTracer skips model loading; the checkpoint is only read
// as a serialized graph.
func NewConverterWithTracer(checkpoint string, model Tracer, log *zap.Logger) *Converter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Converter{checkpoint: checkpoint, model: model, closer: func() {}, log: log}
}

func (c *Converter) Close() {
	c.closer()
}

// OutputPath is where Export writes the converted graph.
func (c *Converter) OutputPath() string {
	return filepath.Join(filepath.Dir(c.checkpoint), OutputFileName)
}

// Export traces the model with dummy, pins the graph to TargetOpset with
// static shapes and the given input and output names, and writes it to
// OutputPath. Failures are *ExportError and nothing is retried.
func (c *Converter) Export(dummy engine.Tensor, inputNames, outputNames []string) (string, error) {
	if err := validateExport(dummy, inputNames, outputNames); err != nil {
		return "", exportErr("validate", err)
	}

	traced, err := c.model.Forward(dummy)
	if err != nil {
		return "", exportErr("trace", err)
	}
	c.log.Debug("trace pass done",
		zap.Int64s("input_shape", dummy.Shape),
		zap.Int64s("output_shape", traced.Shape))

	raw, err := os.ReadFile(c.checkpoint)
	if err != nil {
		return "", exportErr("read", err)
	}
	graph, sum, err := rewriteModel(raw, rewrite{
		inputNames:  inputNames,
		outputNames: outputNames,
		inputDims:   dummy.Shape,
		outputDims:  traced.Shape,
	})
	if err != nil {
		return "", exportErr("convert", err)
	}

	out := c.OutputPath()
	if err := writeFileAtomic(out, graph); err != nil {
		return "", exportErr("write", err)
	}
	c.logSummary(out, sum)
	return out, nil
}

func validateExport(dummy engine.Tensor, inputNames, outputNames []string) error {
	if len(dummy.Shape) != 4 {
		return fmt.Errorf("dummy input has rank %d, expected (N, 3, H, W)", len(dummy.Shape))
	}
	n := int64(1)
	for _, d := range dummy.Shape {
		if d < 1 {
			return fmt.Errorf("dummy input shape %v is not static", dummy.Shape)
		}
		n *= d
	}
	if n != int64(len(dummy.Data)) {
		return fmt.Errorf("dummy input shape %v does not match %d values", dummy.Shape, len(dummy.Data))
	}
	if len(inputNames) != 1 {
		return fmt.Errorf("expected one input name, got %d", len(inputNames))
	}
	if len(outputNames) == 0 {
		return errors.New("no output names given")
	}
	names := append(slices.Clone(inputNames), outputNames...)
	for i, name := range names {
		if name == "" {
			return errors.New("empty input or output name")
		}
		if slices.Contains(names[:i], name) {
			return fmt.Errorf("name %q given twice", name)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*.onnx")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *Converter) logSummary(out string, sum Summary) {
	ops := make([]string, 0, len(sum.Ops))
	for op := range sum.Ops {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	fields := []zap.Field{
		zap.String("output", out),
		zap.Int64("source_opset", sum.SourceOpset),
		zap.Int("target_opset", TargetOpset),
		zap.Strings("inputs", sum.Inputs),
		zap.Strings("outputs", sum.Outputs),
		zap.Int("nodes", sum.Nodes),
	}
	c.log.Info("Model exported", fields...)
	for _, op := range ops {
		c.log.Info("graph op", zap.String("op_type", op), zap.Int("count", sum.Ops[op]))
	}
}

// RandomInput returns a batch of the given shape filled with uniform values
// in [0, 1).
func RandomInput(shape ...int64) engine.Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = rand.Float32()
	}
	return engine.Tensor{Shape: slices.Clone(shape), Data: data}
}
