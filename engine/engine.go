package engine

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	iface "OnnxClsServer/interface"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Observer receives the outcome of every Predict call.
type Observer interface {
	ObservePredict(elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObservePredict(time.Duration, error) {}

type Option func(*Classifier)

func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Classifier) {
		if o != nil {
			c.observer = o
		}
	}
}

// Classifier owns one onnxruntime session bound to a fixed checkpoint and
// device. Predict is safe for concurrent use: every call runs on its own
// tensors and the session itself is never mutated after construction.
type Classifier struct {
	checkpoint string
	device     Device
	size       TargetSize
	inputName  string
	outputName string
	outputDims []int64
	numClasses int
	session    *ort.DynamicAdvancedSession
	log        *zap.Logger
	observer   Observer
}

// NewClassifier loads cfg.Checkpoint onto cfg.Device. Every failure is
// returned as a *LoadError.
func NewClassifier(cfg iface.EngineConfig, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		checkpoint: cfg.Checkpoint,
		log:        zap.NewNop(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	fail := func(err error) (*Classifier, error) {
		return nil, &LoadError{Checkpoint: cfg.Checkpoint, Device: cfg.Device, Err: err}
	}

	if cfg.Checkpoint == "" {
		return fail(errors.New("checkpoint path is empty"))
	}
	info, err := os.Stat(cfg.Checkpoint)
	if err != nil {
		return fail(err)
	}
	if info.IsDir() {
		return fail(fmt.Errorf("%s is a directory", cfg.Checkpoint))
	}
	c.device, err = ParseDevice(cfg.Device)
	if err != nil {
		return fail(err)
	}
	if err := InitRuntime(""); err != nil {
		return fail(err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.Checkpoint)
	if err != nil {
		return fail(fmt.Errorf("read model signature: %w", err))
	}
	if err := c.bindIO(inputs, outputs, cfg.InputSize); err != nil {
		return fail(err)
	}

	options, release, err := c.sessionOptions(cfg.IntraOpThreads)
	if err != nil {
		return fail(err)
	}
	defer release()
	session, err := ort.NewDynamicAdvancedSession(cfg.Checkpoint,
		[]string{c.inputName}, []string{c.outputName}, options)
	if err != nil {
		return fail(fmt.Errorf("create session: %w", err))
	}
	c.session = session

	c.log.Info("Classification model loaded",
		zap.String("checkpoint", c.checkpoint),
		zap.Stringer("device", c.device),
		zap.String("input", c.inputName),
		zap.String("output", c.outputName),
		zap.Int("height", c.size.Height),
		zap.Int("width", c.size.Width),
		zap.Int("classes", c.numClasses))
	return c, nil
}

func (c *Classifier) bindIO(inputs, outputs []ort.InputOutputInfo, inputSize int) error {
	if len(inputs) != 1 {
		return fmt.Errorf("expected exactly one model input, found %d", len(inputs))
	}
	in := inputs[0]
	if in.OrtValueType != ort.ONNXTypeTensor || in.DataType != ort.TensorElementDataTypeFloat {
		return fmt.Errorf("input %q must be a float32 tensor", in.Name)
	}
	dims := in.Dimensions
	if len(dims) != 4 {
		return fmt.Errorf("input %q has rank %d, expected (N, 3, H, W)", in.Name, len(dims))
	}
	if dims[1] > 0 && dims[1] != 3 {
		return fmt.Errorf("input %q expects %d channels, expected 3", in.Name, dims[1])
	}
	c.inputName = in.Name

	c.size = DefaultTargetSize
	if inputSize > 0 {
		c.size = TargetSize{Height: inputSize, Width: inputSize}
	}
	if dims[2] > 0 && dims[3] > 0 {
		static := TargetSize{Height: int(dims[2]), Width: int(dims[3])}
		if inputSize > 0 && static != c.size {
			return fmt.Errorf("configured input size %d does not match model input %dx%d", inputSize, static.Height, static.Width)
		}
		c.size = static
	}

	if len(outputs) == 0 {
		return errors.New("model declares no outputs")
	}
	out := outputs[0]
	if out.OrtValueType != ort.ONNXTypeTensor || out.DataType != ort.TensorElementDataTypeFloat {
		return fmt.Errorf("output %q must be a float32 tensor", out.Name)
	}
	if len(out.Dimensions) < 2 {
		return fmt.Errorf("output %q has rank %d, expected (N, classes)", out.Name, len(out.Dimensions))
	}
	c.numClasses = 1
	for _, d := range out.Dimensions[1:] {
		if d <= 0 {
			return fmt.Errorf("output %q has dynamic class dimension %v", out.Name, out.Dimensions)
		}
		c.numClasses *= int(d)
	}
	c.outputName = out.Name
	c.outputDims = append([]int64(nil), out.Dimensions...)
	return nil
}

func (c *Classifier) sessionOptions(intraOpThreads int) (*ort.SessionOptions, func(), error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, nil, fmt.Errorf("create session options: %w", err)
	}
	release := func() { _ = options.Destroy() }
	if intraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(intraOpThreads); err != nil {
			release()
			return nil, nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	switch c.device.Kind {
	case CUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("create CUDA provider options: %w", err)
		}
		release = func() {
			_ = cudaOptions.Destroy()
			_ = options.Destroy()
		}
		if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(c.device.ID)}); err != nil {
			release()
			return nil, nil, fmt.Errorf("configure CUDA device %d: %w", c.device.ID, err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			release()
			return nil, nil, fmt.Errorf("enable CUDA provider: %w", err)
		}
	case DML:
		if err := options.AppendExecutionProviderDirectML(c.device.ID); err != nil {
			release()
			return nil, nil, fmt.Errorf("enable DirectML provider: %w", err)
		}
	}
	return options, release, nil
}

// Forward runs one pass on an already preprocessed batch and returns the
// output copied into Go memory.
func (c *Classifier) Forward(batch Tensor) (Tensor, error) {
	if len(batch.Shape) == 0 || batch.elements() != int64(len(batch.Data)) {
		return Tensor{}, &InferenceError{Err: fmt.Errorf("tensor shape %v does not match %d values", batch.Shape, len(batch.Data))}
	}
	input, err := ort.NewTensor(ort.NewShape(batch.Shape...), batch.Data)
	if err != nil {
		return Tensor{}, &InferenceError{Err: fmt.Errorf("create input tensor: %w", err)}
	}
	defer input.Destroy()

	outShape := append([]int64{batch.Shape[0]}, c.outputDims[1:]...)
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		return Tensor{}, &InferenceError{Err: fmt.Errorf("create output tensor: %w", err)}
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return Tensor{}, &InferenceError{Err: err}
	}
	return Tensor{
		Shape: outShape,
		Data:  append([]float32(nil), output.GetData()...),
	}, nil
}

// Predict returns raw scores shaped (1, classes) for a single image.
func (c *Classifier) Predict(img iface.ImageData) ([][]float32, error) {
	start := time.Now()
	scores, err := c.predict(img)
	c.observer.ObservePredict(time.Since(start), err)
	return scores, err
}

func (c *Classifier) predict(img iface.ImageData) ([][]float32, error) {
	batch, err := Preprocess(img, c.size)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	out, err := c.Forward(batch)
	if err != nil {
		return nil, err
	}
	return out.Rows(), nil
}

// Classify returns class indices, most confident first.
func (c *Classifier) Classify(img iface.ImageData) ([]int, error) {
	scores, err := c.Predict(img)
	if err != nil {
		return nil, err
	}
	return Rank(scores[0]), nil
}

func (c *Classifier) InputSize() TargetSize {
	return c.size
}

func (c *Classifier) NumClasses() int {
	return c.numClasses
}

func (c *Classifier) CheckConfig() iface.EngineInfo {
	return iface.EngineInfo{
		Checkpoint: c.checkpoint,
		Device:     c.device.String(),
		InputName:  c.inputName,
		OutputName: c.outputName,
		InputSize:  [2]int{c.size.Height, c.size.Width},
		NumClasses: c.numClasses,
	}
}

// Close releases the session. Only process teardown and tests call it.
func (c *Classifier) Close() {
	if c.session != nil {
		_ = c.session.Destroy()
		c.session = nil
	}
}
