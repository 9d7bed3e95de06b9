package export

import "fmt"

const (
	TargetOpset    = 9
	OutputFileName = "model.onnx"
	ProducerName   = "OnnxClsServer-converter"
)

// ExportError reports a conversion failure and the stage it happened in:
// "validate", "trace", "read", "convert" or "write".
type ExportError struct {
	Stage string
	Err   error
}

func (e *ExportError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("export %s: %v", e.Stage, e.Err)
}

func (e *ExportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func exportErr(stage string, err error) error {
	return &ExportError{Stage: stage, Err: err}
}
