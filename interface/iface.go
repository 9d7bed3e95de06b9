package iface

// Classifier is the inference entrypoint consumed by the transport layers.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Predict(img ImageData) ([][]float32, error)
	Classify(img ImageData) ([]int, error)
	CheckConfig() EngineInfo
}
