package iface

// PingReply is the liveness answer of every transport.
const PingReply = "🏓 pong!"

// ImageData is a decoded HWC pixel buffer, 8 bits per channel.
// Channel order is whatever the decoder produced (BGR for gocv).
type ImageData struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

type EngineConfig struct {
	Checkpoint     string
	Device         string
	InputSize      int
	IntraOpThreads int
}

type EngineInfo struct {
	Checkpoint string `json:"checkpoint"`
	Device     string `json:"device"`
	InputName  string `json:"inputName"`
	OutputName string `json:"outputName"`
	InputSize  [2]int `json:"inputSize"`
	NumClasses int    `json:"numClasses"`
}
