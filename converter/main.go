package main

import (
	"errors"
	"os"

	"OnnxClsServer/engine"
	"OnnxClsServer/export"
	"OnnxClsServer/logger"

	"go.uber.org/zap"
)

const (
	defaultCheckpoint = "weights/classifier.pt"
	device            = "cpu"
)

func main() {
	log, err := logger.InitDevelopment("converter")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	checkpoint := defaultCheckpoint
	if len(os.Args) > 1 {
		checkpoint = os.Args[1]
	}

	if err := engine.InitRuntime(""); err != nil {
		log.Fatal("onnxruntime init failed", zap.Error(err))
	}
	conv, err := export.NewConverter(checkpoint, device, log)
	if err != nil {
		log.Fatal("load model failed", zap.String("checkpoint", checkpoint), zap.Error(err))
	}
	defer conv.Close()

	dummy := export.RandomInput(1, 3, engine.DefaultInputResolution, engine.DefaultInputResolution)
	out, err := conv.Export(dummy, []string{"input"}, []string{"output"})
	if err != nil {
		var exportErr *export.ExportError
		stage := "unknown"
		if errors.As(err, &exportErr) {
			stage = exportErr.Stage
		}
		log.Error("export failed", zap.String("stage", stage), zap.Error(err))
		conv.Close()
		log.Sync()
		os.Exit(1)
	}
	log.Info("done", zap.String("model", out))
}
