package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "OnnxClsServer/Adhoc"
	"OnnxClsServer/config"
	"OnnxClsServer/engine"
	backend "OnnxClsServer/gRPC"
	iface "OnnxClsServer/interface"
	"OnnxClsServer/logger"
	"OnnxClsServer/monitor"
	"OnnxClsServer/web"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Println("Failed to read .env:", err)
		os.Exit(1)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log, cfg.ComponentName)
	if err != nil {
		fmt.Println("Failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" HTTP Port:", cfg.HTTPPort)
	fmt.Println(" gRPC Port:", cfg.GRPCPort)
	fmt.Println(" Metrics Port:", cfg.PrometheusPort)
	fmt.Println(" Checkpoint:", cfg.ClassificationModel.Checkpoint, "on", cfg.ClassificationModel.Device)
	fmt.Println(strings.Repeat("#", 64))

	metrics := monitor.New(cfg.ComponentName, cfg.ServiceVersion)
	if err := engine.InitRuntime(cfg.RuntimeLibrary); err != nil {
		log.Fatal("onnxruntime init failed", zap.Error(err))
	}
	classifier, err := engine.NewClassifier(iface.EngineConfig{
		Checkpoint:     cfg.ClassificationModel.Checkpoint,
		Device:         cfg.ClassificationModel.Device,
		InputSize:      cfg.ClassificationModel.InputSize,
		IntraOpThreads: cfg.ClassificationModel.IntraOpThreads,
	}, engine.WithLogger(log), engine.WithObserver(metrics))
	if err != nil {
		var loadErr *engine.LoadError
		if errors.As(err, &loadErr) {
			log.Fatal("model load failed", zap.String("checkpoint", loadErr.Checkpoint), zap.String("device", loadErr.Device), zap.Error(loadErr.Err))
		}
		log.Fatal("model load failed", zap.Error(err))
	}
	defer classifier.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		metrics.StartMon(ctx, cfg.PrometheusPort, log)
	}()

	if cfg.Registry.Enabled {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			log.Fatal("Failed to get outbound IP", zap.Error(err))
		}
		reg := adhoc.NewRegistrar(cfg.Registry.Host, cfg.Registry.Port,
			time.Duration(cfg.Registry.IntervalSeconds)*time.Second,
			adhoc.RegisterRequest{
				IP:             ip,
				Port:           cfg.HTTPPort,
				GRPCPort:       cfg.GRPCPort,
				InstanceClass:  adhoc.InstanceClass(deviceOf(cfg.ClassificationModel.Device)),
				Component:      cfg.ComponentName,
				ServiceVersion: cfg.ServiceVersion,
			}, log)
		wg.Add(1)
		go reg.SendAliveMessage(ctx, &wg)
	} else {
		log.Info("registry disabled, skipping registration")
	}

	grpcServer, err := backend.StartGRPCServer(cfg.GRPCPort, backend.NewServer(classifier, log, metrics))
	if err != nil {
		log.Fatal("gRPC server failed", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           web.NewRouter(classifier, log, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("HTTP server listening", zap.Int("port", cfg.HTTPPort))
	if err := web.Serve(ctx, httpServer, nil, shutdownTimeout, log); err != nil {
		log.Error("HTTP server stopped", zap.Error(err))
	}
	stop()
	grpcServer.GracefulStop()
	wg.Wait()
	log.Info("Safely exited")
}

// deviceOf only sees strings NewClassifier already accepted.
func deviceOf(s string) engine.Device {
	d, err := engine.ParseDevice(s)
	if err != nil {
		return engine.Device{Kind: engine.CPU}
	}
	return d
}
