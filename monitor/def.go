package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const sampleInterval = 500 * time.Millisecond

// Metrics is the service's prometheus registry. It also implements
// engine.Observer so the classifier can report every forward pass.
type Metrics struct {
	registry       *prometheus.Registry
	memUsage       prometheus.Gauge
	cpuUsage       prometheus.Gauge
	requestsTotal  *prometheus.CounterVec
	predictTotal   *prometheus.CounterVec
	predictLatency prometheus.Histogram
	proc           *process.Process
}

func New(component, version string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	m.cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "Total number of requests processed, by transport and outcome",
	}, []string{"transport", "outcome"})
	m.predictTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_total",
		Help: "Total number of forward passes, by result",
	}, []string{"result"})
	m.predictLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_duration_seconds",
		Help:    "Latency of preprocessing plus forward pass",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "service_build_info",
		Help: "Service identity; always 1",
	}, []string{"component_name", "service_version"})
	buildInfo.WithLabelValues(component, version).Set(1)

	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.requestsTotal, m.predictTotal, m.predictLatency, buildInfo)
	return m
}

func (m *Metrics) ObservePredict(elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.predictTotal.WithLabelValues(result).Inc()
	m.predictLatency.Observe(elapsed.Seconds())
}

// ObserveRequest counts one request on a transport ("http", "ws", "grpc").
func (m *Metrics) ObserveRequest(transport, outcome string) {
	m.requestsTotal.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CheckProcessInfo samples memory and CPU usage of the current process.
func (m *Metrics) CheckProcessInfo() error {
	if m.proc == nil {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return err
		}
		m.proc = proc
	}
	memInfo, err := m.proc.MemoryInfo()
	if err != nil {
		return err
	}
	cpuPercent, err := m.proc.CPUPercent()
	if err != nil {
		return err
	}
	m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	return nil
}

// StartMon serves /metrics on port and samples the process until ctx is done.
func (m *Metrics) StartMon(ctx context.Context, port int, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
	log.Info("Prometheus metrics listening", zap.Int("port", port))

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if err := m.CheckProcessInfo(); err != nil {
				log.Debug("process sampling failed", zap.Error(err))
			}
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Prometheus server Shutdown error", zap.Error(err))
	}
}
