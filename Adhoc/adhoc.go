package Adhoc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"OnnxClsServer/engine"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DmlInstance    = 0x2001
	CpuInstance    = 0x2002
	CudaInstance   = 0x2003
	TimeOutSeconds = 5
)

type RegisterRequest struct {
	Id             string `json:"id"`
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	GRPCPort       int    `json:"grpcPort"`
	InstanceClass  int    `json:"instanceClass"`
	Component      string `json:"component"`
	ServiceVersion string `json:"serviceVersion"`
	TimeStamp      int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// InstanceClass maps an execution device onto the registry's instance class.
func InstanceClass(d engine.Device) int {
	switch d.Kind {
	case engine.CUDA:
		return CudaInstance
	case engine.DML:
		return DmlInstance
	default:
		return CpuInstance
	}
}

// GetOutboundIP returns the local address used for outbound traffic. The UDP
// dial sends nothing; it only resolves a route.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Registrar announces this instance to a discovery server at a fixed interval.
type Registrar struct {
	URL      string
	Interval time.Duration
	Request  RegisterRequest

	client *resty.Client
	log    *zap.Logger
}

func NewRegistrar(host string, port int, interval time.Duration, req RegisterRequest, log *zap.Logger) *Registrar {
	if req.Id == "" {
		req.Id = uuid.NewString()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	return &Registrar{
		URL:      fmt.Sprintf("http://%s:%d/api/register", host, port),
		Interval: interval,
		Request:  req,
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
		log:      log,
	}
}

// Register sends one heartbeat.
func (r *Registrar) Register(ctx context.Context) (*RegisterResponse, error) {
	body := r.Request
	body.TimeStamp = time.Now().Unix()
	var respBody RegisterResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&respBody).
		Post(r.URL)
	if err != nil {
		return nil, fmt.Errorf("register request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry returned %s: %s", resp.Status(), resp.String())
	}
	return &respBody, nil
}

// SendAliveMessage registers immediately and then on every tick until ctx
// is cancelled. Failures are logged, never fatal.
func (r *Registrar) SendAliveMessage(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	beat := func() {
		if _, err := r.Register(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("registration heartbeat failed", zap.String("url", r.URL), zap.Error(err))
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			beat()
		}
	}
}
