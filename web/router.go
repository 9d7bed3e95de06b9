package web

import (
	"errors"
	"io"
	"net/http"
	"time"

	"OnnxClsServer/engine"
	iface "OnnxClsServer/interface"
	"OnnxClsServer/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	MaxUploadSize   = 32 << 20
	wsReadLimit     = 20 * 1024 * 1024
	requestIDHeader = "X-Request-ID"
)

// Recorder counts finished requests per transport.
type Recorder interface {
	ObserveRequest(transport, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, string) {}

type handler struct {
	classifier iface.Classifier
	log        *zap.Logger
	recorder   Recorder
	upgrader   websocket.Upgrader
}

// NewRouter wires the classifier into a gin engine. cls is shared by every
// request; it is constructed once by the caller.
func NewRouter(cls iface.Classifier, log *zap.Logger, rec Recorder) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	h := &handler{
		classifier: cls,
		log:        log,
		recorder:   rec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	r := gin.New()
	r.MaxMultipartMemory = MaxUploadSize
	r.Use(gin.Recovery(), h.requestLogger())

	health := r.Group("/health")
	health.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, iface.PingReply)
	})
	health.GET("/health_checker", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	classifier := r.Group("/classifier")
	classifier.POST("/predict", h.predict)
	classifier.GET("/stream", h.stream)
	classifier.GET("/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": h.classifier.CheckConfig()})
	})
	return r
}

func (h *handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Set("requestID", requestID)
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		outcome := "ok"
		if status >= http.StatusBadRequest {
			outcome = "error"
		}
		if c.FullPath() != "/classifier/stream" {
			h.recorder.ObserveRequest("http", outcome)
		}
		logger.WithOperation(h.log, c.Request.Method+" "+c.Request.URL.Path, requestID).Info("request served",
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
	}
}

func (h *handler) predict(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	classes, status, err := h.classify(data)
	if err != nil {
		h.log.Error("prediction failed",
			zap.String("request_id", c.GetString("requestID")),
			zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

// classify decodes and ranks; the status is the HTTP code for err.
func (h *handler) classify(data []byte) ([]int, int, error) {
	img, err := engine.DecodeImage(data)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return h.classifyImage(img)
}

func (h *handler) classifyImage(img iface.ImageData) ([]int, int, error) {
	classes, err := h.classifier.Classify(img)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidImage) {
			return nil, http.StatusBadRequest, err
		}
		return nil, http.StatusInternalServerError, err
	}
	return classes, http.StatusOK, nil
}

// stream classifies one image per websocket message: text frames carry
// base64 (optionally a data URL), binary frames carry the encoded bytes.
func (h *handler) stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)
	requestID := c.GetString("requestID")

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("stream closed", zap.String("request_id", requestID), zap.Error(err))
			}
			return
		}
		var (
			img    iface.ImageData
			decErr error
		)
		switch mt {
		case websocket.TextMessage:
			img, decErr = engine.DecodeBase64Image(string(msg))
		case websocket.BinaryMessage:
			img, decErr = engine.DecodeImage(msg)
		default:
			continue
		}
		var reply gin.H
		if decErr != nil {
			reply = gin.H{"error": "invalid image: " + decErr.Error()}
			h.recorder.ObserveRequest("ws", "error")
		} else if classes, _, err := h.classifyImage(img); err != nil {
			reply = gin.H{"error": "inference error: " + err.Error()}
			h.recorder.ObserveRequest("ws", "error")
		} else {
			reply = gin.H{"classes": classes}
			h.recorder.ObserveRequest("ws", "ok")
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}
