package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"OnnxClsServer/engine"
	iface "OnnxClsServer/interface"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type mockClassifier struct {
	scores []float32
	err    error

	mu   sync.Mutex
	seen []iface.ImageData
}

func (m *mockClassifier) Predict(img iface.ImageData) ([][]float32, error) {
	m.mu.Lock()
	m.seen = append(m.seen, img)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return [][]float32{m.scores}, nil
}

func (m *mockClassifier) Classify(img iface.ImageData) ([]int, error) {
	scores, err := m.Predict(img)
	if err != nil {
		return nil, err
	}
	return engine.Rank(scores[0]), nil
}

func (m *mockClassifier) CheckConfig() iface.EngineInfo {
	return iface.EngineInfo{Checkpoint: "mock", Device: "cpu", NumClasses: len(m.scores)}
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ObserveRequest(transport, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[transport+"/"+outcome]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func encodedImage(t *testing.T, rows, cols int) []byte {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), rows, cols, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(".jpg", mat)
	require.NoError(t, err)
	defer buf.Close()
	return bytes.Clone(buf.GetBytes())
}

func multipartBody(t *testing.T, field string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, "upload.jpg")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func newTestRouter(cls iface.Classifier, rec Recorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(cls, nil, rec)
}

func TestPredict(t *testing.T) {
	cls := &mockClassifier{scores: []float32{0.1, 0.9, 0.3}}
	rec := &countingRecorder{}
	router := newTestRouter(cls, rec)

	body, contentType := multipartBody(t, "image", encodedImage(t, 48, 64))
	req := httptest.NewRequest(http.MethodPost, "/classifier/predict", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var out struct {
		Classes []int `json:"classes"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, []int{1, 2, 0}, out.Classes)
	assert.NotEmpty(t, resp.Header().Get(requestIDHeader))
	assert.Equal(t, 1, rec.get("http/ok"))

	require.Len(t, cls.seen, 1)
	assert.Equal(t, 64, cls.seen[0].Width)
	assert.Equal(t, 48, cls.seen[0].Height)
	assert.Equal(t, 3, cls.seen[0].Channels)
}

func TestPredict_Errors(t *testing.T) {
	cases := []struct {
		name   string
		field  string
		data   []byte
		err    error
		status int
	}{
		{"missing field", "file", []byte("x"), nil, http.StatusBadRequest},
		{"undecodable", "image", []byte("not an image"), nil, http.StatusBadRequest},
		{"invalid image", "image", nil, fmt.Errorf("wrapped: %w", engine.ErrInvalidImage), http.StatusBadRequest},
		{"inference failure", "image", nil, &engine.InferenceError{Err: errors.New("device lost")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&mockClassifier{scores: []float32{1}, err: tc.err}, nil)
			data := tc.data
			if data == nil {
				data = encodedImage(t, 8, 8)
			}
			body, contentType := multipartBody(t, tc.field, data)
			req := httptest.NewRequest(http.MethodPost, "/classifier/predict", body)
			req.Header.Set("Content-Type", contentType)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tc.status, resp.Code)
			assert.Contains(t, resp.Body.String(), "error")
		})
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&mockClassifier{}, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ping", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, iface.PingReply, resp.Body.String())

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/health_checker", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, resp.Body.String())
}

func TestInfo(t *testing.T) {
	router := newTestRouter(&mockClassifier{scores: make([]float32, 10)}, nil)
	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/classifier/info", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "fixed-id", resp.Header().Get(requestIDHeader))

	var out struct {
		Data iface.EngineInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, 10, out.Data.NumClasses)
	assert.Equal(t, "mock", out.Data.Checkpoint)
}

func TestStream(t *testing.T) {
	rec := &countingRecorder{}
	srv := httptest.NewServer(newTestRouter(&mockClassifier{scores: []float32{0.2, 0.1, 0.7}}, rec))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/classifier/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	img := encodedImage(t, 16, 16)
	var reply map[string]any

	msg := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, []any{2.0, 0.0, 1.0}, reply["classes"])

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, img))
	reply = nil
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, []any{2.0, 0.0, 1.0}, reply["classes"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("%%%")))
	reply = nil
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Contains(t, reply["error"], "invalid image")

	assert.Equal(t, 2, rec.get("ws/ok"))
	assert.Equal(t, 1, rec.get("ws/error"))
}
