package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"PROMETHEUS_PORT", "SERVICE_VERSION", "COMPONENT_NAME"} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "config.yml", `
classification_model:
  checkpoint: weights/classifier.pt
  device: cuda:0
prometheus_port: 9100
log:
  mode: development
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "weights/classifier.pt", cfg.ClassificationModel.Checkpoint)
	assert.Equal(t, "cuda:0", cfg.ClassificationModel.Device)
	assert.Equal(t, 9100, cfg.PrometheusPort)
	assert.Equal(t, DefaultServiceVersion, cfg.ServiceVersion)
	assert.Equal(t, DefaultComponentName, cfg.ComponentName)
	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, DefaultGRPCPort, cfg.GRPCPort)
	assert.Equal(t, "development", cfg.Log.Mode)
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "config.yml", `
classification_model:
  device: cpu
`)
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classification_model.checkpoint")
	assert.Contains(t, err.Error(), "prometheus_port")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROMETHEUS_PORT", "9200")
	t.Setenv("SERVICE_VERSION", "1.2.3")
	t.Setenv("COMPONENT_NAME", "Classifier")
	p := writeFile(t, "config.yml", `
classification_model:
  checkpoint: weights/classifier.pt
  device: cpu
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.PrometheusPort)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "Classifier", cfg.ComponentName)

	t.Setenv("PROMETHEUS_PORT", "many")
	_, err = Load(p)
	assert.Error(t, err)
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "config.yml", "classification_model: [oops"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), ".env")))

	p := writeFile(t, ".env", "ONNXCLS_TEST_SETTING=from-dotenv\n")
	t.Setenv("ONNXCLS_TEST_SETTING", "")
	os.Unsetenv("ONNXCLS_TEST_SETTING")
	require.NoError(t, LoadEnv(p))
	assert.Equal(t, "from-dotenv", os.Getenv("ONNXCLS_TEST_SETTING"))
}

func TestPath(t *testing.T) {
	t.Setenv("BASE_CONFIG_PATH", "")
	assert.Equal(t, DefaultConfigPath, Path())
	t.Setenv("BASE_CONFIG_PATH", "/etc/onnxcls.yml")
	assert.Equal(t, "/etc/onnxcls.yml", Path())
}
