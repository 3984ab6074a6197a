package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/mkl/config"
	"github.com/wyfcoding/mkl/logging"
)

const minimalTOML = `
[log]
level = "error"

[mkl]
epsilon = 0.02

[[dataset.kernels]]
name = "rbf"
type = "gaussian"
`

func TestInitializeLoadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mkl.toml")
	require.NoError(t, os.WriteFile(path, []byte(minimalTOML), 0o600))

	b := New("mkltrain", "v0.1.0")
	require.NoError(t, b.Initialize([]string{"--config", path}))

	require.NotNil(t, b.Config)
	require.NotNil(t, b.Logger)
	assert.InDelta(t, 0.02, b.Config.MKL.Epsilon, 1e-12)
	assert.Equal(t, "dev", b.Config.Version)
	require.Len(t, b.Config.Dataset.Kernels, 1)
}

func TestInitializeErrors(t *testing.T) {
	b := New("mkltrain", "v0.1.0")
	assert.Error(t, b.Initialize([]string{"--no-such-flag"}))
	assert.Error(t, b.Initialize([]string{"-c", filepath.Join(t.TempDir(), "absent.toml")}))
	assert.Nil(t, b.Config)
}

func TestShutdownRunsHooksInReverse(t *testing.T) {
	b := New("mkltrain", "v0.1.0")
	var order []string
	first := errors.New("first")
	b.Append(Hook{Name: "a", OnStop: func(context.Context) error {
		order = append(order, "a")
		return errors.New("second")
	}})
	b.Append(Hook{Name: "nil"})
	b.Append(Hook{Name: "b", OnStop: func(context.Context) error {
		order = append(order, "b")
		return first
	}})

	err := b.Shutdown(context.Background())
	assert.Same(t, first, err)
	assert.Equal(t, []string{"b", "a"}, order)

	require.NoError(t, b.Shutdown(context.Background()))
	assert.Len(t, order, 2)
}

func TestSetupMetricsAndTracingDisabled(t *testing.T) {
	b := New("mkltrain", "v0.1.0")
	m := b.SetupMetrics(config.MetricsConfig{})
	require.NotNil(t, m)
	assert.Same(t, m, b.Metrics)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BuildInfo.WithLabelValues("mkltrain", "v0.1.0")), 1e-12)

	b.SetupTracing(config.TracingConfig{})
	require.Len(t, b.hooks, 1)
	assert.Equal(t, "tracer", b.hooks[0].Name)
	assert.NoError(t, b.Shutdown(context.Background()))
}

func TestLogReloadReportsTrainingSettings(t *testing.T) {
	var buf bytes.Buffer
	b := New("mkltrain", "v0.1.0")
	b.Logger = &logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	cfg := &config.Config{}
	cfg.Log.Level = "debug"
	cfg.MKL.Norm = 2
	cfg.MKL.Epsilon = 0.05
	b.logReload(cfg)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["log_level"])
	mklSection, ok := line["mkl"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 2, mklSection["Norm"], 1e-12)
	assert.InDelta(t, 0.05, mklSection["Epsilon"], 1e-12)
}
