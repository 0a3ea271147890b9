package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadUsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	require.Len(t, cfg.Mounts, 1)
	assert.Equal(t, "test", cfg.Mounts[0].Name)
	assert.True(t, cfg.Mounts[0].Shared)

	sc, err := cfg.Mounts[0].SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, camrelay.DefaultConfig(), sc)
}

func TestLoadParsesMounts(t *testing.T) {
	path := writeTempConfig(t, `
metrics:
  enabled: false
http:
  address: ":9000"
mounts:
  - name: front-door
    shared: true
    device:
      kind: v4l2
      path: /dev/video2
      width: 1280
      height: 720
      format: i420
    frame_rate: 30000/1001
    capacity: 4
    take_timeout: 500ms
    miss_threshold: 0
    drop_policy: drop-newest
    stop_timeout: 1s
    encoder:
      codec: vp8
      bitrate: 2000
  - name: clip
    device:
      kind: ivf
      path: clip.ivf
      loop: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9000", cfg.HTTP.Address)
	require.Len(t, cfg.Mounts, 2)

	door := cfg.Mounts[0]
	assert.Equal(t, "/dev/video2", door.Device.Path)
	assert.Equal(t, camrelay.I420, door.PixelFormat())
	assert.Equal(t, "vp8", door.Encoder.Codec)
	assert.Equal(t, uint(2000), door.Encoder.Bitrate)
	assert.Equal(t, uint16(1200), door.Encoder.MTU)

	sc, err := door.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, camrelay.Config{
		FrameRate:     camrelay.FrameRate{Num: 30000, Den: 1001},
		Capacity:      4,
		TakeTimeout:   500 * time.Millisecond,
		MissThreshold: 0,
		DropPolicy:    camrelay.DropNewest,
		StopTimeout:   time.Second,
	}, sc)

	clip := cfg.Mounts[1]
	assert.False(t, clip.Shared)
	assert.True(t, clip.Device.Loop)
	assert.Equal(t, 640, clip.Device.Width)
	sc, err = clip.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, camrelay.DefaultMissThreshold, sc.MissThreshold)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("CAMRELAY_HTTP_ADDRESS", ":7000")
	path := writeTempConfig(t, `
mounts:
  - name: cam
    device:
      kind: testsrc
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Address)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	for name, content := range map[string]string{
		"no mounts":      `http: {address: ":80"}`,
		"unknown field":  "mounts:\n  - name: a\n    device: {kind: testsrc}\n    bogus: 1\n",
		"unknown device": "mounts:\n  - name: a\n    device: {kind: webcam}\n",
		"ivf no path":    "mounts:\n  - name: a\n    device: {kind: ivf}\n",
		"duplicate":      "mounts:\n  - name: a\n    device: {kind: testsrc}\n  - name: a\n    device: {kind: testsrc}\n",
		"capacity":       "mounts:\n  - name: a\n    device: {kind: testsrc}\n    capacity: 5000\n",
		"frame rate":     "mounts:\n  - name: a\n    device: {kind: testsrc}\n    frame_rate: 0/1\n",
		"drop policy":    "mounts:\n  - name: a\n    device: {kind: testsrc}\n    drop_policy: random\n",
		"pixel format":   "mounts:\n  - name: a\n    device: {kind: testsrc, format: NV12}\n",
		"cert only":      "http: {cert_file: cert.pem}\nmounts:\n  - name: a\n    device: {kind: testsrc}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			assert.Error(t, err)
		})
	}
}
