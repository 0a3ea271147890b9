package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mengelbart/camrelay"
	"gopkg.in/yaml.v2"
)

// Device kinds understood by Mount.Device.Kind.
const (
	DeviceTestsrc      = "testsrc"
	DeviceIVF          = "ivf"
	DeviceV4L2         = "v4l2"
	DeviceVideotestsrc = "videotestsrc"
)

type Config struct {
	HTTP struct {
		Address    string `yaml:"address"`
		TLSAddress string `yaml:"tls_address"`
		CertFile   string `yaml:"cert_file"`
		KeyFile    string `yaml:"key_file"`
	} `yaml:"http"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Mounts []Mount `yaml:"mounts"`
}

type Mount struct {
	Name   string `yaml:"name"`
	Shared bool   `yaml:"shared"`

	Device struct {
		Kind   string `yaml:"kind"`
		Path   string `yaml:"path"`
		Width  int    `yaml:"width"`
		Height int    `yaml:"height"`
		Format string `yaml:"format"`
		Loop   bool   `yaml:"loop"`
	} `yaml:"device"`

	FrameRate     string        `yaml:"frame_rate"`
	Capacity      int           `yaml:"capacity"`
	TakeTimeout   time.Duration `yaml:"take_timeout"`
	MissThreshold *int          `yaml:"miss_threshold"`
	DropPolicy    string        `yaml:"drop_policy"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`

	Encoder struct {
		Codec       string `yaml:"codec"`
		Bitrate     uint   `yaml:"bitrate"`
		PayloadType uint8  `yaml:"payload_type"`
		MTU         uint16 `yaml:"mtu"`
	} `yaml:"encoder"`
}

// DefaultConfig serves a single shared test pattern.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.HTTP.Address = ":8080"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	m := Mount{Name: "test", Shared: true}
	m.Device.Kind = DeviceTestsrc
	cfg.Mounts = []Mount{m}
	cfg.applyMountDefaults()
	return cfg
}

// Load reads the YAML file at path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Mounts = nil
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	cfg.applyMountDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyMountDefaults() {
	defaults := camrelay.DefaultConfig()
	for i := range c.Mounts {
		m := &c.Mounts[i]
		if m.Device.Width == 0 {
			m.Device.Width = 640
		}
		if m.Device.Height == 0 {
			m.Device.Height = 480
		}
		if m.Device.Format == "" {
			m.Device.Format = string(camrelay.BGR)
		}
		if m.FrameRate == "" {
			m.FrameRate = defaults.FrameRate.String()
		}
		if m.Capacity == 0 {
			m.Capacity = defaults.Capacity
		}
		if m.TakeTimeout == 0 {
			m.TakeTimeout = defaults.TakeTimeout
		}
		if m.MissThreshold == nil {
			threshold := defaults.MissThreshold
			m.MissThreshold = &threshold
		}
		if m.DropPolicy == "" {
			m.DropPolicy = defaults.DropPolicy.String()
		}
		if m.StopTimeout == 0 {
			m.StopTimeout = defaults.StopTimeout
		}
		if m.Encoder.Codec == "" {
			m.Encoder.Codec = "h264"
		}
		if m.Encoder.Bitrate == 0 {
			m.Encoder.Bitrate = 800
		}
		if m.Encoder.PayloadType == 0 {
			m.Encoder.PayloadType = 96
		}
		if m.Encoder.MTU == 0 {
			m.Encoder.MTU = 1200
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CAMRELAY_HTTP_ADDRESS"); v != "" {
		c.HTTP.Address = v
	}
	if v := os.Getenv("CAMRELAY_METRICS_PATH"); v != "" {
		c.Metrics.Path = v
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address must not be empty")
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		return errors.New("http.cert_file and http.key_file must be set together")
	}
	if c.HTTP.TLSAddress != "" && c.HTTP.CertFile == "" {
		return errors.New("http.tls_address requires http.cert_file")
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.New("metrics.path must not be empty when metrics.enabled=true")
	}
	if len(c.Mounts) == 0 {
		return errors.New("at least one mount is required")
	}
	names := map[string]bool{}
	for i, m := range c.Mounts {
		if m.Name == "" {
			return fmt.Errorf("mounts[%d].name must not be empty", i)
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate mount %q", m.Name)
		}
		names[m.Name] = true
		if err := m.validate(); err != nil {
			return fmt.Errorf("mount %q: %w", m.Name, err)
		}
	}
	return nil
}

func (m Mount) validate() error {
	switch m.Device.Kind {
	case DeviceTestsrc, DeviceV4L2, DeviceVideotestsrc:
	case DeviceIVF:
		if m.Device.Path == "" {
			return errors.New("device.path is required for ivf devices")
		}
	default:
		return fmt.Errorf("unknown device kind %q", m.Device.Kind)
	}
	if m.Device.Width <= 0 || m.Device.Height <= 0 {
		return fmt.Errorf("invalid device size %dx%d", m.Device.Width, m.Device.Height)
	}
	if _, err := camrelay.ParsePixelFormat(m.Device.Format); err != nil {
		return err
	}
	if m.Encoder.PayloadType > 127 {
		return fmt.Errorf("invalid encoder.payload_type: %d", m.Encoder.PayloadType)
	}
	_, err := m.SessionConfig()
	return err
}

// SessionConfig converts the relay settings of m.
func (m Mount) SessionConfig() (camrelay.Config, error) {
	rate, err := camrelay.ParseFrameRate(m.FrameRate)
	if err != nil {
		return camrelay.Config{}, err
	}
	policy, err := camrelay.ParseDropPolicy(m.DropPolicy)
	if err != nil {
		return camrelay.Config{}, err
	}
	cfg := camrelay.Config{
		FrameRate:     rate,
		Capacity:      m.Capacity,
		TakeTimeout:   m.TakeTimeout,
		MissThreshold: camrelay.DefaultMissThreshold,
		DropPolicy:    policy,
		StopTimeout:   m.StopTimeout,
	}
	if m.MissThreshold != nil {
		cfg.MissThreshold = *m.MissThreshold
	}
	return cfg, cfg.Validate()
}

// PixelFormat returns the format frames of the mount's device carry.
func (m Mount) PixelFormat() camrelay.PixelFormat {
	f, err := camrelay.ParsePixelFormat(m.Device.Format)
	if err != nil {
		return camrelay.BGR
	}
	return f
}
