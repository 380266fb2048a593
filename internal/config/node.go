package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical node defaults file.
const DefaultConfigPath = "config/envmanager.defaults.json"

const (
	defaultTickPeriod              = time.Second
	defaultTopicBuffer             = 16
	defaultTransformServiceTimeout = 5 * time.Second
	defaultGNSSBaudRate            = 9600
	defaultRecordRetention         = 24 * time.Hour
)

// Datum anchors the local east-north-up map frame.
type Datum struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Size is an axis-aligned box extent in metres.
type Size struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NodeConfig is the environment manager's file configuration. Every field
// is optional; the Get* accessors supply defaults for omitted ones.
type NodeConfig struct {
	TickPeriod *string `json:"tick_period,omitempty"` // duration string like "1s"

	MapDatum        *Datum `json:"map_datum,omitempty"`
	HostVehicleSize *Size  `json:"host_vehicle_size,omitempty"`

	TopicBuffer *int `json:"topic_buffer,omitempty"`

	// Transform resolution service probed once at startup. Empty means
	// the node's own gRPC listener.
	TransformServiceAddr    *string `json:"transform_service_addr,omitempty"`
	TransformServiceTimeout *string `json:"transform_service_timeout,omitempty"`

	ShutdownOnAlert *bool `json:"shutdown_on_alert,omitempty"`

	// Optional NMEA receiver.
	GNSSPort     *string `json:"gnss_port,omitempty"`
	GNSSBaudRate *int    `json:"gnss_baud_rate,omitempty"`

	// Optional sqlite recorder.
	RecordDB        *string `json:"record_db,omitempty"`
	RecordRetention *string `json:"record_retention,omitempty"`
}

// EmptyNodeConfig returns a NodeConfig with all fields unset.
func EmptyNodeConfig() *NodeConfig {
	return &NodeConfig{}
}

// LoadNodeConfig loads a NodeConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to the Get* defaults.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyNodeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upward from the
// current directory. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *NodeConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadNodeConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validateDuration(name string, v *string, allowZero bool) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// Validate checks that the configured values are usable.
func (c *NodeConfig) Validate() error {
	if err := validateDuration("tick_period", c.TickPeriod, false); err != nil {
		return err
	}
	if err := validateDuration("transform_service_timeout", c.TransformServiceTimeout, false); err != nil {
		return err
	}
	// Zero retention keeps everything.
	if err := validateDuration("record_retention", c.RecordRetention, true); err != nil {
		return err
	}

	if d := c.MapDatum; d != nil {
		if d.Latitude < -90 || d.Latitude > 90 {
			return fmt.Errorf("map_datum.latitude must be between -90 and 90, got %f", d.Latitude)
		}
		if d.Longitude < -180 || d.Longitude > 180 {
			return fmt.Errorf("map_datum.longitude must be between -180 and 180, got %f", d.Longitude)
		}
	}

	if s := c.HostVehicleSize; s != nil {
		if s.X < 0 || s.Y < 0 || s.Z < 0 {
			return fmt.Errorf("host_vehicle_size must be non-negative, got %+v", *s)
		}
	}

	if c.TopicBuffer != nil && *c.TopicBuffer <= 0 {
		return fmt.Errorf("topic_buffer must be positive, got %d", *c.TopicBuffer)
	}

	if c.GNSSBaudRate != nil && *c.GNSSBaudRate <= 0 {
		return fmt.Errorf("gnss_baud_rate must be positive, got %d", *c.GNSSBaudRate)
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetTickPeriod returns the broadcast period. Default 1s.
func (c *NodeConfig) GetTickPeriod() time.Duration {
	d := parseDurationOr(c.TickPeriod, defaultTickPeriod)
	if d <= 0 {
		return defaultTickPeriod
	}
	return d
}

// GetMapDatum returns the configured datum, or nil when the map frame is
// not anchored.
func (c *NodeConfig) GetMapDatum() *Datum {
	if c.MapDatum == nil {
		return nil
	}
	d := *c.MapDatum
	return &d
}

// GetHostVehicleSize returns the host vehicle extent. Default 1x1x1.
func (c *NodeConfig) GetHostVehicleSize() Size {
	if c.HostVehicleSize == nil {
		return Size{X: 1, Y: 1, Z: 1}
	}
	return *c.HostVehicleSize
}

// GetTopicBuffer returns the per-subscriber channel size.
func (c *NodeConfig) GetTopicBuffer() int {
	if c.TopicBuffer == nil || *c.TopicBuffer <= 0 {
		return defaultTopicBuffer
	}
	return *c.TopicBuffer
}

func (c *NodeConfig) GetTransformServiceAddr() string {
	if c.TransformServiceAddr == nil {
		return ""
	}
	return *c.TransformServiceAddr
}

// GetTransformServiceTimeout bounds the startup service probe. Default 5s.
func (c *NodeConfig) GetTransformServiceTimeout() time.Duration {
	return parseDurationOr(c.TransformServiceTimeout, defaultTransformServiceTimeout)
}

// GetShutdownOnAlert reports whether a SHUTDOWN system alert stops the
// node. Default true.
func (c *NodeConfig) GetShutdownOnAlert() bool {
	if c.ShutdownOnAlert == nil {
		return true
	}
	return *c.ShutdownOnAlert
}

func (c *NodeConfig) GetGNSSPort() string {
	if c.GNSSPort == nil {
		return ""
	}
	return *c.GNSSPort
}

func (c *NodeConfig) GetGNSSBaudRate() int {
	if c.GNSSBaudRate == nil || *c.GNSSBaudRate <= 0 {
		return defaultGNSSBaudRate
	}
	return *c.GNSSBaudRate
}

// GetRecordDB returns the recorder database path; empty disables recording.
func (c *NodeConfig) GetRecordDB() string {
	if c.RecordDB == nil {
		return ""
	}
	return *c.RecordDB
}

// GetRecordRetention returns how long recorded rows are kept. Default 24h.
func (c *NodeConfig) GetRecordRetention() time.Duration {
	return parseDurationOr(c.RecordRetention, defaultRecordRetention)
}
