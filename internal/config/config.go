package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Gyro sources accepted by GYRO_SOURCE.
const (
	GyroSourceMPU9250 = "mpu9250" // SPI yaw-rate gyro, integrated locally
	GyroSourceNMEA    = "nmea"    // gyro-compass HDT/HDM over serial
	GyroSourceFrame   = "frame"   // heading carried in the wheel-state frames
	GyroSourceNone    = "none"    // wheel kinematics only
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker            string
	MQTTClientIDLocalizer string
	MQTTClientIDConsole   string
	MQTTClientIDWeb       string
	MQTTClientIDDisplay   string
	MQTTClientIDRobotSim  string

	// Topics
	TopicPose        string // fused pose frames (published)
	TopicVisionDiag  string // vision diagnostics frames (published)
	TopicDetections  string // marker detections from the camera computer (subscribed)
	TopicWheelStates string // module distances and angles from the drive controller (subscribed)
	TopicResetPose   string // pose reset commands (subscribed)

	// Chassis geometry, meters
	TrackLength float64 // front to back module distance
	TrackWidth  float64 // left to right module distance

	// Velocity limits. MaxAngularVelocity defaults to
	// MaxLinearVelocity / drive base radius when unset.
	MaxLinearVelocity  float64 // m/s
	MaxAngularVelocity float64 // rad/s

	// Timing
	OdometryFrequencyHz float64
	ControlPeriod       int // milliseconds
	SamplerCapacity     int
	ConsoleLogInterval  int // milliseconds

	// Gyro
	GyroSource     string
	GyroSPIDevice  string
	GyroCSPin      string
	GyroBiasPath   string // JSON written by gyro_calibration
	NMEASerialPort string
	NMEABaudRate   int

	// Vision
	VisionSingleStdDevXY      float64 // meters
	VisionSingleStdDevHeading float64 // radians
	VisionMaxAmbiguity        float64
	VisionMaxHeight           float64 // meters
	VisionMaxTilt             float64 // radians
	FieldLayoutPath           string
	CamerasPath               string

	// Estimator
	StateStdDevX       float64 // meters
	StateStdDevY       float64 // meters
	StateStdDevHeading float64 // radians
	HistoryWindow      int     // milliseconds

	// Web Server
	WebServerPort int

	// Display
	DisplayUpdateInterval int // milliseconds

	// Recorder; empty path disables recording
	RecorderPath string

	// Logging: debug, info, warn, error
	LogLevel string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot replace it behind the lock.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock for initialization,
//     read lock for Get() so readers never block each other.
//
// External code must use InitGlobal() to set and Get() to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a Config with every optional value set.
func Defaults() *Config {
	return &Config{
		MQTTClientIDLocalizer: "swerve-localizer",
		MQTTClientIDConsole:   "swerve-console",
		MQTTClientIDWeb:       "swerve-web",
		MQTTClientIDDisplay:   "swerve-display",
		MQTTClientIDRobotSim:  "swerve-robot-sim",

		TopicPose:        "swerve/pose",
		TopicVisionDiag:  "swerve/vision/diagnostics",
		TopicDetections:  "swerve/vision/detections",
		TopicWheelStates: "swerve/wheels",
		TopicResetPose:   "swerve/pose/reset",

		MaxLinearVelocity: 4.5,

		OdometryFrequencyHz: 250,
		ControlPeriod:       20,
		SamplerCapacity:     64,
		ConsoleLogInterval:  500,

		GyroSource:   GyroSourceFrame,
		NMEABaudRate: 4800,

		VisionSingleStdDevXY:      0.3,
		VisionSingleStdDevHeading: 0.6,
		VisionMaxAmbiguity:        0.2,
		VisionMaxHeight:           0.25,
		VisionMaxTilt:             0.2,

		StateStdDevX:       0.1,
		StateStdDevY:       0.1,
		StateStdDevHeading: 0.1,
		HistoryWindow:      1500,

		WebServerPort:         8080,
		DisplayUpdateInterval: 250,

		LogLevel: "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_LOCALIZER":
		c.MQTTClientIDLocalizer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_ROBOT_SIM":
		c.MQTTClientIDRobotSim = value

	// Topics
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_VISION_DIAGNOSTICS":
		c.TopicVisionDiag = value
	case "TOPIC_DETECTIONS":
		c.TopicDetections = value
	case "TOPIC_WHEEL_STATES":
		c.TopicWheelStates = value
	case "TOPIC_RESET_POSE":
		c.TopicResetPose = value

	// Chassis
	case "TRACK_LENGTH":
		c.TrackLength, err = positiveFloat(key, value)
	case "TRACK_WIDTH":
		c.TrackWidth, err = positiveFloat(key, value)
	case "MAX_LINEAR_VELOCITY":
		c.MaxLinearVelocity, err = positiveFloat(key, value)
	case "MAX_ANGULAR_VELOCITY":
		c.MaxAngularVelocity, err = positiveFloat(key, value)

	// Timing
	case "ODOMETRY_FREQUENCY_HZ":
		c.OdometryFrequencyHz, err = positiveFloat(key, value)
	case "CONTROL_PERIOD":
		c.ControlPeriod, err = positiveInt(key, value)
	case "SAMPLER_CAPACITY":
		c.SamplerCapacity, err = positiveInt(key, value)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = positiveInt(key, value)

	// Gyro
	case "GYRO_SOURCE":
		switch value {
		case GyroSourceMPU9250, GyroSourceNMEA, GyroSourceFrame, GyroSourceNone:
			c.GyroSource = value
		default:
			return fmt.Errorf("GYRO_SOURCE must be one of %s, %s, %s, %s; got %q",
				GyroSourceMPU9250, GyroSourceNMEA, GyroSourceFrame, GyroSourceNone, value)
		}
	case "GYRO_SPI_DEVICE":
		c.GyroSPIDevice = value
	case "GYRO_CS_PIN":
		c.GyroCSPin = value
	case "GYRO_BIAS_PATH":
		c.GyroBiasPath = value
	case "NMEA_SERIAL_PORT":
		c.NMEASerialPort = value
	case "NMEA_BAUD_RATE":
		c.NMEABaudRate, err = positiveInt(key, value)

	// Vision
	case "VISION_SINGLE_STD_DEV_XY":
		c.VisionSingleStdDevXY, err = positiveFloat(key, value)
	case "VISION_SINGLE_STD_DEV_HEADING":
		c.VisionSingleStdDevHeading, err = positiveFloat(key, value)
	case "VISION_MAX_AMBIGUITY":
		c.VisionMaxAmbiguity, err = positiveFloat(key, value)
	case "VISION_MAX_HEIGHT":
		c.VisionMaxHeight, err = positiveFloat(key, value)
	case "VISION_MAX_TILT":
		c.VisionMaxTilt, err = positiveFloat(key, value)
	case "FIELD_LAYOUT_PATH":
		c.FieldLayoutPath = value
	case "CAMERAS_PATH":
		c.CamerasPath = value

	// Estimator
	case "STATE_STD_DEV_X":
		c.StateStdDevX, err = positiveFloat(key, value)
	case "STATE_STD_DEV_Y":
		c.StateStdDevY, err = positiveFloat(key, value)
	case "STATE_STD_DEV_HEADING":
		c.StateStdDevHeading, err = positiveFloat(key, value)
	case "HISTORY_WINDOW":
		c.HistoryWindow, err = positiveInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		port, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, perr)
		}
		if port <= 0 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = positiveInt(key, value)

	// Recorder
	case "RECORDER_PATH":
		c.RecorderPath = value

	// Logging
	case "LOG_LEVEL":
		switch value {
		case "debug", "info", "warn", "error":
			c.LogLevel = value
		default:
			return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", value)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func positiveFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, v)
	}
	return v, nil
}

func positiveInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TrackLength == 0 {
		return fmt.Errorf("TRACK_LENGTH is required")
	}
	if c.TrackWidth == 0 {
		return fmt.Errorf("TRACK_WIDTH is required")
	}
	if c.FieldLayoutPath == "" {
		return fmt.Errorf("FIELD_LAYOUT_PATH is required")
	}
	if c.CamerasPath == "" {
		return fmt.Errorf("CAMERAS_PATH is required")
	}
	switch c.GyroSource {
	case GyroSourceMPU9250:
		if c.GyroSPIDevice == "" || c.GyroCSPin == "" {
			return fmt.Errorf("GYRO_SPI_DEVICE and GYRO_CS_PIN are required for GYRO_SOURCE=%s", c.GyroSource)
		}
	case GyroSourceNMEA:
		if c.NMEASerialPort == "" {
			return fmt.Errorf("NMEA_SERIAL_PORT is required for GYRO_SOURCE=%s", c.GyroSource)
		}
	}
	return nil
}

// StateStdDevs returns the odometry standard deviations as x, y, heading.
func (c *Config) StateStdDevs() [3]float64 {
	return [3]float64{c.StateStdDevX, c.StateStdDevY, c.StateStdDevHeading}
}

// ControlInterval is the control loop period.
func (c *Config) ControlInterval() time.Duration {
	return time.Duration(c.ControlPeriod) * time.Millisecond
}

// HistoryDuration is how far back the estimator keeps odometry poses.
func (c *Config) HistoryDuration() time.Duration {
	return time.Duration(c.HistoryWindow) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
// This is the only function that can set globalConfig.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
