package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// Point is a YAML position in meters.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Orientation is either a unit quaternion or roll/pitch/yaw in degrees.
// The quaternion wins when present.
type Orientation struct {
	Quaternion *struct {
		W float64 `yaml:"w"`
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
		Z float64 `yaml:"z"`
	} `yaml:"quaternion,omitempty"`
	RollDeg  float64 `yaml:"roll_deg"`
	PitchDeg float64 `yaml:"pitch_deg"`
	YawDeg   float64 `yaml:"yaw_deg"`
}

func (o Orientation) rotation() geometry.Rotation3D {
	if q := o.Quaternion; q != nil {
		return geometry.RotationFromQuaternion(q.W, q.X, q.Y, q.Z)
	}
	return geometry.RotationFromEuler(
		geometry.Radians(o.RollDeg),
		geometry.Radians(o.PitchDeg),
		geometry.Radians(o.YawDeg),
	)
}

// FieldFile is the on-disk field layout.
type FieldFile struct {
	Field struct {
		Length float64 `yaml:"length"`
		Width  float64 `yaml:"width"`
	} `yaml:"field"`
	Markers []struct {
		ID          int         `yaml:"id"`
		Position    Point       `yaml:"position"`
		Orientation Orientation `yaml:"orientation"`
	} `yaml:"markers"`
}

// Field is a parsed field layout.
type Field struct {
	Length, Width float64
	Markers       vision.FieldLayout
}

// CameraFile is the on-disk list of camera mounts, in capture order.
type CameraFile struct {
	Cameras []struct {
		Name        string      `yaml:"name"`
		Position    Point       `yaml:"position"`
		Orientation Orientation `yaml:"orientation"`
	} `yaml:"cameras"`
}

// LoadField reads a field layout YAML file.
func LoadField(path string) (Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Field{}, fmt.Errorf("failed to read field layout: %w", err)
	}
	return ParseField(bytes.NewReader(data))
}

// ParseField decodes a field layout. Duplicate marker IDs are rejected.
func ParseField(r io.Reader) (Field, error) {
	var ff FieldFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil && !errors.Is(err, io.EOF) {
		return Field{}, fmt.Errorf("invalid field layout: %w", err)
	}
	if len(ff.Markers) == 0 {
		return Field{}, fmt.Errorf("field layout has no markers")
	}

	f := Field{Length: ff.Field.Length, Width: ff.Field.Width, Markers: make(vision.FieldLayout, len(ff.Markers))}
	for _, m := range ff.Markers {
		if _, dup := f.Markers[m.ID]; dup {
			return Field{}, fmt.Errorf("duplicate marker id %d in field layout", m.ID)
		}
		f.Markers[m.ID] = geometry.NewPose3D(
			geometry.Translation3D{X: m.Position.X, Y: m.Position.Y, Z: m.Position.Z},
			m.Orientation.rotation(),
		)
	}
	return f, nil
}

// LoadCameras reads a camera mount YAML file.
func LoadCameras(path string) ([]vision.Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras: %w", err)
	}
	return ParseCameras(bytes.NewReader(data))
}

// ParseCameras decodes camera mounts relative to the robot center.
func ParseCameras(r io.Reader) ([]vision.Camera, error) {
	var cf CameraFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid camera file: %w", err)
	}
	if len(cf.Cameras) == 0 {
		return nil, fmt.Errorf("camera file lists no cameras")
	}

	out := make([]vision.Camera, len(cf.Cameras))
	for i, c := range cf.Cameras {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("camera%d", i)
		}
		out[i] = vision.Camera{
			Name: name,
			RobotToCamera: geometry.NewTransform3D(
				geometry.Translation3D{X: c.Position.X, Y: c.Position.Y, Z: c.Position.Z},
				c.Orientation.rotation(),
			),
		}
	}
	return out, nil
}
