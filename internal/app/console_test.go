package app

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

func TestFormatPose(t *testing.T) {
	line := FormatPose(telemetry.PoseFrame{
		Estimate:     geometry.NewPose2D(1.5, -2, math.Pi/2),
		Odometry:     geometry.NewPose2D(1.6, -2, math.Pi/2),
		VisionStdDev: [3]float64{0.05, 0.05, geometry.Radians(2)},
		GyroValid:    false,
		Dropped:      3,
	})
	assert.Contains(t, line, "x=  1.500 y= -2.000 h=  90.00°")
	assert.Contains(t, line, "odom x=  1.600")
	assert.Contains(t, line, "2.00°")
	assert.Contains(t, line, "NO-GYRO drop=3")
}

func TestFormatVision(t *testing.T) {
	line := FormatVision(telemetry.VisionFrame{
		Filter: "height+ambiguity",
		Candidates: []telemetry.CandidateFrame{
			{Camera: 0, MarkerID: 4, Accepted: true},
			{Camera: 1, MarkerID: 7},
		},
		Discarded: 2,
		OK:        true,
		Pose:      geometry.NewPose2D(3, 4, 0),
		Count:     1,
	})
	assert.Contains(t, line, "filter=height+ambiguity 1/2 accepted discarded=2 [+4@0 x7@1]")
	assert.Contains(t, line, "-> x=  3.000 y=  4.000")

	assert.NotContains(t, FormatVision(telemetry.VisionFrame{}), "->")
}

func TestFormatTruth(t *testing.T) {
	line := formatTruth(geometry.NewPose2D(1, 1, 0), geometry.NewPose2D(1.3, 1.4, 0))
	assert.Contains(t, line, "ERR 0.500m 0.00°")
}

func litPixels(img *image1bit.VerticalLSB) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.BitAt(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestRenderPose(t *testing.T) {
	data := &DisplayData{}
	waiting := RenderPose(data)
	assert.Equal(t, image.Rect(0, 0, displayWidth, displayHeight), waiting.Bounds())
	assert.Positive(t, litPixels(waiting))

	data.setPose(telemetry.PoseFrame{Estimate: geometry.NewPose2D(1, 2, 0.5), GyroValid: true})
	pose := RenderPose(data)
	assert.NotEqual(t, waiting.Pix, pose.Pix)

	data.setVision(telemetry.VisionFrame{Count: 2, Candidates: make([]telemetry.CandidateFrame, 3)})
	withTags := RenderPose(data)
	assert.NotEqual(t, pose.Pix, withTags.Pix)
}
