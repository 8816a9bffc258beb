package app

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// DisplayData holds the latest frames for the panel.
type DisplayData struct {
	mu sync.RWMutex

	pose       telemetry.PoseFrame
	havePose   bool
	vision     telemetry.VisionFrame
	haveVision bool
}

func (d *DisplayData) setPose(f telemetry.PoseFrame) {
	d.mu.Lock()
	d.pose, d.havePose = f, true
	d.mu.Unlock()
}

func (d *DisplayData) setVision(f telemetry.VisionFrame) {
	d.mu.Lock()
	d.vision, d.haveVision = f, true
	d.mu.Unlock()
}

// RenderPose draws the pose panel: position, heading, gyro state and the
// number of markers in the last vision pass.
func RenderPose(d *DisplayData) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	line := func(n int, s string) {
		drawer.Dot = fixed.P(0, lineHeight*n)
		drawer.DrawString(s)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.havePose {
		line(2, "Swerve pose")
		line(3, "Waiting...")
		return img
	}

	p := d.pose.Estimate
	line(1, fmt.Sprintf("X: %7.2f m", p.X))
	line(2, fmt.Sprintf("Y: %7.2f m", p.Y))
	line(3, fmt.Sprintf("H: %7.1f deg", geometry.Degrees(p.Heading)))

	gyro := "gyro ok"
	if !d.pose.GyroValid {
		gyro = "NO GYRO"
	}
	tags := "-"
	if d.haveVision {
		tags = fmt.Sprintf("%d/%d", d.vision.Count, len(d.vision.Candidates))
	}
	line(4, fmt.Sprintf("%s tags %s", gyro, tags))
	return img
}

// RunDisplay shows the fused pose on an SSD1306 OLED until ctx ends.
func RunDisplay(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	// The driver always talks to the panel at 0x3C.
	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Info("display initialized", zap.String("addr", "0x3C"))

	data := &DisplayData{}
	if err := dev.Draw(dev.Bounds(), RenderPose(data), image.Point{}); err != nil {
		log.Warn("error showing splash", zap.Error(err))
	}

	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDDisplay, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	if err := telemetry.SubscribeJSON(client, cfg.TopicPose, log, data.setPose); err != nil {
		return err
	}
	if err := telemetry.SubscribeJSON(client, cfg.TopicVisionDiag, log, data.setVision); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Info("display update loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), RenderPose(data), image.Point{}); err != nil {
				log.Warn("error updating display", zap.Error(err))
			}
		}
	}
}
