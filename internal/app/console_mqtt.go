package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

// FormatPose renders a pose frame as one console line.
func FormatPose(f telemetry.PoseFrame) string {
	gyro := "gyro"
	if !f.GyroValid {
		gyro = "NO-GYRO"
	}
	return fmt.Sprintf(
		"[POSE] %s  odom %s  σ=(%.3f %.3f %.2f°)  %s drop=%d",
		formatPose2D(f.Estimate), formatPose2D(f.Odometry),
		f.VisionStdDev[0], f.VisionStdDev[1], geometry.Degrees(f.VisionStdDev[2]),
		gyro, f.Dropped,
	)
}

// FormatVision renders a vision diagnostics frame as one console line.
func FormatVision(f telemetry.VisionFrame) string {
	accepted := 0
	ids := make([]string, 0, len(f.Candidates))
	for _, c := range f.Candidates {
		mark := "x"
		if c.Accepted {
			accepted++
			mark = "+"
		}
		ids = append(ids, fmt.Sprintf("%s%d@%d", mark, c.MarkerID, c.Camera))
	}
	line := fmt.Sprintf("[VIS ] filter=%s %d/%d accepted discarded=%d [%s]",
		f.Filter, accepted, len(f.Candidates), f.Discarded, strings.Join(ids, " "))
	if f.OK {
		line += fmt.Sprintf("  -> %s n=%d", formatPose2D(f.Pose), f.Count)
	}
	return line
}

func formatPose2D(p geometry.Pose2D) string {
	return fmt.Sprintf("x=%7.3f y=%7.3f h=%7.2f°", p.X, p.Y, geometry.Degrees(p.Heading))
}

// RunConsoleMQTT prints every pose and vision frame until ctx ends.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	if err := telemetry.SubscribeJSON(client, cfg.TopicPose, log, func(f telemetry.PoseFrame) {
		fmt.Fprintln(os.Stdout, FormatPose(f))
	}); err != nil {
		return err
	}
	if err := telemetry.SubscribeJSON(client, cfg.TopicVisionDiag, log, func(f telemetry.VisionFrame) {
		fmt.Fprintln(os.Stdout, FormatVision(f))
	}); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("console shutting down")
	return nil
}
