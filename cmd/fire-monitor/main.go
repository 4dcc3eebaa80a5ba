package main

import (
	"context"
	"os"
	"runtime/debug"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/spf13/cobra"
)

const serviceName string = "iot-fire-monitor"

func main() {
	serviceVersion := version()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion, os.Getenv("LOG_LEVEL"))

	rootCmd := &cobra.Command{
		Use:          "fire-monitor",
		Short:        "Fire sensor monitoring with alerting of emergency contacts",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "/opt/diwise/config/config.yaml", "path to the sensor, contact and notification configuration")

	rootCmd.AddCommand(newServeCommand(serviceVersion), newSeedCommand())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("fire monitor exited with an error")
	}
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}
