package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	// Service URL
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)

	// Create banner with custom styling - GREEN for quaero
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	// Visual banner still prints to stdout for startup aesthetics
	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("QUAERO")
	b.PrintCenteredText("Durable Ingestion Engine")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Service URL", serviceURL, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	// Log structured startup information through Arbor
	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Msg("Application started")

	// Print configuration details to console
	fmt.Printf("Configuration:\n")
	fmt.Printf("   - Web Interface: %s\n", serviceURL)
	fmt.Printf("   - Ingestion API: %s%s\n", serviceURL, config.Ingestion.RoutePrefix)

	// Show log file path if available
	logFilePath := ""
	if loggerWithPath, ok := interface{}(logger).(interface{ GetLogFilePath() string }); ok {
		logFilePath = loggerWithPath.GetLogFilePath()
		if logFilePath != "" {
			fmt.Printf("   - Log File: %s\n", logFilePath)
		}
	}
	fmt.Printf("\n")

	// Log configuration through Arbor
	logger.Info().
		Str("log_file", logFilePath).
		Str("storage_type", config.Storage.Type).
		Str("storage_path", config.Storage.Badger.Path).
		Int("max_job_workers", config.Ingestion.MaxJobWorkers).
		Msg("Configuration loaded")

	// Print capabilities to console
	printCapabilities(config, logger)
	fmt.Printf("\n")
}

// printCapabilities displays the system capabilities
func printCapabilities(config *Config, logger arbor.ILogger) {
	fmt.Printf("Enabled Features:\n")

	features := []string{"upload", "localfs", "confluence", "github", "jira", "hkm"}
	for _, f := range features {
		fmt.Printf("   - %s ingestion feature\n", f)
	}

	fmt.Printf("   - Badger key/value storage at %s\n", config.Storage.Badger.Path)
	fmt.Printf("   - Embedding via %s (%s)\n", config.Ingestion.EmbeddingOllamaURL, config.Ingestion.EmbeddingModel)

	logger.Info().
		Strs("enabled_features", features).
		Str("storage", "badger").
		Str("embedding_model", config.Ingestion.EmbeddingModel).
		Msg("System capabilities")
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	// Visual banner to stdout
	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("QUAERO")
	b.PrintBottomLine()
	fmt.Println()

	// Log shutdown through Arbor
	logger.Info().Msg("Application shutting down")
}

// PrintColorizedMessage prints a message with specified color to stdout.
// It does not log; the Print* helpers below log through Arbor themselves.
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints a success message in green and logs it
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("[ok] %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints an error message in red and logs it
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("[error] %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints a warning message in yellow and logs it
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("[warn] %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints an info message in cyan and logs it
func PrintInfo(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("[info] %s", message), logger)
	logger.Info().Str("type", "info").Msg(message)
}
