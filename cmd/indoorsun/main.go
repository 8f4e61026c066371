package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/app"
	"github.com/dokzlo13/indoorsun/internal/config"
	"github.com/dokzlo13/indoorsun/internal/sample"
	"github.com/dokzlo13/indoorsun/internal/source"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetEntries := flag.Bool("reset-entries", false, "Delete entries created through the setup flow on startup")
	probeURL := flag.String("probe", "", "Fetch one image from URL, print its brightness and color, and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil && *probeURL != "" && errors.Is(err, fs.ErrNotExist) {
		// Probing works without a config file
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	if *probeURL != "" {
		if err := probe(cfg, *probeURL); err != nil {
			log.Fatal().Err(err).Str("url", *probeURL).Msg("Probe failed")
		}
		return
	}

	log.Info().Str("config", configPath).Msg("Starting indoorsun")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Handle reset flag
	if *resetEntries {
		log.Info().Msg("Deleting flow-created entries (--reset-entries)")
		if err := application.ResetEntries(); err != nil {
			log.Warn().Err(err).Msg("Failed to reset entries")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Start the application
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

// probe fetches and analyses a single frame and prints the result as JSON.
func probe(cfg *config.Config, url string) error {
	client := source.NewClient(source.Config{
		Timeout:            cfg.Source.Timeout.Duration(),
		MaxBodyBytes:       cfg.Source.MaxBodyBytes,
		UserAgent:          cfg.Source.UserAgent,
		InsecureSkipVerify: cfg.Source.InsecureSkipVerify,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Source.Timeout.Duration())
	defer cancel()

	data, err := client.Fetch(ctx, url)
	if err != nil {
		return err
	}
	format, size, err := sample.Probe(data)
	if err != nil {
		return err
	}
	result, err := sample.NewProcessor(sample.Options{}).Process(data)
	if err != nil {
		return err
	}
	log.Info().Str("format", format).Int("width", size.X).Int("height", size.Y).Msg("Frame decoded")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
