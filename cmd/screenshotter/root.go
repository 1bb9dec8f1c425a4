package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/fly-screenshotter/internal/config"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
	"github.com/JakeFAU/fly-screenshotter/internal/server"
)

type options struct {
	configPath string
	envFile    string
}

type service interface {
	Run(ctx context.Context) error
}

type capturer interface {
	Capture(ctx context.Context, projectID string) (screenshot.Outcome, error)
	Close(ctx context.Context) error
}

// Factories are variables so command tests can swap in fakes.
var (
	newService = func(ctx context.Context, cfg *config.Config) (service, error) {
		return server.Build(ctx, cfg)
	}
	newCapturer = func(ctx context.Context, cfg *config.Config) (capturer, error) {
		return server.Build(ctx, cfg)
	}
)

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "screenshotter",
		Short: "Captures compressed screenshots of Fly preview apps.",
		Long: `screenshotter accepts screenshot requests over HTTP, renders each preview app in a
headless browser, compresses the capture and publishes it to object storage.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before config")

	cmd.AddCommand(newServeCmd(opts), newCaptureCmd(opts))
	return cmd
}

// loadEnvFile populates the process environment from path. A missing file is not an error;
// variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
