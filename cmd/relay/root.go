package main

import (
	"github.com/emanuelef/yt-dl-relay/internal/config"
	"github.com/emanuelef/yt-dl-relay/internal/service/downloader"
	"github.com/emanuelef/yt-dl-relay/pkg/logger"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// commandContext loads configuration once per invocation.
type commandContext struct {
	cfg *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger.Setup(&logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) downloader() (*downloader.Downloader, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	defaults := downloader.DefaultConfig()
	return downloader.New(&downloader.Config{
		YtDlpPath:    cfg.YtDlpPath,
		FFmpegPath:   cfg.FFmpegPath,
		OutputDir:    cfg.VideosDir,
		FormatSort:   defaults.FormatSort,
		RecodeFormat: defaults.RecodeFormat,
		KillGrace:    cfg.KillGrace,
	}), nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	serveCmd := newServeCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "yt-dl-relay",
		Short:         "Stream yt-dlp output to WebSocket clients",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serveCmd.RunE,
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newArgsCommand(ctx))
	rootCmd.AddCommand(newVersionCommand(ctx))

	return rootCmd
}
