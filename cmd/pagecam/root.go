package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagecam/internal/api"
	"github.com/jackzampolin/pagecam/internal/config"
	"github.com/jackzampolin/pagecam/internal/home"
	"github.com/jackzampolin/pagecam/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "pagecam",
	Short: "Turn a camera pointed at a page into a PDF",
	Long: `Pagecam watches a camera, captures each new page once it is
held still, cleans it up and assembles the pages into a PDF.

The pipeline includes:
  - Page detection (contour, ROI similarity, histogram or motion)
  - Crop, deskew and color correction
  - Optional OCR (tesseract, OpenAI or Mistral)
  - PDF assembly on demand`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.pagecam/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "pagecam home directory (default: ~/.pagecam)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or table",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		api.SetOutputFormat(outputFormat)
		logger, err := newLogger(logLevel, os.Getenv("PAGECAM_LOG_FORMAT"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. format "json" selects the JSON
// handler; anything else is text.
func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// loadEnv resolves the home directory and loads configuration.
func loadEnv() (*home.Dir, *config.Manager, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, nil, err
	}
	cfgMgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, nil, err
	}
	return h, cfgMgr, nil
}
