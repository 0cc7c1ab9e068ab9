package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagecam/internal/detect"
	"github.com/jackzampolin/pagecam/internal/server"
	"github.com/jackzampolin/pagecam/internal/session"
)

var (
	scanReq      session.StartRequest
	scanStrategy string
)

// drainTimeout bounds the wait for in-flight pages after capture stops.
const drainTimeout = 10 * time.Second

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan pages from a camera until interrupted",
	Long: `Run a single scanning session without the HTTP server.

Pages are captured while the command runs. On Ctrl+C capture stops,
pending pages are processed and the PDF is written; its path is printed.

Examples:
  pagecam scan --name "Field Notes"
  pagecam scan --name receipts --source rtsp://10.0.0.5/stream --ocr
  pagecam scan --name book --strategy histogram`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		h, cfgMgr, err := loadEnv()
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		notifier, exporter := server.Collaborators(cfg, logger)
		defer notifier.Close()

		mgr, err := session.NewManager(session.ManagerConfig{
			Home:     h,
			Settings: cfg.SessionSettings(),
			Notifier: notifier,
			Exporter: exporter,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		scanReq.Strategy = detect.Kind(scanStrategy)
		st, err := mgr.Start(ctx, scanReq)
		if err != nil {
			return err
		}
		logger.Info("scanning, press Ctrl+C to finish", "session", st.ID, "source", st.Source, "strategy", st.Strategy)

		<-ctx.Done()
		if err := mgr.Stop(st.ID); err != nil {
			return err
		}
		drain(mgr, st.ID, logger)

		finCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		out, err := mgr.Finalize(finCtx, st.ID)
		if err != nil {
			return fmt.Errorf("finalize %s: %w", st.ID, err)
		}
		logger.Info("document written", "session", st.ID, "pages", out.Pages)
		fmt.Println(out.Path)
		return nil
	},
}

// drain waits until every captured page has been processed.
func drain(mgr *session.Manager, id string, logger *slog.Logger) {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		st, err := mgr.Get(id)
		if err != nil || st.Processed >= st.Captured {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	logger.Warn("finalizing with pages still in flight", "session", id)
}

func init() {
	scanCmd.Flags().StringVar(&scanReq.Name, "name", "", "Session name (required)")
	scanCmd.Flags().StringVar(&scanReq.Description, "description", "", "Free-form description")
	scanCmd.Flags().StringVar(&scanReq.Source, "source", "0", "Camera index or stream URL")
	scanCmd.Flags().BoolVar(&scanReq.OCR, "ocr", false, "Extract text from each page")
	scanCmd.Flags().StringVar(&scanStrategy, "strategy", "", "Detection strategy (default from config)")
	scanCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(scanCmd)
}
