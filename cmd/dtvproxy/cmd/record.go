package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/dtvproxy/internal/config"
	"github.com/jmylchreest/dtvproxy/internal/httpclient"
	"github.com/jmylchreest/dtvproxy/internal/recording"
	"github.com/jmylchreest/dtvproxy/internal/resolver"
	"github.com/jmylchreest/dtvproxy/internal/statusbus"
)

// recordCmd groups the live-recording commands. "start" is this CLI's
// realization of start_live_recording/stop_live_recording/
// list_live_recordings/get_recording_output_dir_default: since there is no
// background daemon a second invocation could address (see DESIGN.md), one
// task runs in the foreground, prints every recording-status transition as
// it happens (the record watch subscriber), and stops on interrupt.
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a live stream to segmented FLV files",
}

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Resolve, connect, and record one platform room until interrupted",
	RunE:  runRecordStart,
}

var recordOutputDirCmd = &cobra.Command{
	Use:   "output-dir",
	Short: "Print the default recording output directory",
	RunE:  runRecordOutputDir,
}

var (
	recordPlatform string
	recordRoomID   string
	recordQuality  string
	recordMinutes  int
	recordOutDir   string
	recordCookie   string
)

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordStartCmd, recordOutputDirCmd)

	recordStartCmd.Flags().StringVar(&recordPlatform, "platform", "", "platform to record (DOUYU, DOUYIN, HUYA, BILIBILI) (required)")
	recordStartCmd.Flags().StringVar(&recordRoomID, "room", "", "room ID to record (required)")
	recordStartCmd.Flags().StringVar(&recordQuality, "quality", "", "stream quality selector; unset or unrecognized means platform default")
	recordStartCmd.Flags().IntVar(&recordMinutes, "segment-minutes", 0, "segment rollover interval in minutes, clamped to [1, 1440]; 0 means the configured default")
	recordStartCmd.Flags().StringVar(&recordOutDir, "output-dir", "", "recording output root; empty uses the configured/auto-detected default")
	recordStartCmd.Flags().StringVar(&recordCookie, "cookie", "", "cookie header to present to the upstream CDN")
	_ = recordStartCmd.MarkFlagRequired("platform")
	_ = recordStartCmd.MarkFlagRequired("room")
}

// runRecordStart resolves against resolver.Default, the package-level
// dispatcher real platform clients register themselves into via
// resolver.RegisterOracle; this CLI ships none itself, so recording an
// unconfigured platform fails fast with resolver.ErrNoOracleRegistered.
func runRecordStart(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := httpclient.New(httpclient.Config{
		IdleConnsPerHost: cfg.Proxy.IdleConnsPerHost,
		DialKeepAlive:    cfg.Proxy.DialKeepAlive,
		RequestTimeout:   cfg.Proxy.RequestTimeout,
	})

	bus := statusbus.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	mgr := recording.NewManager(client, resolver.Default, bus, logger, cfg.Recording.OutputDir)

	segmentMinutes := recordMinutes
	if segmentMinutes <= 0 {
		segmentMinutes = cfg.Recording.NormalizedSegmentMinutes()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := mgr.Start(ctx, recording.StartRequest{
		Platform:       recordPlatform,
		RoomID:         recordRoomID,
		Quality:        recordQuality,
		SegmentMinutes: segmentMinutes,
		OutputDir:      recordOutDir,
		Cookie:         recordCookie,
	})
	if err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}

	fmt.Printf("task_id=%s output_dir=%s\n", result.TaskID, result.OutputDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go watchStatus(sub, result.TaskID, done)

	<-sigChan
	logger.Info("received shutdown signal, stopping recording", slog.String("task_id", result.TaskID))
	mgr.Stop(result.TaskID)
	close(done)

	return nil
}

// watchStatus prints every recording-status event for taskID until done is
// closed, the foreground stand-in for a "record watch" subscriber a host UI
// would otherwise drive over IPC.
func watchStatus(sub *statusbus.Subscriber, taskID string, done chan struct{}) {
	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if event.TaskID != taskID {
				continue
			}
			fmt.Printf("[%d] %s segment=%d bytes=%d %s\n", event.Timestamp, event.Status, event.SegmentIndex, event.BytesWritten, event.Message)
		case <-done:
			return
		}
	}
}

func runRecordOutputDir(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dir := cfg.Recording.OutputDir
	if dir == "" {
		dir = recording.DefaultOutputDir()
	}
	fmt.Println(dir)
	return nil
}
