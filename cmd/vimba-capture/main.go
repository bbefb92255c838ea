package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	vimbacapture "github.com/e7canasta/vimba-capture"
	"github.com/e7canasta/vimba-capture/internal/api"
	"github.com/e7canasta/vimba-capture/internal/gsthost"
	"github.com/e7canasta/vimba-capture/internal/simcam"
	"github.com/e7canasta/vimba-capture/settings"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Version information
const version = "v0.1.0"

func main() {
	// Parse command-line flags
	cameraID := flag.String("camera", "sim0", "Camera ID to open")
	settingsFile := flag.String("settings", "", "YAML settings file (optional)")
	format := flag.String("format", "GRAY8", "Generic pixel format (GRAY8, GRAY16_LE, rggb, ...)")
	buffers := flag.Int("buffers", 3, "Frame buffers kept in flight")
	fps := flag.Float64("fps", 10, "Simulated camera free-run rate (0.1-200)")
	sink := flag.String("sink", gsthost.DefaultSink, "GStreamer launch fragment after the camera source")
	noGst := flag.Bool("no-gst", false, "Pull frames directly instead of feeding a GStreamer pipeline")
	httpAddr := flag.String("http", ":8080", "Control API listen address (empty to disable)")
	incomplete := flag.String("incomplete", "", "Incomplete frame policy: drop, submit (overrides settings file)")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vimba-capture %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if *fps < 0.1 || *fps > 200 {
		log.Fatalf("Invalid fps: %.2f (must be 0.1-200)", *fps)
	}
	if *statsInterval <= 0 {
		log.Fatalf("Invalid stats interval: %d", *statsInterval)
	}

	// Load settings
	cameraSettings := settings.Default()
	if *settingsFile != "" {
		loaded, err := settings.Load(*settingsFile)
		if err != nil {
			log.Fatalf("Failed to load settings: %v", err)
		}
		cameraSettings = loaded
	}
	if *incomplete != "" {
		cameraSettings.IncompleteFrames = settings.IncompletePolicy(*incomplete)
	}

	// Print banner
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║              Vimba Capture - Camera Source                ║\n")
	fmt.Printf("║                      Version %s                       ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Camera ID:     %s (simulated)\n", *cameraID)
	fmt.Printf("  Format:        %s\n", *format)
	fmt.Printf("  Buffers:       %d\n", *buffers)
	fmt.Printf("  Free-run FPS:  %.2f\n", *fps)
	if *noGst {
		fmt.Printf("  Pipeline:      (none - direct pull)\n")
	} else {
		fmt.Printf("  Pipeline:      appsrc ! queue ! %s\n", *sink)
	}
	if *httpAddr != "" {
		fmt.Printf("  Control API:   %s\n", *httpAddr)
	} else {
		fmt.Printf("  Control API:   (disabled)\n")
	}
	fmt.Printf("\n")

	// Simulated camera backend
	sdk := simcam.New()
	sdk.Add(*cameraID, simcam.Config{})

	src, err := vimbacapture.New(vimbacapture.Config{
		SDK:         sdk,
		CameraID:    *cameraID,
		BufferCount: *buffers,
		Settings:    &cameraSettings,
	})
	if err != nil {
		log.Fatalf("Failed to create source: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := src.Open(); err != nil {
		log.Fatalf("Failed to open camera: %v", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Error("Error closing camera", "error", err)
		}
	}()

	if err := src.NegotiateFormat(ctx, *format); err != nil {
		log.Fatalf("Failed to negotiate format: %v", err)
	}
	if err := src.StartSession(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	report := src.LastReport()
	for _, step := range report.Failures() {
		slog.Warn("Setting not applied",
			"setting", step.Setting,
			"feature", step.Feature,
			"value", step.Value,
			"error", step.Err,
		)
	}

	startTime := time.Now()
	var host *gsthost.Host
	g, ctx := errgroup.WithContext(ctx)

	interval := time.Duration(float64(time.Second) / *fps)
	g.Go(func() error {
		return sdk.Stream(ctx, *cameraID, interval)
	})

	if *noGst {
		g.Go(func() error {
			return pullLoop(ctx, src)
		})
	} else {
		host = gsthost.New(src, gsthost.Config{
			CameraID: *cameraID,
			Pipeline: gsthost.PipelineConfig{Sink: *sink},
		})
		g.Go(func() error {
			return host.Run(ctx)
		})
	}

	if *httpAddr != "" {
		if !*debug {
			gin.SetMode(gin.ReleaseMode)
		}
		apiCfg := api.Config{Addr: *httpAddr}
		if host != nil {
			apiCfg.Extra = func() any { return host.Stats() }
		}
		server := api.New(src, apiCfg)
		g.Go(func() error {
			return server.Run(ctx)
		})
	}

	g.Go(func() error {
		reportStats(ctx, src, host, time.Duration(*statsInterval)*time.Second, startTime)
		return nil
	})

	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	runErr := g.Wait()

	slog.Info("Stopping session...")
	if err := src.StopSession(context.Background()); err != nil {
		slog.Error("Error stopping session", "error", err)
	}

	printFinalStats(src.Stats(), host, time.Since(startTime))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("Capture stopped with error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Capture completed successfully")
}

// pullLoop consumes frames without GStreamer.
func pullLoop(ctx context.Context, src *vimbacapture.Source) error {
	alive := func() bool { return ctx.Err() == nil }

	for {
		frame, err := src.PullFrame(alive)
		if errors.Is(err, vimbacapture.ErrFlushing) {
			if ctx.Err() != nil {
				return nil
			}
			// No session running (stopped through the API); wait for a restart
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return err
		}

		slog.Debug("Frame pulled",
			"frame_id", frame.FrameID,
			"size_bytes", len(frame.Data),
			"format", frame.Format,
			"incomplete", frame.Incomplete,
			"trace_id", frame.TraceID,
		)
	}
}

func reportStats(ctx context.Context, src *vimbacapture.Source, host *gsthost.Host, every time.Duration, startTime time.Time) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := src.Stats()
		uptime := time.Since(startTime)

		fmt.Printf("\n")
		fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
		fmt.Printf("│ Camera Statistics (Uptime: %s)\n", uptime.Round(time.Second))
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ State:              %s\n", stats.State)
		fmt.Printf("│ Format:             %s\n", stats.Format)
		fmt.Printf("│ Frames Produced:    %6d frames\n", stats.FramesProduced)
		fmt.Printf("│ Bytes Copied:       %6.2f MB\n", float64(stats.BytesCopied)/1024/1024)
		fmt.Printf("│ Pending:            %6d\n", stats.Pending)
		fmt.Printf("│ Delivery FPS:       %6.2f fps (jitter %.3f s, steady %v)\n",
			stats.Rate.FPSMean, stats.Rate.JitterMean, stats.Rate.Steady)
		if stats.IncompleteDropped+stats.IncompleteSubmitted > 0 {
			fmt.Printf("│ Incomplete:         %6d dropped, %d submitted\n",
				stats.IncompleteDropped, stats.IncompleteSubmitted)
		}
		if stats.ResubmitFailures > 0 {
			fmt.Printf("│ Resubmit Failures:  %6d\n", stats.ResubmitFailures)
		}
		fmt.Printf("│ Reconfigurations:   %6d\n", stats.Reconfigurations)
		if host != nil {
			hs := host.Stats()
			fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
			fmt.Printf("│ Frames Pushed:      %6d frames\n", hs.FramesPushed)
			fmt.Printf("│ Caps Changes:       %6d\n", hs.CapsChanges)
			totalErrors := hs.NegotiationErrors + hs.ResourceErrors + hs.StreamErrors + hs.UnknownErrors
			if totalErrors > 0 {
				fmt.Printf("│ Pipeline Errors:    %6d (negotiation %d, resource %d, stream %d, unknown %d)\n",
					totalErrors, hs.NegotiationErrors, hs.ResourceErrors, hs.StreamErrors, hs.UnknownErrors)
			}
		}
		fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
		fmt.Printf("\n")
	}
}

func printFinalStats(stats vimbacapture.Stats, host *gsthost.Host, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", uptime.Round(time.Second))
	fmt.Printf("  Frames Produced:    %d frames\n", stats.FramesProduced)
	fmt.Printf("  Bytes Copied:       %.2f MB\n", float64(stats.BytesCopied)/1024/1024)
	fmt.Printf("  Incomplete Dropped: %d\n", stats.IncompleteDropped)
	fmt.Printf("  Resubmit Failures:  %d\n", stats.ResubmitFailures)
	fmt.Printf("  Reconfigurations:   %d\n", stats.Reconfigurations)
	if host != nil {
		fmt.Printf("  Frames Pushed:      %d frames\n", host.Stats().FramesPushed)
	}
	if uptime > 0 {
		fmt.Printf("  Average FPS:        %.2f fps\n", float64(stats.FramesProduced)/uptime.Seconds())
	}
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")
}
