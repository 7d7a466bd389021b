package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hybridgroup/mjpeg"
	"gocv.io/x/gocv"

	"gatecam/broadcast"
	"gatecam/counting"
	"gatecam/detection"
	"gatecam/notify"
	"gatecam/pkg/ffmpeg"
	"gatecam/signaling"
	"gatecam/store"
	"gatecam/tracking"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	globalDebugLogger = NewDebugLogger(cfg.Verbose)
	detection.SetDebugFunction(debugMsg)
	tracking.SetDebugFunction(debugMsg)
	counting.SetDebugFunction(debugMsg)
	broadcast.SetDebugFunction(debugMsg)
	signaling.SetDebugFunction(debugMsg)
	notify.SetDebugFunction(debugMsg)
	store.SetDebugFunction(debugMsg)
	ffmpeg.SetDebugFunction(debugMsg)

	if err := run(cfg); err != nil && err != context.Canceled {
		debugMsg("MAIN", fmt.Sprintf("Fatal: %v", err))
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage first: nothing else is worth starting if the database is
	// unusable.
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier := notify.New(ctx, cfg.CredsPath, cfg.AlertCooldown)

	// Detector.
	weights := filepath.Join(cfg.ModelsDir, cfg.ModelName+".weights")
	modelCfg := filepath.Join(cfg.ModelsDir, cfg.ModelName+".cfg")
	names := filepath.Join(cfg.ModelsDir, "coco.names")

	providerManager := detection.NewProviderManager()
	if err := providerManager.Initialize(weights, modelCfg, names); err != nil {
		return err
	}
	defer providerManager.Close()
	info := providerManager.GetProviderInfo()
	debugMsg("MAIN", fmt.Sprintf("Inference: %s (%s), est. %d FPS", info.Type, info.Backend, info.EstimatedFPS))

	// Video source.
	capture, err := gocv.OpenVideoCapture(cfg.Input)
	if err != nil {
		return err
	}
	defer capture.Close()

	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	if width <= 0 || height <= 0 {
		// Some sources only report geometry after the first frame.
		probe := gocv.NewMat()
		if ok := capture.Read(&probe); !ok || probe.Empty() {
			probe.Close()
			return fmt.Errorf("could not probe frame geometry from %q", cfg.Input)
		}
		width, height = probe.Cols(), probe.Rows()
		probe.Close()
	}
	debugMsg("MAIN", fmt.Sprintf("Video source %q open (%dx%d)", cfg.Input, width, height))

	// Counting line: explicit flag, or a vertical line at half frame width.
	var boundary counting.Boundary
	if cfg.Line != "" {
		boundary, err = parseLine(cfg.Line)
		if err != nil {
			return err
		}
	} else {
		cx := float64(width) / 2
		boundary, err = counting.NewBoundary(
			counting.Point{X: cx, Y: 0},
			counting.Point{X: cx, Y: float64(height)},
		)
		if err != nil {
			return err
		}
	}
	counter := counting.NewLineCounter(counting.Config{
		Boundary:        boundary,
		InvertDirection: cfg.InvertDirection,
		CooldownFrames:  cfg.CooldownFrames,
		EvictFrames:     cfg.EvictFrames,
	})

	// Encoded video fan-out.
	encoder, err := ffmpeg.NewEncoder(width, height, cfg.FPS)
	if err != nil {
		return err
	}
	if err := encoder.Start(); err != nil {
		return err
	}
	defer encoder.Stop()

	peers := signaling.NewManager(encoder)
	defer peers.CloseAll()

	hub := broadcast.NewHub()
	defer hub.Close()

	preview := mjpeg.NewStream()

	pipeline := NewPipeline(cfg, capture, width, height,
		providerManager.GetProvider(), counter, hub, st, notifier, encoder, preview)

	deps := &serverDeps{
		counter:      counter,
		hub:          hub,
		notifier:     notifier,
		store:        st,
		peers:        peers,
		preview:      preview,
		logger:       globalDebugLogger,
		stats:        pipeline.Stats,
		modelsDir:    cfg.ModelsDir,
		currentModel: cfg.ModelName,
		staticDir:    cfg.StaticDir,
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: newServer(deps),
	}

	errCh := make(chan error, 2)
	go func() {
		debugMsg("MAIN", "HTTP server listening on "+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		errCh <- pipeline.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		debugMsg("MAIN", "Shutting down")
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			debugMsg("MAIN", fmt.Sprintf("Component failed: %v", err))
			stop()
			shutdownHTTP(srv)
			return err
		}
	}

	shutdownHTTP(srv)
	return nil
}

func shutdownHTTP(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
