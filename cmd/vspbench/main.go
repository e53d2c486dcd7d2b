// Command vspbench exercises the preview frame pipeline against the
// synthetic frame source: paced playback or a decode throughput
// benchmark, with live progress reporting.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
	"github.com/Endilll/vapoursynth-preview-sub000/config"
	"github.com/Endilll/vapoursynth-preview-sub000/media"
	"github.com/Endilll/vapoursynth-preview-sub000/pipeline"
	"github.com/Endilll/vapoursynth-preview-sub000/source"
)

// Version information
const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	mode := flag.String("mode", "bench", "Run mode: play, bench")
	from := flag.Int64("from", 0, "Playback start frame")
	start := flag.Int64("start", 0, "Benchmark range start frame")
	end := flag.Int64("end", -1, "Benchmark range end frame (-1 = last frame)")
	benchMode := flag.String("bench-mode", "", "Benchmark drain mode: sequenced, unsequenced (default from config)")
	concurrency := flag.Int("concurrency", 0, "Benchmark concurrency (0 = playback buffer size)")
	unlimited := flag.Bool("unlimited", false, "Disable playback pacing")
	fps := flag.Float64("fps", 0, "Nominal playback rate override in fps")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vspbench %s\n", version)
		os.Exit(0)
	}

	// Environment overrides come from .env when present.
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded environment from .env")
	}
	if *configPath == "" {
		*configPath = os.Getenv("VSPBENCH_CONFIG")
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

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		slog.Info("Configuration loaded", "path", *configPath)
	}
	if *fps > 0 {
		cfg.Playback.NominalRate = *fps
	}
	if *unlimited {
		cfg.Playback.Unlimited = true
	}
	if *benchMode == "" {
		*benchMode = cfg.Benchmark.Mode
	}
	if *concurrency == 0 {
		*concurrency = cfg.Benchmark.Concurrency
	}

	var drainMode pipeline.DrainMode
	switch *benchMode {
	case "sequenced":
		drainMode = pipeline.DrainSequenced
	case "unsequenced":
		drainMode = pipeline.DrainUnsequenced
	default:
		log.Fatalf("Invalid benchmark mode: %s (must be sequenced or unsequenced)", *benchMode)
	}

	stream, err := media.NewStream(media.StreamConfig{
		Name:        cfg.Stream.Name,
		Width:       cfg.Stream.Width,
		Height:      cfg.Stream.Height,
		TotalFrames: clock.FrameInterval(cfg.Stream.TotalFrames),
		Rate:        clock.Rate{Num: cfg.Stream.RateNum, Den: cfg.Stream.RateDen},
		PlayRate:    cfg.Playback.NominalRate,
	})
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	src, err := source.NewSynthetic(source.SyntheticConfig{
		Width:   cfg.Stream.Width,
		Height:  cfg.Stream.Height,
		Workers: cfg.Source.Workers,
		Latency: cfg.Source.LatencyDuration(),
		Jitter:  cfg.Source.JitterDuration(),
		FailAt:  clock.Frame(cfg.Source.FailAt),
	})
	if err != nil {
		log.Fatalf("Failed to create frame source: %v", err)
	}

	fmt.Printf("\n")
	fmt.Printf("vspbench %s\n", version)
	fmt.Printf("  Stream:      %s (%dx%d, %d frames)\n",
		stream.Name(), stream.Width(), stream.Height(), stream.TotalFrames())
	if rate, ok := stream.Rate(); ok {
		fmt.Printf("  Frame rate:  %s (%.3f fps)\n", rate, rate.FPS())
	} else {
		fmt.Printf("  Frame rate:  variable\n")
	}
	fmt.Printf("  Mode:        %s\n", *mode)
	fmt.Printf("\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		log.Fatalf("Failed to start frame source: %v", err)
	}
	defer src.Stop()

	ctl := pipeline.NewWithLogger(pipeline.Config{
		BufferSize:  cfg.Playback.BufferSize,
		NominalRate: cfg.Playback.NominalRate,
		Unlimited:   cfg.Playback.Unlimited,
	}, src, logger)
	defer ctl.Stop()

	runDone := make(chan pipeline.Progress, 1)
	err = ctl.SetCallbacks(
		func(index clock.Frame, frame *source.Frame) {
			slog.Debug("Frame presented", "index", index, "trace_id", frame.TraceID)
		},
		func(p pipeline.Progress) {
			if p.Final {
				runDone <- p
				return
			}
			fmt.Printf("  %8d frames | %8.2f fps | elapsed %s\n",
				p.FramesDone, p.FPS, p.Elapsed)
		},
	)
	if err != nil {
		log.Fatalf("Failed to install callbacks: %v", err)
	}
	if err := ctl.SwitchStream(stream); err != nil {
		log.Fatalf("Failed to attach stream: %v", err)
	}

	switch *mode {
	case "play":
		if err := ctl.StartPlayback(clock.Frame(*from)); err != nil {
			log.Fatalf("Failed to start playback: %v", err)
		}
	case "bench":
		last := clock.Frame(*end)
		if *end < 0 {
			last = stream.EndFrame()
		}
		if err := ctl.RunBenchmark(clock.Frame(*start), last, drainMode, *concurrency); err != nil {
			log.Fatalf("Failed to start benchmark: %v", err)
		}
	default:
		log.Fatalf("Invalid mode: %s (must be play or bench)", *mode)
	}

	fmt.Printf("Press Ctrl+C to stop\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var final pipeline.Progress
	select {
	case <-sigChan:
		fmt.Printf("\nReceived interrupt signal, stopping...\n")
		ctl.Stop()
		select {
		case final = <-runDone:
		default:
		}
	case final = <-runDone:
	}

	stats := ctl.Stats()
	srcStats := src.Stats()

	fmt.Printf("\n")
	fmt.Printf("Final report\n")
	fmt.Printf("  Frames done:   %d\n", final.FramesDone)
	fmt.Printf("  Elapsed:       %s\n", final.Elapsed)
	fmt.Printf("  Throughput:    %.2f fps\n", final.FPS)
	fmt.Printf("  Submitted:     %d\n", stats.Submitted)
	fmt.Printf("  Completed:     %d\n", stats.Completed)
	fmt.Printf("  Cancelled:     %d\n", stats.Cancelled)
	fmt.Printf("  Decode errors: %d\n", srcStats.Failed)
	if final.Failed {
		fmt.Printf("  Halted by:     %v\n", final.Err)
		os.Exit(1)
	}
}
