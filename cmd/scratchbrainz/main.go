package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"scratchbrainz/audio"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("scratchbrainz v%s\n", version)
	fmt.Println("Turntable deck engine with scratch, tonearm and platter simulation")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  scratchbrainz [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Runs one turntable deck. A renderer connects over WebSocket to draw the")
	fmt.Println("  platter and tonearm and to send pointer gestures; scratch-ctl and")
	fmt.Println("  scripts drive it over a Unix socket; an optional jog wheel scratches.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (defaults are used when omitted)")
	fmt.Println()
	fmt.Println("  -track string")
	fmt.Println("        WAV or MP3 track to load at startup")
	fmt.Println()
	fmt.Println("  -audio-backend string")
	fmt.Println("        Audio output: oto|null (default \"oto\")")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -ws-listen string")
	fmt.Printf("        Renderer WebSocket listen address, empty disables (default %q)\n", defaultWSListen)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  scratchbrainz -track ~/music/break.wav")
	fmt.Println("  scratchbrainz -config /etc/scratchbrainz.yaml -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Jog wheels need read access to /dev/input (run as root or join 'input')")
	fmt.Println()
}

func main() {
	var (
		configPath   = flag.String("config", "", "YAML config file")
		trackPath    = flag.String("track", "", "WAV or MP3 track to load at startup")
		audioBackend = flag.String("audio-backend", "oto", "Audio output: oto|null")
		ipcSocket    = flag.String("ipc-socket", defaultSocketPath, "Unix domain socket path for IPC")
		wsListen     = flag.String("ws-listen", defaultWSListen, "Renderer WebSocket listen address (empty disables)")
		logLevelStr  = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion  = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	// Defaults, then the file, then only the flags actually given.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "track":
			overrides.TrackPath = trackPath
		case "audio-backend":
			overrides.AudioBackend = audioBackend
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "ws-listen":
			overrides.WSListen = wsListen
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("scratchbrainz stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the deck and serves until SIGINT/SIGTERM or a component fails.
func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.RealClock{}

	player := audio.NewPlayer(cfg.Audio.SampleRate)
	output := openOutput(cfg.Audio, clk, player, logger)
	defer output.Close()

	var broadcasts chan stateBroadcast
	if cfg.Renderer.Listen != "" {
		broadcasts = make(chan stateBroadcast, 16)
	}

	d := newDaemon(daemonConfig{
		Clock:             clk,
		Logger:            logger,
		Player:            player,
		Geometry:          cfg.Geometry,
		Pitch:             cfg.Engine.Pitch,
		JogDegreesPerStep: cfg.Jog.DegreesPerStep,
		JogRelease:        time.Duration(cfg.Jog.ReleaseMS) * time.Millisecond,
		Broadcasts:        broadcasts,
	})

	if cfg.Track.Path != "" {
		action, err := prepareAction(LoadTrack{Path: cfg.Track.Path})
		if err != nil {
			return err
		}
		if err := d.apply(action); err != nil {
			return err
		}
	}

	// Jog devices are opened before anything starts so a permission
	// problem fails fast.
	var jogFiles []*os.File
	for _, dev := range cfg.Jog.Devices {
		f, err := os.Open(dev)
		if err != nil {
			for _, opened := range jogFiles {
				_ = opened.Close()
			}
			return fmt.Errorf("open jog device %s: %w (run as root or add user to 'input' group)", dev, err)
		}
		jogFiles = append(jogFiles, f)
	}

	requests := make(chan request, 64)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runDaemon(ctx, requests, d, cfg.TickInterval())
	})

	g.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, requests, logger)
	})

	if len(jogFiles) > 0 {
		g.Go(func() error {
			return runInput(ctx, jogFiles, requests, logger)
		})
	}

	if cfg.Renderer.Listen != "" {
		srv := NewServer(logger, requests, ServerConfig{})
		mux := http.NewServeMux()
		srv.Register(mux, cfg.Renderer.Path)
		httpSrv := &http.Server{
			Addr:              cfg.Renderer.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		window := time.Duration(cfg.Renderer.CoalesceMS) * time.Millisecond

		g.Go(func() error {
			srv.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(ctx, srv.Hub(), broadcasts, window, logger)
			return nil
		})
		g.Go(func() error {
			logger.Info("renderer websocket listening", "addr", cfg.Renderer.Listen, "path", cfg.Renderer.Path)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("renderer websocket: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("scratchbrainz running",
		"version", version,
		"audio_backend", cfg.Audio.Backend,
		"sample_rate", cfg.Audio.SampleRate,
		"tick_hz", cfg.Engine.TickHz,
		"ipc", cfg.IPC.SocketPath,
		"ws", cfg.Renderer.Listen,
		"jog_devices", len(jogFiles),
		"track", cfg.Track.Path)

	err := g.Wait()
	logger.Info("shutting down")
	return err
}

// openOutput starts the configured audio sink pulling from player. Without
// a usable sound device the deck falls back to the null sink.
func openOutput(cfg AudioConfig, clk clock.WithTicker, player *audio.Player, logger *slog.Logger) audio.Output {
	buffer := time.Duration(cfg.BufferMS) * time.Millisecond
	if cfg.Backend == "oto" {
		out, err := audio.NewOtoOutput(player, cfg.SampleRate, buffer)
		if err == nil {
			return out
		}
		logger.Warn("audio output unavailable, using null output", "error", err)
	}
	return audio.NewNullOutput(clk, player, cfg.SampleRate, buffer)
}
