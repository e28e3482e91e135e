package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/coreman2200/pixelwire/internal/config"
	"github.com/coreman2200/pixelwire/internal/diagnostics"
	"github.com/coreman2200/pixelwire/internal/method"
	"github.com/coreman2200/pixelwire/internal/pattern"
	"github.com/coreman2200/pixelwire/internal/preview"
	"github.com/coreman2200/pixelwire/internal/runner"
)

func main() {
	// ---- Flags (remain usable; the config file overrides them) ----
	var (
		configPath = flag.String("config", "pixelwire.yaml", "path to the strip config")
		driver     = flag.String("driver", "sim", "driver: host | sim")
		addr       = flag.String("addr", ":8080", "HTTP listen address, empty to disable")
		fps        = flag.Int("fps", runner.DefaultFPS, "target frames per second")
		patternArg = flag.String("pattern", "ramp", "pattern: index_sweep | channel_walk | ramp")
		screenArg  = flag.Bool("screen", false, "draw the first strip on the terminal")
		simOnly    = flag.Bool("sim-only", false, "force simulation (no hardware output)")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// ---- Config (optional) ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags and a default strip")
		cfg = config.Default()
		cfg.Driver, cfg.Addr, cfg.FPS, cfg.Pattern = *driver, *addr, *fps, *patternArg
	}
	if cfg.FPS <= 0 {
		cfg.FPS = *fps
	}
	if cfg.Pattern == "" {
		cfg.Pattern = *patternArg
	}
	if cfg.Driver == "" {
		cfg.Driver = *driver
	}
	if *simOnly {
		cfg.Driver = "sim"
	}
	if *screenArg {
		cfg.Preview.Screen = true
	}

	hub := preview.NewHub()
	sink := diagnostics.Multi{diagnostics.Log{L: log.Logger}, hub}

	// ---- Board ----
	var board *method.Board
	switch cfg.Driver {
	case "host":
		if board, err = hostBoard(cfg.UARTInverter); err != nil {
			log.Warn().Err(err).Msg("host init failed; falling back to SIM")
			cfg.Driver = "sim"
		}
	case "sim":
	default:
		log.Warn().Str("driver", cfg.Driver).Msg("unknown driver; using SIM")
		cfg.Driver = "sim"
	}
	if board == nil {
		board = simBoard()
	}

	kind, err := pattern.Parse(cfg.Pattern)
	if err != nil {
		sink.Report(diagnostics.Diagnostic{
			Severity: diagnostics.Warn, Code: diagnostics.PatternUnknown, Summary: "unknown pattern name",
			Evidence: map[string]any{"name": cfg.Pattern},
		})
		kind = pattern.Ramp
	}

	// ---- Strips ----
	var loops []*runner.Looper
	var strips []*method.Method
	for i, s := range cfg.Strips {
		lg := log.Logger
		mc, err := s.Method(&lg, sink)
		if err != nil {
			log.Error().Err(err).Int("index", i).Msg("strip config rejected")
			continue
		}
		m, err := method.New(mc, board)
		if err == nil {
			err = m.Initialize()
		}
		if err != nil {
			log.Error().Err(err).Str("strip", mc.Name).Msg("strip unavailable")
			continue
		}
		strips = append(strips, m)
		hub.AddStrip(m.Name(), mc.Backend.String(), mc.PixelCount, mc.ElementSize)
		sink.Report(diagnostics.Diagnostic{Severity: diagnostics.Info, Code: diagnostics.StripStarted, Strip: m.Name(), Summary: "strip started"})

		lp := &runner.Looper{
			Strip:      m,
			Layout:     mc.Layout(),
			FPS:        cfg.FPS,
			Pattern:    pattern.NewRunner(pattern.Plan{Kind: kind, Level: cfg.Level}),
			Consistent: mc.Consistent,
			Diag:       sink,
			OnFrame:    hub.Frame,
		}
		if cfg.Preview.Screen && len(loops) == 0 {
			con := preview.NewConsole(m.Name(), mc.Layout(), cfg.Preview.Every)
			defer con.Halt()
			lp.OnFrame = func(strip string, frame uint64, data []byte) {
				hub.Frame(strip, frame, data)
				con.Frame(strip, frame, data)
			}
		}
		loops = append(loops, lp)
	}
	if len(loops) == 0 {
		log.Fatal().Str("driver", cfg.Driver).Msg("no strip could be started")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// ---- HTTP ----
	if cfg.Addr != "" {
		srv := &http.Server{
			Addr:         cfg.Addr,
			Handler:      withCORS(hub.Routes()),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.Addr).Str("driver", cfg.Driver).Msg("HTTP server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			hub.Close()
			return srv.Close()
		})
	}

	// ---- Frame loops ----
	for _, lp := range loops {
		lp := lp
		g.Go(func() error { return lp.Run(ctx) })
	}

	err = g.Wait()
	if err != nil {
		log.Error().Err(err).Msg("stopped")
	}
	log.Info().Msg("shutting down")
	for _, m := range strips {
		if cerr := m.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("strip", m.Name()).Msg("close")
		}
		sink.Report(diagnostics.Diagnostic{Severity: diagnostics.Info, Code: diagnostics.StripStopped, Strip: m.Name(), Summary: "strip stopped"})
	}
	if err != nil {
		os.Exit(1)
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}
