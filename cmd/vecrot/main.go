// Command vecrot runs the rotation engine headless: it seeds a set of unit
// vectors, rotates them by a fixed step every tick and periodically reads
// them back.
//
// Usage:
//
//	vecrot [-config vecrot.yml] [-backend software] [-elements 144] [-ticks 600] [-metrics :9090]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/vecrot"
	"github.com/gogpu/vecrot/backend"
	_ "github.com/gogpu/vecrot/backend/native"
	_ "github.com/gogpu/vecrot/backend/software"
	"github.com/gogpu/vecrot/metrics"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "vecrot:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	vecrot.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := backend.Open(cfg.Backend)
	if err != nil {
		return err
	}
	defer adapter.Close()
	info := adapter.Info()
	log.Info("adapter selected", "backend", adapter.Name(), "name", info.Name, "type", info.Type)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	e, err := vecrot.New(adapter,
		vecrot.WithCapacity(uint64(cfg.Elements)),
		vecrot.WithObserver(metrics.NewCollector(reg)),
	)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, g, cfg.MetricsAddr, reg, log)
	}
	g.Go(func() error {
		defer cancel()
		return runTicks(ctx, e, cfg, log)
	})
	return g.Wait()
}

// parseFlags loads the config file named by -config and applies the flags
// that were set on the command line.
func parseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("vecrot", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "YAML config file")
		backendArg = fs.String("backend", "", "device backend: native or software (default: best available)")
		elements   = fs.Uint("elements", 0, "number of vectors")
		angle      = fs.Float64("angle", 0, "rotation per tick in degrees")
		ticks      = fs.Int("ticks", 0, "ticks to run, 0 runs until interrupted")
		interval   = fs.Duration("interval", 0, "time between ticks")
		every      = fs.Int("readback-every", 0, "read vectors back every n ticks, 0 disables")
		seed       = fs.Uint64("seed", 0, "seed of the initial vectors")
		metricsArg = fs.String("metrics", "", "serve Prometheus metrics on this address")
		level      = fs.String("log-level", "", "debug, info, warn or error")
		progress   = fs.Bool("progress", false, "show a progress bar")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			return cfg, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backendArg
		case "elements":
			cfg.Elements = uint32(min(*elements, math.MaxUint32)) //nolint:gosec // clamped
		case "angle":
			cfg.AngleStep = float32(*angle)
		case "ticks":
			cfg.Ticks = *ticks
		case "interval":
			cfg.Interval = *interval
		case "readback-every":
			cfg.ReadbackEvery = *every
		case "seed":
			cfg.Seed = *seed
		case "metrics":
			cfg.MetricsAddr = *metricsArg
		case "log-level":
			cfg.LogLevel = *level
		case "progress":
			cfg.Progress = *progress
		}
	})
	return cfg, cfg.Validate()
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// seedVectors returns n unit vectors at pseudo-random angles.
func seedVectors(n uint32, seed uint64) []vecrot.StorageEntry {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]vecrot.StorageEntry, n)
	for i := range out {
		rad := rng.Float64() * 2 * math.Pi
		out[i].V = vecrot.Vector2{X: float32(math.Cos(rad)), Y: float32(math.Sin(rad))}
	}
	return out
}

// runTicks seeds the engine and runs the tick loop until cfg.Ticks ticks
// have run or ctx is done.
func runTicks(ctx context.Context, e *vecrot.Engine, cfg Config, log *slog.Logger) error {
	n := cfg.Elements
	if err := e.WriteStorage(0, seedVectors(n, cfg.Seed)); err != nil {
		return err
	}

	var tick <-chan time.Time
	if cfg.Interval > 0 {
		t := time.NewTicker(cfg.Interval)
		defer t.Stop()
		tick = t.C
	}

	var bar *progressbar.ProgressBar
	if cfg.Progress && cfg.Ticks > 0 {
		bar = progressbar.Default(int64(cfg.Ticks), "rotating")
		defer bar.Close()
	}

	for i := 1; cfg.Ticks == 0 || i <= cfg.Ticks; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if err := e.WriteUniform(vecrot.UniformParams{RotateDeg: cfg.AngleStep}); err != nil {
			return err
		}
		if err := e.Dispatch(n); err != nil {
			return err
		}
		if cfg.ReadbackEvery > 0 && i%cfg.ReadbackEvery == 0 {
			out, err := e.ReadBack(n)
			if err != nil {
				return fmt.Errorf("tick %d: %w", i, err)
			}
			log.Info("tick", "n", i, "first", out[0].V)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	log.Info("done", "ticks", cfg.Ticks)
	return nil
}
