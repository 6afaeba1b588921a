// tarssh is an SSH tarpit server.
//
// It accepts TCP connections and never speaks SSH: each peer is held
// open indefinitely while a tiny banner trickles out at a fixed
// interval, wasting the connecting scanner's time and connection slots.
//
// Usage:
//
//	tarssh [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file
//	-listen string
//	    Listen address to bind to (default "0.0.0.0:2222")
//	-max-clients uint
//	    Best-effort connection limit, 0 = unbounded
//	-delay uint
//	    Seconds between responses (default 10)
//	-metrics string
//	    Serve /metrics on this address
//	-i2p
//	    Listen as an I2P garlic service instead of TCP
//	-sam string
//	    SAM bridge address for -i2p
//	-v / -vv
//	    Info / debug logging
//	-version
//	    Print version and exit
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

	"github.com/sivizius/tarssh/lib/config"
	"github.com/sivizius/tarssh/lib/metrics"
	"github.com/sivizius/tarssh/lib/tarpit"
	"github.com/sivizius/tarssh/version"
)

// Exit codes after BSD sysexits: a socket that cannot be bound is an
// OS-resource error, a bad configuration is a configuration error.
// Per-connection failures never affect the exit status.
const (
	exitOK     = 0
	exitOSErr  = 71
	exitConfig = 78
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to configuration file")
	listen := flag.String("listen", config.DefaultListen, "Listen address to bind to")
	maxClients := flag.Uint("max-clients", 0, "Best-effort connection limit, 0 = unbounded")
	delay := flag.Uint("delay", config.DefaultDelaySeconds, "Seconds between responses")
	metricsAddr := flag.String("metrics", "", "Serve /metrics on this address")
	i2p := flag.Bool("i2p", false, "Listen as an I2P garlic service instead of TCP")
	samAddr := flag.String("sam", config.DefaultSAMAddress, "SAM bridge address for -i2p")
	verbose := flag.Bool("v", false, "Enable info logging")
	debug := flag.Bool("vv", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tarssh - An SSH tarpit server\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  tarssh [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("tarssh version %s\n", version.Full())
		return exitOK
	}

	// Set up logging
	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelInfo
	}
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Start with defaults, then apply the config file, then CLI overrides
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return exitConfig
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.Listen = *listen
		case "max-clients":
			cfg.Server.MaxClients = *maxClients
		case "delay":
			cfg.Server.Delay = *delay
		case "metrics":
			cfg.Metrics.Enabled = true
			cfg.Metrics.Listen = *metricsAddr
		case "i2p":
			cfg.I2P.Enabled = *i2p
		case "sam":
			cfg.I2P.SAMAddress = *samAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return exitConfig
	}

	registry := metrics.NewRegistry(time.Now())
	server := tarpit.NewServer(cfg, registry, logger)

	if err := server.Listen(); err != nil {
		logger.Error("bind failed", "error", err)
		return exitOSErr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(ctx)
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", registry.Handler())
		metricsServer := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}

		group.Go(func() error {
			logger.Info("metrics", "addr", cfg.Metrics.Listen)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("server failed", "error", err)
		return exitOSErr
	}
	return exitOK
}
