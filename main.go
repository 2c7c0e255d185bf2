package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/omnitiles/tilelink/internal/api"
	"github.com/omnitiles/tilelink/internal/config"
	"github.com/omnitiles/tilelink/internal/link"
	"github.com/omnitiles/tilelink/internal/link/nus"
	"github.com/omnitiles/tilelink/internal/protocol"
	"github.com/omnitiles/tilelink/internal/telemetry"
	"github.com/omnitiles/tilelink/internal/tileserial"
	"github.com/omnitiles/tilelink/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file")
	serialPort = flag.String("port", "", "Serial port path (overrides config)")
	baud       = flag.Int("baud", 0, "Serial baud rate (overrides config)")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	devMode    = flag.Bool("dev", false, "Feed canned telemetry from a mock serial port")
	noBLE      = flag.Bool("no-ble", false, "Disable wireless discovery")
)

// mockTelemetryFrame builds the frame the dev-mode mock port replays: both
// actuators mid-stroke, all three anchors at 100 mm.
func mockTelemetryFrame() []byte {
	frame := []byte{
		protocol.StartByte, protocol.MsgTelemetry,
		128, 64,
		0x00, 0x64, 0x00, 0x64, 0x00, 0x64,
	}
	return append(frame, protocol.Checksum(frame[1:]))
}

func main() {
	flag.Parse()
	log.Printf("tilelink %s", version.String())

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *serialPort != "" {
		cfg.SerialPort = serialPort
	}
	if *baud != 0 {
		cfg.BaudRate = baud
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	// Degenerate anchor geometry must stop the process here, not divide by
	// zero on the first ranging frame.
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	m1, m2 := cfg.Actuators()
	pipeline, err := telemetry.NewPipeline(m1, m2, cfg.Anchors())
	if err != nil {
		log.Fatalf("failed to build telemetry pipeline: %v", err)
	}

	// Wired transport: mock in dev mode, real port when configured, absent
	// otherwise. A port that fails to open is logged and skipped; the console
	// still runs in wireless or mock mode.
	var wired link.WiredPort
	if *devMode {
		wired = tileserial.NewMockPort(mockTelemetryFrame(), 500*time.Millisecond)
		log.Print("[UART] using mock serial port")
	} else if path := cfg.SerialPortPath(); path != "" {
		port, err := tileserial.Open(path, cfg.Baud())
		if err != nil {
			log.Printf("[UART] could not open serial port %s: %v", path, err)
		} else {
			wired = port
			log.Printf("[UART] connected to %s at %d baud", path, cfg.Baud())
		}
	}

	var wireless link.Wireless
	if !*noBLE && !*devMode {
		wireless = nus.NewProvider(cfg.Device())
	}

	links := link.NewManager(wireless, wired, pipeline)
	defer links.Close()

	if wireless == nil && wired == nil {
		log.Print("no transport available; running in mock mode")
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background wireless discovery.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := links.RunDiscovery(ctx); err != nil && err != context.Canceled {
			log.Printf("discovery routine failed: %v", err)
		}
		log.Print("discovery routine terminated")
	}()

	// Wired telemetry monitor.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := links.RunWiredMonitor(ctx); err != nil && err != context.Canceled {
			log.Printf("wired monitor failed: %v", err)
		}
		log.Print("wired monitor terminated")
	}()

	// HTTP server for the presentation boundary.
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    cfg.ListenAddr(),
			Handler: api.NewServer(links, pipeline, m1, m2).ServeMux(),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("console API listening on %s", cfg.ListenAddr())

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Print("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}
