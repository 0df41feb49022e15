package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/thermal.capture/internal/api"
	"github.com/banshee-data/thermal.capture/internal/capture"
	"github.com/banshee-data/thermal.capture/internal/config"
	"github.com/banshee-data/thermal.capture/internal/db"
	"github.com/banshee-data/thermal.capture/internal/link"
	"github.com/banshee-data/thermal.capture/internal/sensor"
	"github.com/banshee-data/thermal.capture/internal/sensor/cci"
	"github.com/banshee-data/thermal.capture/internal/simulator"
	"github.com/banshee-data/thermal.capture/internal/version"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

var (
	devMode     = flag.Bool("dev", false, "Run against a simulated sensor")
	listen      = flag.String("listen", ":8080", "Listen address")
	port        = flag.String("port", "/dev/ttyACM0", "Serial device carrying the VoSPI stream (ignored with -dev or -replay)")
	i2cBus      = flag.Int("i2c-bus", 1, "I2C bus number of the sensor's command interface")
	configFile  = flag.String("config", "", "Capture configuration JSON (default: "+config.DefaultConfigPath+" when present)")
	dbPath      = flag.String("db", "thermal.db", "SQLite frame store; empty disables recording")
	replay      = flag.String("replay", "", "Replay a recorded raw VoSPI stream instead of a live link")
	geometry    = flag.String("geometry", "80x60", "Frame geometry for -replay: 80x60 or 160x120")
	debugLog    = flag.Bool("debug", false, "Log VoSPI diagnostics")
	listPorts   = flag.Bool("list-ports", false, "List serial devices and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: thermal [flags]
       thermal migrate <action> [args]
       thermal simulate [-o file] [-frames n] [-geometry WxH]

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("thermal %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listPorts {
		ports, err := link.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	switch flag.Arg(0) {
	case "migrate":
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	case "simulate":
		if err := runSimulate(flag.Args()[1:], os.Stdout); err != nil {
			log.Fatalf("simulate: %v", err)
		}
		return
	case "":
	default:
		usage()
		os.Exit(2)
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	diag := io.Discard
	if *debugLog {
		diag = os.Stderr
	}
	vospi.SetLogWriters(os.Stderr, diag, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	asm := vospi.NewAssembler(vospi.AssemblerConfig{VerifyCRC: cfg.GetVerifyCRC()})
	src, settings, lepton, err := openSource(ctx, cfg, asm)
	if err != nil {
		log.Fatalf("failed to start sensor: %v", err)
	}
	defer src.Close()
	if lepton != nil {
		defer lepton.Close()
	}
	log.Printf("thermal %s capturing %s frames", version.Version, asm.Geometry())

	rx := vospi.NewReceiver(src, asm)
	syncer := vospi.NewSynchronizer(rx, asm, vospi.SynchronizerConfig{QuietInterval: cfg.GetQuietInterval()})
	capturer := capture.New(rx, asm, syncer, settings, capture.Config{
		Timeout:    cfg.GetCaptureTimeout(),
		MaxResyncs: cfg.GetMaxResyncs(),
	})

	var store *db.DB
	if *dbPath != "" {
		store, err = db.OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
	}

	var wg sync.WaitGroup

	// the receiver owns the link until shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rx.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("receiver stopped: %v", err)
		}
		log.Print("receiver routine terminated")
	}()

	if store != nil {
		recorder := capture.NewRecorder(capturer, store, capture.RecorderConfig{
			Interval: cfg.GetCaptureInterval(),
			Retain:   cfg.GetRetainFrames(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recorder.Run(ctx); err != nil {
				log.Printf("recorder stopped: %v", err)
			}
			log.Print("recorder routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(capturer, store)
		mux := srv.ServeMux()
		srv.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path, or the defaults file when path is empty and the
// file exists, or falls back to built-in defaults.
func loadConfig(path string) (*config.CaptureConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.DefaultCaptureConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadCaptureConfig(path)
}

func parseGeometry(s string) (vospi.Geometry, error) {
	switch strings.ToLower(s) {
	case "80x60", "":
		return vospi.GeometrySingleSegment, nil
	case "160x120":
		return vospi.GeometryFourSegment, nil
	default:
		return vospi.Geometry{}, fmt.Errorf("unsupported geometry %q (want 80x60 or 160x120)", s)
	}
}

// openSource opens the frame link and brings the sensor up. The assembler
// has its geometry set and a resync pending on return. The sensor is nil
// when replaying; otherwise the caller closes it to release the command bus.
func openSource(ctx context.Context, cfg *config.CaptureConfig, asm *vospi.Assembler) (link.Port, capture.DecodeSettings, *sensor.Lepton, error) {
	switch {
	case *replay != "":
		g, err := parseGeometry(*geometry)
		if err != nil {
			return nil, nil, nil, err
		}
		p, err := link.OpenReplay(*replay)
		if err != nil {
			return nil, nil, nil, err
		}
		asm.SetGeometry(g)
		return p, capture.Static{
			Format:  cfg.GetPixelFormat(),
			HMirror: cfg.GetHMirror(),
			VFlip:   cfg.GetVFlip(),
		}, nil, nil

	case *devMode:
		g, err := parseGeometry(*geometry)
		if err != nil {
			return nil, nil, nil, err
		}
		stream, err := simulator.NewStream(simulator.StreamConfig{
			Geometry:    g,
			Scene:       simulator.HotSpot,
			FramePeriod: time.Second / 9,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		lepton, err := resetSensor(ctx, cfg, simulator.NewControl(g, 3, 2), asm)
		if err != nil {
			stream.Close()
			return nil, nil, nil, err
		}
		return stream, lepton, lepton, nil

	default:
		opts, err := cfg.PortOptions()
		if err != nil {
			return nil, nil, nil, err
		}
		p, err := link.Open(*port, opts)
		if err != nil {
			return nil, nil, nil, err
		}
		bus, err := cci.OpenI2C(*i2cBus, cci.DefaultAddress)
		if err != nil {
			p.Close()
			return nil, nil, nil, err
		}
		lepton, err := resetSensor(ctx, cfg, cci.NewClient(bus, nil), asm)
		if err != nil {
			bus.Close()
			p.Close()
			return nil, nil, nil, err
		}
		return p, lepton, lepton, nil
	}
}

func resetSensor(ctx context.Context, cfg *config.CaptureConfig, ctl sensor.Control, asm *vospi.Assembler) (*sensor.Lepton, error) {
	lepton := sensor.NewLepton(sensor.Config{
		Control:     ctl,
		Assembler:   asm,
		BootTimeout: cfg.GetBootTimeout(),
		FFCTimeout:  cfg.GetFFCTimeout(),
		Format:      cfg.GetPixelFormat(),
	})
	if err := lepton.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	if err := lepton.SetHMirror(cfg.GetHMirror()); err != nil {
		return nil, err
	}
	if err := lepton.SetVFlip(cfg.GetVFlip()); err != nil {
		return nil, err
	}
	return lepton, nil
}

// runSimulate writes frames from the simulator as a raw stream that
// -replay can play back.
func runSimulate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	out := fs.String("o", "", "Output file (default: stdout)")
	frames := fs.Int("frames", 9, "Number of frames to write")
	geom := fs.String("geometry", "80x60", "Frame geometry: 80x60 or 160x120")
	if err := fs.Parse(args); err != nil {
		return err
	}

	g, err := parseGeometry(*geom)
	if err != nil {
		return err
	}
	stream, err := simulator.NewStream(simulator.StreamConfig{Geometry: g, Scene: simulator.HotSpot})
	if err != nil {
		return err
	}
	defer stream.Close()

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return stream.WriteFrames(w, *frames)
}
