package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/offboard/internal/config"
	"github.com/banshee-data/offboard/internal/controller"
	"github.com/banshee-data/offboard/internal/db"
	"github.com/banshee-data/offboard/internal/health"
	"github.com/banshee-data/offboard/internal/mavlink"
	"github.com/banshee-data/offboard/internal/report"
	"github.com/banshee-data/offboard/internal/serialmux"
	"github.com/banshee-data/offboard/internal/sim"
	"github.com/banshee-data/offboard/internal/version"
)

var (
	configPath  = flag.String("config", "", "Mission config file (.json, .yaml); defaults are used when empty")
	missionName = flag.String("mission", "", "Mission to fly: avoidance, delivery or homing (overrides the config)")
	dbPath      = flag.String("db", "flight.db", "Flight log database")
	listen      = flag.String("listen", ":8080", "Listen address for the debug server")
	grpcListen  = flag.String("grpc-listen", "localhost:50051", "Listen address for the gRPC health service; empty disables it")
	mavEndpoint = flag.String("mavlink", "", "MAVLink endpoint (overrides the config), e.g. udp-server:0.0.0.0:14540")
	visionPort  = flag.String("vision-port", "", "Vision/range serial device (overrides the config); \"none\" disables it")
	devMode     = flag.Bool("dev", false, "Fly against the built-in simulator instead of hardware")
	worldPath   = flag.String("world", "", "Simulator world file (JSON), dev mode only")
	autoStart   = flag.Bool("start", false, "Start the mission immediately")
	exitDone    = flag.Bool("exit-when-done", false, "Exit once the mission reaches a terminal or abort state")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("mission " + version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyMissionConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadMissionConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *missionName != "" {
		cfg.Mission = missionName
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	kind := cfg.GetMission()
	settings := cfg.Settings()
	log.Printf("mission %s, tick period %s, build %s", kind, settings.TickPeriod, version.String())

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open flight log: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	topics := controller.NewTopics()
	decoder := serialmux.NewDecoder(topics.Vision, topics.Range)

	var (
		publishers []controller.Publisher
		serialPort serialmux.SerialMuxInterface
		simulator  *sim.Sim
	)
	if *devMode {
		world, err := loadWorld(*worldPath)
		if err != nil {
			log.Fatalf("failed to load world: %v", err)
		}
		simCfg := sim.DefaultConfig()
		simCfg.Period = settings.TickPeriod
		simulator = sim.New(simCfg, world, sim.Outputs{Position: topics.Position, Serial: decoder.Handle}, nil)
		if err := simulator.Emit(); err != nil {
			log.Printf("failed to emit initial sensor data: %v", err)
		}
		publishers = append(publishers, simulator)
		serialPort = serialmux.NewDisabledSerialMux("dev mode: the simulator feeds the decoder")
		log.Printf("dev mode: simulating %d obstacles", len(world.Obstacles))
	} else {
		endpoint := cfg.GetMAVLinkEndpoint()
		if *mavEndpoint != "" {
			endpoint = *mavEndpoint
		}
		bridge, err := mavlink.NewBridge(mavlink.Config{
			Endpoint: endpoint,
			SystemID: cfg.GetMAVLinkSystemID(),
		}, mavlink.Sink{Position: topics.Position, Range: topics.Range})
		if err != nil {
			log.Fatalf("failed to open mavlink endpoint %s: %v", endpoint, err)
		}
		defer bridge.Close()
		publishers = append(publishers, bridge)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("mavlink bridge stopped: %v", err)
			}
			log.Print("mavlink routine terminated")
		}()

		device := cfg.GetSerialPort()
		if *visionPort != "" {
			device = *visionPort
		}
		if device == "none" {
			serialPort = serialmux.NewDisabledSerialMux("disabled with -vision-port none")
		} else {
			port, err := serialmux.NewRealSerialMux(device, cfg.GetSerialOptions())
			if err != nil {
				log.Fatalf("failed to open vision port: %v", err)
			}
			serialPort = port
		}
	}
	defer serialPort.Close()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serialPort.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := decoder.Run(ctx, serialPort); err != nil && err != context.Canceled {
			log.Printf("decoder stopped: %v", err)
		}
		log.Print("decoder routine terminated")
	}()

	var onRunning func(bool)
	if *grpcListen != "" {
		hs := health.New(*grpcListen)
		if err := hs.Start(); err != nil {
			log.Fatalf("failed to start health service: %v", err)
		}
		defer hs.Stop()
		onRunning = hs.SetRunning
	}

	ctrl := controller.New(controller.Config{
		Mission:      kind,
		Settings:     settings,
		Topics:       topics,
		Publishers:   publishers,
		Log:          store,
		StopWhenDone: *exitDone,
		OnRunning:    onRunning,
	})

	mux := http.NewServeMux()
	ctrl.AttachAdminRoutes(mux)
	serialPort.AttachAdminRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		log.Fatalf("failed to attach db routes: %v", err)
	}
	report.AttachAdminRoutes(mux, store, settings.TickPeriod)
	if simulator != nil {
		simulator.AttachAdminRoutes(mux)
	}

	server := &http.Server{
		Addr:    *listen,
		Handler: mux,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shutdown server: %v", err)
		}
		log.Print("HTTP server routine terminated")
	}()

	if *autoStart {
		if err := ctrl.Start(); err != nil {
			log.Fatalf("failed to start mission: %v", err)
		}
	}

	if *exitDone && *autoStart {
		if err := ctrl.Wait(); err != nil {
			log.Printf("mission ended: %v", err)
		}
		stop()
	} else {
		<-ctx.Done()
	}

	if err := ctrl.Stop(); err != nil {
		log.Printf("mission ended: %v", err)
	}
	wg.Wait()
	log.Printf("final state %s", ctrl.Status().State)
}

// loadWorld reads a simulator world. An empty path gives the default world:
// one obstacle on the avoidance course and a marker for homing.
func loadWorld(path string) (sim.World, error) {
	if path == "" {
		return sim.World{
			Obstacles: []sim.Obstacle{{X: 5, Y: 0, Radius: 0.5}},
			Marker:    &r3.Vector{X: 2, Y: 1.5},
		}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sim.World{}, err
	}
	var w sim.World
	if err := json.Unmarshal(data, &w); err != nil {
		return sim.World{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return w, nil
}
