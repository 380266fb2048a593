package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/config"
	"github.com/banshee-data/roadway/internal/envmanager"
	"github.com/banshee-data/roadway/internal/frames"
	"github.com/banshee-data/roadway/internal/gnss"
	"github.com/banshee-data/roadway/internal/messages"
	"github.com/banshee-data/roadway/internal/recorder"
	"github.com/banshee-data/roadway/internal/timeutil"
	"github.com/banshee-data/roadway/internal/transport"
	"github.com/banshee-data/roadway/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to the node config JSON (defaults apply when empty)")
	listen      = flag.String("listen", ":8080", "HTTP listen address for /debug endpoints")
	busListen   = flag.String("bus-listen", transport.DefaultConfig().ListenAddr, "gRPC listen address for the bus bridge and transform service")
	devMode     = flag.Bool("dev", false, "Dev mode: announce SYSTEM_READY at startup")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig(path string) (*config.NodeConfig, error) {
	if path == "" {
		return config.EmptyNodeConfig(), nil
	}
	return config.LoadNodeConfig(path)
}

// nodeConfig maps the file configuration onto the node settings.
func nodeConfig(c *config.NodeConfig) envmanager.Config {
	cfg := envmanager.DefaultConfig()
	cfg.TickPeriod = c.GetTickPeriod()
	cfg.ShutdownOnAlert = c.GetShutdownOnAlert()
	cfg.ResolverTimeout = c.GetTransformServiceTimeout()
	if d := c.GetMapDatum(); d != nil {
		cfg.Datum = &frames.Datum{Latitude: d.Latitude, Longitude: d.Longitude, Altitude: d.Altitude}
	}
	size := c.GetHostVehicleSize()
	cfg.HostSize = messages.Vector3{X: size.X, Y: size.Y, Z: size.Z}
	return cfg
}

// resolverAddr is the external transform service to check at startup.
// It is empty when none is configured; the node's own listener is never
// probed since it would always answer.
func resolverAddr(c *config.NodeConfig) string {
	return c.GetTransformServiceAddr()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("envmanager %s\n", version.String())
		os.Exit(0)
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	fileCfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("envmanager %s starting", version.String())

	clock := timeutil.RealClock{}
	b := bus.New(bus.WithBuffer(fileCfg.GetTopicBuffer()), bus.WithClock(clock))
	defer b.Close()

	cfg := nodeConfig(fileCfg)
	if addr := resolverAddr(fileCfg); addr != "" {
		resolver, err := transport.Dial(addr)
		if err != nil {
			log.Fatalf("failed to create transform service client: %v", err)
		}
		defer resolver.Close()
		cfg.Resolver = resolver
	} else {
		log.Printf("no transform_service_addr configured, skipping transform service check")
	}
	node := envmanager.NewNode(cfg, b, clock)

	srvCfg := transport.DefaultConfig()
	srvCfg.ListenAddr = *busListen
	srv := transport.NewServer(srvCfg, b, node)
	if err := srv.Start(); err != nil {
		log.Fatalf("failed to start gRPC server: %v", err)
	}
	defer srv.Stop()

	var rec *recorder.Recorder
	if path := fileCfg.GetRecordDB(); path != "" {
		rec, err = recorder.Open(path)
		if err != nil {
			log.Fatalf("failed to open recorder database: %v", err)
		}
		defer rec.Close()
	}

	var reader *gnss.Reader
	if port := fileCfg.GetGNSSPort(); port != "" {
		reader, err = gnss.Open(gnss.OpenSerial, port, gnss.PortOptions{BaudRate: fileCfg.GetGNSSBaudRate()}, b, clock)
		if err != nil {
			log.Fatalf("failed to open GNSS receiver: %v", err)
		}
		defer reader.Close()
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rec != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(ctx, b, fileCfg.GetRecordRetention(), time.Hour)
		}()
	}

	if reader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reader.Run(ctx); err != nil {
				log.Printf("GNSS reader stopped: %v", err)
			}
			log.Print("GNSS routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		node.AttachAdminRoutes(mux)
		b.AttachAdminRoutes(mux)
		srv.AttachAdminRoutes(mux)
		version.AttachAdminRoutes(mux)
		if reader != nil {
			reader.AttachAdminRoutes(mux)
		}
		if rec != nil {
			if err := rec.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to mount recorder routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
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

	if *devMode {
		node.HandleMessage(bus.Message{Topic: messages.TopicSystemAlert, Payload: messages.SystemAlert{
			Type:        messages.AlertSystemReady,
			Description: "dev mode",
			Source:      "envmanager/dev",
		}})
	}

	// The node runs on the main goroutine; a SHUTDOWN alert ends it and
	// takes the rest of the process down with it.
	err = node.Run(ctx)
	if errors.Is(err, envmanager.ErrShutdownRequested) {
		log.Print("shutdown requested on system_alert")
	} else if err != nil {
		log.Printf("node stopped: %v", err)
	}
	stop()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
