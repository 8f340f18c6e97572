package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicebridge/internal/config"
	"voicebridge/internal/connection"
	"voicebridge/internal/device"
	"voicebridge/internal/discovery"
	"voicebridge/internal/event"
	"voicebridge/internal/handler"
	"voicebridge/internal/hub"
	"voicebridge/internal/registry"
)

func main() {
	// Command line flags
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "", "config file path")
	dbPath := flag.String("db", "", "device registry path (overrides config)")
	discoverOnStart := flag.Bool("discover", false, "run a discovery session at startup")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting voicebridge daemon...")

	// Load configuration
	var cfg *config.Config
	var loadedFrom string
	var err error
	if *configPath != "" {
		cfg, loadedFrom, err = config.LoadFromPath(*configPath)
	} else {
		cfg, loadedFrom, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if loadedFrom != "" {
		log.Printf("Config loaded: %s", loadedFrom)
	} else {
		log.Println("No config file found, using defaults")
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Registry.Path = *dbPath
	}

	// Open device registry
	store, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		log.Fatalf("Failed to open device registry: %v", err)
	}
	defer store.Close()
	log.Printf("Device registry opened: %s", cfg.Registry.Path)

	// Initialize event bus
	bus := event.NewBus()

	// Initialize SSE hub
	sseHub := hub.New()
	go sseHub.Run()

	// Bridge core events to the SSE hub and persist discovered devices
	events := make(chan event.Event, 100)
	bus.Subscribe(events)
	go func() {
		for ev := range events {
			sseHub.Broadcast(ev)

			switch ev.Type {
			case event.EventDeviceDiscovered:
				if d, ok := ev.Payload.(device.Device); ok {
					if err := store.Upsert(context.Background(), d); err != nil {
						log.Printf("Failed to persist device %s: %v", d.Key(), err)
					}
				}
			case event.EventDiscoveryCompleted:
				if payload, ok := ev.Payload.(discovery.CompletedPayload); ok {
					for _, d := range payload.Devices {
						if err := store.Upsert(context.Background(), d); err != nil {
							log.Printf("Failed to persist device %s: %v", d.Key(), err)
						}
					}
				}
			}
		}
	}()

	// Initialize discovery engine and connection manager
	engine := discovery.New(cfg, bus)
	manager := connection.NewManager(cfg, bus)

	if *discoverOnStart {
		go func() {
			if _, err := engine.Discover(context.Background()); err != nil {
				log.Printf("Startup discovery failed: %v", err)
			}
		}()
	}

	// Register routes
	mux := http.NewServeMux()
	handler.New(engine, manager, store).Routes(mux)
	mux.Handle("GET /events", sseHub)

	// Apply middleware
	finalHandler := handler.Chain(mux,
		handler.Recover,
		handler.CORS,
		handler.Logger,
	)

	// Create server
	server := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      finalHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("API listening on %s", cfg.API.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Close the device connection deliberately so the peer sees a
	// clean shutdown
	manager.Disconnect()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Daemon stopped")
}
