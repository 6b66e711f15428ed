package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"timekeeper-go/internal/cleanup"
	"timekeeper-go/internal/config"
	"timekeeper-go/internal/core/attendance"
	"timekeeper-go/internal/core/sampler"
	"timekeeper-go/internal/database"
	"timekeeper-go/internal/handlers"
	"timekeeper-go/internal/integrations/faceapi"
	"timekeeper-go/internal/integrations/opencv"
	"timekeeper-go/internal/ledger"
	"timekeeper-go/internal/logger"
	"timekeeper-go/internal/mqtt"
	"timekeeper-go/internal/pipeline"
	"timekeeper-go/internal/recognition"
	"timekeeper-go/internal/server/sse"
	"timekeeper-go/internal/util/timezone"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	configPath := defaultConfigPath
	if p := os.Getenv("TIMEKEEPER_CONFIG"); p != "" {
		configPath = p
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log); err != nil {
		// Log the error but continue, the logger might have defaulted
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	// Timestamps follow the host timezone (TZ env)
	timezone.Initialize()

	// Initialize database connection
	log.Info("Initializing database...")
	if err := database.Init(cfg.DB); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Info("Database initialization complete.")

	// Open the attendance ledger
	led, closeLedger, err := openLedger(cfg.Ledger)
	if err != nil {
		log.Fatalf("Failed to open attendance ledger: %v", err)
	}
	if closeLedger != nil {
		defer closeLedger()
	}

	// Build the decision engine, restoring per-identity state from the ledger
	engine, err := attendance.NewEngine(attendance.Config{
		Threshold: cfg.Recognition.Threshold,
		Cooldown:  time.Duration(cfg.Attendance.CooldownSeconds) * time.Second,
	}, led)
	if err != nil {
		log.Fatalf("Failed to initialize attendance engine: %v", err)
	}
	log.Infof("Attendance engine ready (threshold=%.2f, cooldown=%ds, %d identities restored)",
		cfg.Recognition.Threshold, cfg.Attendance.CooldownSeconds, len(engine.States()))

	// Rebuild the embedding catalog from enrolled faces
	catalog := recognition.NewCatalog()
	if _, err := recognition.LoadCatalog(database.DB, catalog); err != nil {
		log.Fatalf("Failed to load embedding catalog: %v", err)
	}

	// Face detection/embedding service
	faceClient := faceapi.NewClient(cfg.FaceAPI)
	adapter := recognition.NewAdapter(faceClient, catalog, cfg.Recognition.Threshold)
	enroller := recognition.NewEnroller(database.DB, faceClient, catalog)

	// SSE hub for the live event stream
	hub := sse.NewHub()
	go hub.Run()

	// Initialize Cleanup Service
	cleanupService := cleanup.NewService(cfg.Cleanup.RetentionDays, cfg.Server.SnapshotDir, 24*time.Hour)
	if cleanupService != nil {
		cleanupService.StartBackgroundCleanup()
	}
	defer cleanupService.StopBackgroundCleanup()

	// Initialize MQTT Client if enabled
	sinks := []pipeline.EventSink{hub}
	mqttClient := mqtt.NewClient(cfg.MQTT)
	if cfg.MQTT.Enabled {
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		} else {
			defer mqttClient.Stop()
			sinks = append(sinks, mqttClient)
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// --- Capture pipeline ---
	if cfg.Capture.Enabled {
		// A capture session cannot start without the recognition service.
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
		ok, err := faceClient.Ping(pingCtx)
		cancelPing()
		if err != nil || !ok {
			log.Fatalf("Recognition service is unavailable, cannot start capture session: %v", err)
		}

		webcam, err := opencv.OpenWebcam(cfg.Capture)
		if err != nil {
			log.Fatalf("Failed to open capture device: %v", err)
		}
		defer webcam.Close()

		p := pipeline.New(webcam, sampler.New(cfg.Capture.FrameSkip), adapter, engine, sinks...)
		go func() {
			// Session failure (e.g. recognition service gone) ends capture but
			// leaves the API and ledger available.
			if err := p.Run(context.Background()); err != nil {
				log.Errorf("Capture session %s aborted: %v", p.SessionID(), err)
				return
			}
			log.Infof("Capture session %s finished", p.SessionID())
		}()
	} else {
		log.Info("Local capture is disabled in config.")
	}

	// --- Setup API Handlers & Router ---
	apiHandler := handlers.NewAPIHandler(cfg, database.DB, led, engine, enroller, catalog, hub)

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.Recoverer)
	apiRouter.Use(middleware.RequestID)
	apiRouter.Use(middleware.Logger)

	apiHandler.RegisterRoutes(apiRouter)

	// --- Setup Main HTTP Router ---
	mainRouter := chi.NewRouter()
	mainRouter.Use(middleware.Recoverer)

	mainRouter.Mount("/api", apiRouter)

	// Serve snapshot images
	fs := http.FileServer(http.Dir(cfg.Server.SnapshotDir))
	mainRouter.Mount("/snapshots", http.StripPrefix("/snapshots", fs))
	log.Infof("Serving snapshots from %s under /snapshots/ route", cfg.Server.SnapshotDir)

	// Start the server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Infof("Starting server on %s", serverAddr)
	if err := http.ListenAndServe(serverAddr, mainRouter); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Info("Server stopped.")
}

// openLedger selects the ledger backend from configuration. The returned
// close function may be nil.
func openLedger(cfg config.LedgerConfig) (ledger.Ledger, func() error, error) {
	switch cfg.Driver {
	case "csv", "":
		l, err := ledger.OpenCSV(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Using CSV attendance ledger at %s", cfg.File)
		return l, l.Close, nil
	case "sqlite":
		log.Info("Using SQLite attendance ledger")
		return ledger.NewSQLite(database.DB), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver '%s'", cfg.Driver)
	}
}
