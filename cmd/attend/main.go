package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/campus-sensing/presence.report/internal/api"
	"github.com/campus-sensing/presence.report/internal/config"
	"github.com/campus-sensing/presence.report/internal/db"
	"github.com/campus-sensing/presence.report/internal/ledger"
	"github.com/campus-sensing/presence.report/internal/monitoring"
	"github.com/campus-sensing/presence.report/internal/pipeline"
	"github.com/campus-sensing/presence.report/internal/schedule"
	"github.com/campus-sensing/presence.report/internal/timeutil"
	"github.com/campus-sensing/presence.report/internal/track"
	"github.com/campus-sensing/presence.report/internal/version"
	"github.com/campus-sensing/presence.report/internal/vision"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	dbFile      = flag.String("db", "attendance.db", "Path to the SQLite database file")
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the tuning config JSON")
	cameraID    = flag.Int("camera", 0, "Capture device index")
	cascadePath = flag.String("cascade", "haarcascade_frontalface_default.xml", "Haar cascade file for face detection")
	modelPath   = flag.String("model", "trainer.yml", "Trained recognizer model (missing file runs detection-only)")
	replayFile  = flag.String("replay", "", "Replay a recorded frame fixture instead of opening the camera")
)

func main() {
	// Optional .env for site-local settings; absence is not an error.
	_ = godotenv.Load()

	// The migrate subcommand bypasses normal startup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		migrateFlags := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := migrateFlags.String("db", "attendance.db", "Path to the SQLite database file")
		migrateFlags.Parse(os.Args[2:])
		db.RunMigrateCommand(migrateFlags.Args(), *path)
		return
	}

	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("attend %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := config.LoadOrDefault(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid tuning config: %v", err)
	}

	var src vision.Source
	if *replayFile != "" {
		var err error
		src, err = vision.LoadScript(*replayFile)
		if err != nil {
			log.Fatalf("Failed to load replay fixture: %v", err)
		}
		log.Printf("replaying frames from %s", *replayFile)
	} else {
		var err error
		src, err = vision.NewCameraSource(*cameraID, *cascadePath, *modelPath)
		if err != nil {
			log.Fatalf("Failed to open camera: %v", err)
		}
	}
	defer src.Close()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	clock := timeutil.RealClock{}
	counters := &monitoring.PipelineCounters{}
	resolver := schedule.New(database, clock, cfg.GetGracePeriod(), cfg.GetScheduleCacheTTL())
	tracker := track.NewTracker(cfg)

	led := ledger.New(database, cfg)
	today := ledger.DateOf(clock.Now())
	if err := led.LoadDay(today); err != nil {
		log.Printf("failed to warm ledger for %s: %v", today, err)
	}

	pipe := pipeline.New(cfg, src, tracker, resolver, led, clock, counters)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// frame loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("frame loop failed: %v", err)
		}
		log.Print("frame loop terminated")
	}()

	// ledger persistence loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipe.RunPersister(ctx)
		log.Print("persister routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(database, led, resolver, tracker, counters, clock).ServeMux()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
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
