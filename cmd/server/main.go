package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lostmatch/internal/api"
	"lostmatch/internal/config"
	"lostmatch/internal/db"
	"lostmatch/internal/extractor"
	"lostmatch/internal/fingerprint"
	"lostmatch/internal/notify"
	"lostmatch/internal/repository"
	"lostmatch/internal/scoring"
	"lostmatch/internal/search"
	"lostmatch/internal/services"
	"lostmatch/internal/telemetry"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

This main function demonstrates:
1. Service initialization and dependency injection
2. Concurrent server, worker pool and event hub management
3. Distributed tracing with Jaeger
4. Graceful shutdown handling (listening for SIGINT/SIGTERM)
5. Proper resource cleanup order
*/

func main() {
	log.Println("🚀 Starting lost & found matching engine...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing
	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("lostmatch", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database (runs migrations and vector indexes)
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize extractor sidecar client
	extractorClient := extractor.NewClient(cfg.ExtractorBaseURL, cfg.ExtractorAPIKey)
	log.Println("✓ Extractor client initialized")

	// Initialize repositories
	fpRepo := repository.NewFingerprintRepository(database.DB)
	matchRepo := repository.NewMatchRepository(database.DB)
	feedbackRepo := repository.NewFeedbackRepository(database.DB)
	weightRepo := repository.NewWeightRepository(database.DB)
	caseRepo := repository.NewCaseRepository(database.DB)

	// Seed the global weight profile on first boot so scoring always has
	// an active config to resolve
	if err := weightRepo.EnsureDefault(context.Background()); err != nil {
		log.Fatalf("❌ Failed to seed default weight profile: %v", err)
	}

	// Initialize WebSocket event hub for case subscribers
	hub := notify.NewHub()
	hub.Start()

	// Initialize the fingerprint build pipeline with worker pool
	// Learning: This creates the worker pool but doesn't start it yet
	hasher := fingerprint.NewHasher(cfg.EmbeddingDim, cfg.LSHSeed)
	builder := fingerprint.NewBuilder(
		fpRepo,
		extractorClient,
		hub,
		hasher,
		cfg.EntityConfidenceFloor,
		cfg.FingerprintWorkers,
		cfg.FingerprintQueueSize,
	)

	// Start the worker pool
	// Learning: This spawns goroutines that will process jobs concurrently
	builder.Start()

	// Initialize scoring: component scorer + cached profile resolver
	scorer := scoring.NewScorer(cfg.EntityConfidenceFloor)
	resolver := scoring.NewResolver(weightRepo, scoring.Thresholds{
		MinScore:       cfg.MinMatchScore,
		Probable:       cfg.ProbableScore,
		HighConfidence: cfg.HighConfidenceScore,
	})

	// Initialize the cascade search engine
	engine := search.NewEngine(fpRepo, matchRepo, scorer, resolver, hub, search.Config{
		MinCandidates: cfg.CascadeMinCandidates,
		MaxResults:    cfg.SearchMaxResults,
		EntityFloor:   cfg.EntityConfidenceFloor,
	})

	// Initialize review and tuning services
	feedbackService := services.NewFeedbackService(matchRepo, feedbackRepo, weightRepo, caseRepo, cfg.MinMatchScore)
	tuningService := services.NewTuningService(
		feedbackRepo,
		weightRepo,
		resolver,
		cfg.TuningHoldoutFraction,
		cfg.TuningMinSamples,
		cfg.MinMatchScore,
	)

	// Initialize handlers with dependency injection
	handler := api.NewHandler(
		fpRepo,
		matchRepo,
		weightRepo,
		builder,
		engine,
		feedbackService,
		tuningService,
		hub,
		cfg.SearchMaxResults,
	)

	// Setup routes
	router := api.SetupRoutes(handler)

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	// Learning: This allows us to handle shutdown signals concurrently
	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 API Endpoints:")
		log.Printf("   POST   /api/fingerprints               - Submit photo for fingerprinting")
		log.Printf("   GET    /api/fingerprints/:id           - Get fingerprint")
		log.Printf("   POST   /api/fingerprints/:id/matches   - Run match search")
		log.Printf("   GET    /api/cases/:id/matches          - List matches for case")
		log.Printf("   GET    /api/matches/:id                - Get match (marks viewed)")
		log.Printf("   POST   /api/matches/:id/feedback       - Submit verdict")
		log.Printf("   POST   /api/weights/:name/retrain      - Start weight tuning run")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	// Shutdown HTTP server with timeout
	// Learning: Give the server 30 seconds to finish existing requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Shutdown fingerprint builder
	// Learning: This waits for workers to finish their current jobs
	builder.Shutdown()

	// Shutdown WebSocket event hub
	hub.Shutdown()

	log.Println("✓ Server shutdown complete")
}
