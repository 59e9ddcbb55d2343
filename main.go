package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"game-state-sync/handlers"
	"game-state-sync/middleware"
	"game-state-sync/models"
	"game-state-sync/services"
	"game-state-sync/utils"
	"game-state-sync/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout: 30 * time.Second,
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Player-ID, X-Session-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.PlayerState{},
		&models.Match{},
		&models.PendingPayout{},
		&models.AbuseReport{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	cacheService, err := services.NewCacheService(redisAddr, os.Getenv("REDIS_PASSWORD"), envInt("REDIS_DB", 0))
	if err != nil {
		log.Fatal("failed to connect to redis:", err)
	}

	storeService := services.NewStoreService(db)
	stateService := services.NewStateService(cacheService, storeService)
	stateService.CacheTTL = envDuration("STATE_CACHE_TTL", stateService.CacheTTL)

	detector := services.NewAutomationDetector(services.DefaultDetectorConfig())
	actorQueue := services.NewActorQueue(envDuration("QUEUE_WAIT_TIMEOUT", 5*time.Second))
	leaderboardService := services.NewLeaderboardService(cacheService, os.Getenv("LEADERBOARD_NAME"))

	actionCfg := services.DefaultActionConfig()
	actionCfg.BaseReward = int64(envInt("BASE_REWARD", int(actionCfg.BaseReward)))
	actionCfg.ActionCooldown = envDuration("ACTION_COOLDOWN", actionCfg.ActionCooldown)
	actionCfg.TapLimit = envInt("TAP_LIMIT", actionCfg.TapLimit)
	actionCfg.TapWindow = envDuration("TAP_WINDOW", actionCfg.TapWindow)
	actionService := services.NewActionService(actorQueue, cacheService, detector, stateService, leaderboardService, actionCfg)

	matchCfg := services.DefaultMatchConfig()
	matchCfg.DefaultStake = int64(envInt("MATCH_STAKE", int(matchCfg.DefaultStake)))
	matchCfg.MatchDuration = envDuration("MATCH_DURATION", matchCfg.MatchDuration)
	if v := os.Getenv("MATCH_PAYOUT_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			matchCfg.PayoutFraction = f
		}
	}
	matchService := services.NewMatchService(storeService, stateService, cacheService, matchCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payoutWorker := workers.NewPayoutRetryWorker(storeService, stateService)
	go payoutWorker.Run(ctx, envDuration("PAYOUT_RETRY_INTERVAL", 30*time.Second))

	abuseWorker := workers.NewAbuseFlushWorker(storeService, detector.Reports())
	go abuseWorker.Run(ctx, 15*time.Second, time.Hour)

	services.StartMaintenanceScheduler(matchService, detector)

	handlers.SetupActionRoutes(app, actionService)
	handlers.SetupMatchRoutes(app, matchService, detector)
	handlers.SetupLeaderboardRoutes(app, leaderboardService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ State sync service running on http://localhost:%s", port)
	log.Println("✅ Payout retry worker running")
	log.Println("✅ Abuse report flush worker running")
	log.Println("✅ Maintenance scheduler running (settlement, queue eviction, detector prune)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, v, fallback)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, v, fallback)
	}
	return fallback
}
