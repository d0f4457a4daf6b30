package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"readalonggo/internal/auth"
	"readalonggo/internal/config"
	"readalonggo/internal/database/db_client"
	"readalonggo/internal/http/http_server"
	"readalonggo/internal/redis/redis_client"
	"readalonggo/internal/services/session"
	"readalonggo/internal/store/meetingstore"
	"readalonggo/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis (display-info cache)
	redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// 4. Postgres db client (durable meeting records)
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	// 5. Durable store collaborator + session coordinator
	meetingStore := meetingstore.NewMeetingStore(redisClient, pgDb,
		time.Duration(cfg.DisplayCacheTTLSec)*time.Second)
	sessionSvc := session.NewSessionService(meetingStore,
		time.Duration(cfg.RoomEmptyGraceSec)*time.Second,
		time.Duration(cfg.RoomSweepIntervalSec)*time.Second,
	)

	// 6. Background: abandoned-room reaper
	go sessionSvc.RunReaper(ctx)

	// 7. Connection tokens + WS gateway
	tokens := auth.NewTokenParser(cfg.TokenSecret)
	wsSrv := ws.NewWsServer(sessionSvc, tokens)

	// 8. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
