package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/event"
	"github.com/vanish-chat/vanish/internal/httpapi"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/message"
	"github.com/vanish-chat/vanish/internal/ratelimit"
	"github.com/vanish-chat/vanish/internal/realtime"
	"github.com/vanish-chat/vanish/internal/room"
)

func main() {
	listenAddr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}

	roomTTL := room.DefaultTTL
	if v := os.Getenv("ROOM_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			roomTTL = d
		}
	}

	apiConfig := httpapi.DefaultConfig()
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			apiConfig.RequestTimeout = d
		}
	}
	apiConfig.CookieSecure = os.Getenv("COOKIE_SECURE") == "true"
	apiConfig.EnableDebug = os.Getenv("DEBUG_ENDPOINTS") == "true"
	allowQueryToken := os.Getenv("ALLOW_QUERY_TOKEN") == "true"

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- NATS ---
	busConfig := event.DefaultBusConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		busConfig.URL = v
	}
	bus, err := event.NewBus(busConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	rooms := room.NewStore(rdb, roomTTL)
	gate := room.NewGate(rdb)
	messages := message.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb)
	resolver := auth.NewResolver(rooms, allowQueryToken)
	controller := lifecycle.NewController(rooms, gate, messages, bus, limiter)
	gateway := realtime.NewGateway(resolver, bus)
	api := httpapi.New(controller, resolver, gateway, apiConfig)

	log.Printf("Vanish room server starting")
	log.Printf("  listen_addr:       %s", listenAddr)
	log.Printf("  room_ttl:          %s", roomTTL)
	log.Printf("  request_timeout:   %s", apiConfig.RequestTimeout)
	log.Printf("  redis_addr:        %s", redisAddr)
	log.Printf("  nats_url:          %s", busConfig.URL)
	log.Printf("  cookie_secure:     %v", apiConfig.CookieSecure)
	log.Printf("  allow_query_token: %v", allowQueryToken)
	log.Printf("  debug_endpoints:   %v", apiConfig.EnableDebug)

	server := &http.Server{
		Addr:    listenAddr,
		Handler: api.Router(),
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}

		gateway.Close()
		bus.Close()
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
