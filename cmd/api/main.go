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

	"github.com/joho/godotenv"

	"github.com/facial-sign-on/internal/config"
	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/infrastructure/axiam"
	"github.com/facial-sign-on/internal/infrastructure/dynamo"
	jwtinfra "github.com/facial-sign-on/internal/infrastructure/jwt"
	"github.com/facial-sign-on/internal/infrastructure/memory"
	"github.com/facial-sign-on/internal/infrastructure/redis"
	s3infra "github.com/facial-sign-on/internal/infrastructure/s3"
	"github.com/facial-sign-on/internal/infrastructure/smtp"
	transporthttp "github.com/facial-sign-on/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	production := cfg.AppEnv == "production"

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Token cache and relay broker. Several API processes must share one Redis; the
	// in-process store only works for a single development process.
	var (
		cache  domain.Cache
		broker domain.Broker
	)
	if cfg.CacheURL != "" {
		client, err := redis.NewClient(ctx, cfg.CacheURL)
		if err != nil {
			log.Fatalf("cache: %v", err)
		}
		defer client.Close()
		cache = redis.NewCache(client, "")
		broker = redis.NewBroker(client, cfg.ChannelNamespace)
	} else {
		if production {
			log.Fatal("CACHE_URL is required in production")
		}
		log.Println("WARN: CACHE_URL not set, using in-process token cache and relay broker")
		mc := memory.NewCache()
		go mc.RunJanitor(ctx, time.Minute)
		cache = mc
		broker = memory.NewBroker()
	}

	vendor := axiam.NewClient(axiam.Config{
		BaseURL:   cfg.AxiamAPIBase,
		APIKey:    cfg.AxiamAPIKey,
		SecretKey: cfg.AxiamSecretKey,
		Domain:    cfg.AxiamDomain,
		Timeout:   cfg.AxiamHTTPTimeout,
	}, cache)

	// Session signing keys. Outside production a missing key pair falls back to a
	// throwaway one.
	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		if production {
			log.Fatalf("JWT provider: %v", err)
		}
		log.Printf("WARN: JWT keys not available (%v), using an ephemeral key pair", err)
		if jwtProvider, err = jwtinfra.NewEphemeralProvider(cfg.JWTExpiry); err != nil {
			log.Fatalf("JWT provider: %v", err)
		}
	}
	relayTokens := jwtinfra.NewRelayTokens(cfg.RelayJWTSecret, cfg.RelayTokenTTL)
	if !relayTokens.Enabled() {
		log.Println("WARN: no relay signing secret, GET /auth/token is disabled")
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	s3Store := s3infra.NewStore(s3infra.NewClient(cfg), cfg.S3BucketName)

	deps := &transporthttp.Deps{
		Users:       dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		Sessions:    dynamo.NewSessionRepo(dynamoClient, cfg.DynamoTables.Sessions),
		Cache:       cache,
		Broker:      broker,
		Vendor:      vendor,
		Avatars:     s3Store,
		Mailer:      smtp.NewMailer(cfg),
		JWTProvider: jwtProvider,
		RelayTokens: relayTokens,
	}

	router := transporthttp.NewRouter(ctx, cfg, deps)

	// No WriteTimeout: relay sockets on /cable stay open for the whole login.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, login_strategy=%s)", cfg.AppPort, cfg.AppEnv, cfg.LoginStrategy)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
