package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/pysugar/casdoor-dify-bridge/internal/account"
	"github.com/pysugar/casdoor-dify-bridge/internal/auth/token"
	"github.com/pysugar/casdoor-dify-bridge/internal/casdoor"
	"github.com/pysugar/casdoor-dify-bridge/internal/config"
	"github.com/pysugar/casdoor-dify-bridge/internal/db"
	"github.com/pysugar/casdoor-dify-bridge/internal/handlers"
	"github.com/pysugar/casdoor-dify-bridge/internal/logging"
	"github.com/pysugar/casdoor-dify-bridge/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Relational store
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(database); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	} else if err := db.CheckSchema(database); err != nil {
		// Missing tables mean we are pointed at the wrong database; there is
		// nothing a retry can do about it.
		log.Fatalf("Schema check failed: %v", err)
	}

	// Refresh-token cache
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	verifier, err := casdoor.NewVerifier(cfg.Casdoor.Certificate, cfg.Casdoor.ClientID, cfg.Leeway())
	if err != nil {
		log.Fatalf("Invalid Casdoor certificate: %v", err)
	}

	deps := &handlers.Deps{
		Config: cfg,
		Casdoor: casdoor.NewClient(cfg.Casdoor.Endpoint, cfg.Casdoor.ClientID,
			cfg.Casdoor.ClientSecret, cfg.Casdoor.Scope, config.DefaultExchangeTimeout),
		Verifier:    verifier,
		Provisioner: account.NewProvisioner(database),
		Issuer:      token.NewIssuer(cfg.SecretKey, rdb),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(logging.Middleware)

	// Plugin-style single endpoint
	r.Get("/casdoor", handlers.ActionHandler(deps))

	// Route-per-action variant
	r.Get("/casdoor/login", handlers.LoginHandler(deps))
	r.Get("/casdoor/signup", handlers.SignupHandler(deps))
	r.Get("/casdoor/callback", handlers.CallbackHandler(deps))

	r.Get("/healthz", handlers.HealthzHandler(database, rdb))

	log.Printf("🚀 Casdoor login bridge %s starting on %s", version.Version, cfg.ListenAddr)
	log.Printf("🔗 Casdoor endpoint: %s", cfg.Casdoor.Endpoint)
	if cfg.Casdoor.Organization != "" || cfg.Casdoor.Application != "" {
		log.Printf("🔗 Casdoor org/app: %s/%s", cfg.Casdoor.Organization, cfg.Casdoor.Application)
	}
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
