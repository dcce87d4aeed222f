package server

import (
	"context"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/SplitFi/go-oasis/env"
	"github.com/SplitFi/go-oasis/middleware"
	"github.com/SplitFi/go-oasis/service/logger"
)

// Init initializes the server
func Init() {
	SetDefaults()
	registerValidations()
	env.ValidateEnv()

	ctx := context.Background()
	c := ClientInit(ctx)
	router := CoreInit(ctx, c)

	logger.For(nil).Info("Starting oasis server...")
	http.Handle("/", router)
}

// CoreInit initializes core server functionality. This is abstracted
// so the test server can also utilize it
func CoreInit(ctx context.Context, c *Clients) *gin.Engine {
	InitSentry()
	logger.InitWithGCPDefaults()

	if env.GetString("ENV") != "production" {
		gin.SetMode(gin.DebugMode)
		logrus.SetLevel(logrus.DebugLevel)
	}

	router := gin.New()
	router.Use(gin.Logger(), middleware.GinContextToContext(), middleware.Sentry(false), middleware.HandleCORS(), middleware.ErrLogger())

	logger.For(nil).Info("Registering handlers...")

	return handlersInit(router, c)
}

// SetDefaults sets the default configuration and reads overrides from the environment
func SetDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("PORT", 4000)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("LEDGER_BACKEND", "memory")
	viper.SetDefault("LOCK_BACKEND", "local")
	viper.SetDefault("CONTENT_BACKEND", "memory")
	viper.SetDefault("REGISTRY_BACKEND", "memory")
	viper.SetDefault("IPFS_API_URL", "https://ipfs.infura.io:5001")
	viper.SetDefault("IPFS_PROJECT_ID", "")
	viper.SetDefault("IPFS_PROJECT_SECRET", "")
	viper.SetDefault("IPFS_GATEWAYS", "https://gateway.pinata.cloud,https://ipfs.io")
	viper.SetDefault("IPFS_OFFLINE_READS", true)
	viper.SetDefault("CONTENT_CACHE_SIZE", 1024)
	viper.SetDefault("PIN_RETRY_MAX_ELAPSED", "30s")
	viper.SetDefault("POSTGRES_HOST", "0.0.0.0")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "postgres")
	viper.SetDefault("POSTGRES_DB", "postgres")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("REDIS_PASS", "")
	viper.SetDefault("LOCK_TTL", "30s")
	viper.SetDefault("RPC_URL", "http://localhost:8545")
	viper.SetDefault("CHAIN_ID", 31337)
	viper.SetDefault("REGISTRY_ADDRESS", "0x5fbdb2315678afecb367f032d93f642f64180aa3")
	viper.SetDefault("REGISTRY_PRIVATE_KEY", "")
	viper.SetDefault("LEDGER_OPERATOR", "")
	viper.SetDefault("NATS_URL", "")
	viper.SetDefault("NATS_SUBJECT_PREFIX", "oasis.")
	viper.SetDefault("ENRICH_WORKERS", 10)
	viper.SetDefault("ENRICH_ITEM_TIMEOUT", "20s")
	viper.SetDefault("SENTRY_DSN", "")
	viper.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.2)
	viper.SetDefault("VERSION", "")
	viper.SetDefault("UPLOAD_MAX_BYTES", 32<<20)

	viper.AutomaticEnv()
}

func registerValidations() {
	env.RegisterValidation("LEDGER_BACKEND", "oneof=memory postgres")
	env.RegisterValidation("LOCK_BACKEND", "oneof=local redis")
	env.RegisterValidation("CONTENT_BACKEND", "oneof=memory ipfs")
	env.RegisterValidation("REGISTRY_BACKEND", "oneof=memory eth")
	env.RegisterValidation("REGISTRY_ADDRESS", "required")
	env.RegisterValidation("ENRICH_WORKERS", "numeric,min=1")
	env.RegisterValidation("UPLOAD_MAX_BYTES", "numeric")

	if env.GetString("CONTENT_BACKEND") == "ipfs" {
		env.RegisterValidation("IPFS_API_URL", "required,url")
	}
	if env.GetString("REGISTRY_BACKEND") == "eth" {
		env.RegisterValidation("RPC_URL", "required,url")
		env.RegisterValidation("REGISTRY_ADDRESS", "eth_addr")
		env.RegisterValidation("REGISTRY_PRIVATE_KEY", "required")
	}
	if env.GetString("ENV") != "local" {
		env.RegisterValidation("SENTRY_DSN", "required")
	}
}

// InitSentry configures error reporting outside of local environments
func InitSentry() {
	if env.GetString("ENV") == "local" {
		logger.For(nil).Info("skipping sentry init")
		return
	}

	logger.For(nil).Info("initializing sentry...")

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              env.GetString("SENTRY_DSN"),
		Environment:      env.GetString("ENV"),
		TracesSampleRate: env.GetFloat64("SENTRY_TRACES_SAMPLE_RATE"),
		Release:          env.GetString("VERSION"),
		AttachStacktrace: true,
	})

	if err != nil {
		logger.For(nil).Fatalf("failed to start sentry: %s", err)
	}
}
