// main.go
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"go-event-payments/config"
	"go-event-payments/controllers"
	"go-event-payments/gateway"
	"go-event-payments/idempotency"
	"go-event-payments/mail"
	"go-event-payments/payments"
	"go-event-payments/records"
	"go-event-payments/routes"
	"go-event-payments/store"
	"go-event-payments/utils"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Proceeding with environment variables.")
	}

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	// Set the JWT secret key
	utils.JwtKey = []byte(cfg.JWTSecret)

	// Connect to MongoDB
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal("mongodb connection failed", zap.Error(err))
	}
	defer func() {
		if err := client.Disconnect(ctx); err != nil {
			logger.Error("mongodb disconnect failed", zap.Error(err))
		}
	}()
	if err := client.Ping(ctx, nil); err != nil {
		logger.Fatal("mongodb ping failed", zap.Error(err))
	}
	st := store.NewMongo(client, cfg.Database)

	cache, err := openCache(ctx, cfg, client)
	if err != nil {
		logger.Fatal("idempotency cache setup failed", zap.Error(err))
	}
	defer cache.Close()

	var sender mail.Sender
	if cfg.EmailProvider == "sendgrid" {
		sender = mail.NewSendgridSender(cfg.SendgridAPIKey, cfg.EmailSender, cfg.EmailSenderName, logger)
	} else {
		sender = mail.NewPostmarkSender(cfg.PostmarkToken, cfg.EmailSender, logger)
	}

	gatewayClient := gateway.NewClient(cfg.SimplefiAPIURL, cfg.BackendURL, logger)
	recordsClient := records.NewClient(cfg.RecordsURL, cfg.RecordsToken, logger)
	service := payments.NewService(st, gatewayClient, sender, cfg.SimplefiAPIKey, cfg.FrontendURL, logger)

	// Initialize controllers
	productController := controllers.NewProductController(st, logger)
	paymentController := controllers.NewPaymentController(service, logger)
	webhookController := controllers.NewWebhookController(service, st, cache, recordsClient, cfg.WebhookSecret, logger)

	// Set up the router
	router := mux.NewRouter()
	routes.RegisterRoutes(router, productController, paymentController, webhookController)

	logger.Info("server listening", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// openCache selects the idempotency backend: bolt for a single replica,
// mongo's unique index when several replicas share the work.
func openCache(ctx context.Context, cfg *config.Config, client *mongo.Client) (idempotency.Cache, error) {
	if cfg.IdempotencyBackend == "mongo" {
		return idempotency.NewMongoCache(ctx, client, cfg.Database)
	}
	return idempotency.OpenBolt(cfg.IdempotencyDBPath)
}
