package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-commerce/internal/auth"
	"ms-commerce/internal/config"
	"ms-commerce/internal/database"
	"ms-commerce/internal/logger"
	"ms-commerce/internal/order"
	orderdb "ms-commerce/internal/order/db"
	"ms-commerce/internal/payment"
	"ms-commerce/internal/payment/gateway"
	handlers "ms-commerce/internal/payment/handler"
	"ms-commerce/internal/payment/receipt"
	redislock "ms-commerce/internal/payment/redis"
	"ms-commerce/internal/payment/storage"
)

// Standalone payment core without the OIDC layer, Kafka, or live streams.
// It trusts the X-User-ID header, so it only belongs behind the main API.

func main() {
	_ = godotenv.Load() // Loads .env file if present

	ctx := context.Background()
	cfg := config.Load()

	appLog := logger.NewLogger()
	defer appLog.Close()

	// --- PostgreSQL Setup ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN()))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatalf("❌ Failed to connect to Postgres: %v", err)
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	if err := database.EnsureSchema(ctx, bunDB, appLog); err != nil {
		log.Fatalf("❌ Failed to prepare schema: %v", err)
	}

	// --- Redis Setup ---
	log.Println("🔗 Connecting to Redis...")
	redisClient, err := auth.InitializeTokenCache(cfg.Redis.Addr, appLog)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}

	// --- Initialize Dependencies ---
	simulated := gateway.NewSimulated(appLog, cfg.Gateway.BankAsync)
	gateways := payment.Gateways{
		Cards:  simulated,
		Wallet: simulated,
		Bank:   simulated,
	}

	log.Println("📦 Initializing Payment Service...")
	processor := payment.NewProcessor(storage.NewBunStore(bunDB, appLog), gateways, nil, nil, appLog)
	orderService := order.NewOrderService(&orderdb.DB{Bun: bunDB}, appLog)
	locks := redislock.NewLocks(redisClient, cfg.Payment.LockTTL, appLog)
	receipts := receipt.NewGenerator(cfg.Payment.ReceiptSecret)

	handler := handlers.NewPaymentHandler(processor, orderService, locks, receipts, cfg.Payment, appLog)

	// --- Setup Router ---
	router := gin.Default()

	api := router.Group("/api/v1")
	api.POST("/payments", handler.ProcessPayment)
	api.POST("/payments/:transactionId/refund", handler.RefundPayment)
	api.GET("/payments/:transactionId", handler.GetTransaction)
	api.GET("/payments/order/:orderId", handler.GetPaymentHistory)

	router.POST("/webhooks/settlement", handler.SettlementWebhook)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:    ":8085",
		Handler: router,
	}

	go func() {
		log.Println("🚀 Payment Service running on :8085")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server error: %v", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("📦 Shutdown signal received. Cleaning up...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server exited gracefully")
}
