package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-commerce/internal/analytics"
	analytics_api "ms-commerce/internal/analytics/api"
	"ms-commerce/internal/auth"
	"ms-commerce/internal/config"
	"ms-commerce/internal/database/migrations"
	"ms-commerce/internal/kafka"
	"ms-commerce/internal/logger"
	"ms-commerce/internal/order"
	orderdb "ms-commerce/internal/order/db"
	"ms-commerce/internal/order/order_api"
	"ms-commerce/internal/payment"
	"ms-commerce/internal/payment/gateway"
	handlers "ms-commerce/internal/payment/handler"
	"ms-commerce/internal/payment/receipt"
	redislock "ms-commerce/internal/payment/redis"
	"ms-commerce/internal/payment/storage"
	"ms-commerce/internal/sse"
	"ms-commerce/internal/user"
	userdb "ms-commerce/internal/user/db"
	"ms-commerce/internal/user/user_api"
	"ms-commerce/internal/utils"
)

// subscribeLockExpiry watches Redis key expiry notifications for payment
// locks that aged out before their holder released them. An expired lock
// means a payment attempt outlived its TTL; the lock is gone either way,
// this only makes the event visible.
func subscribeLockExpiry(rdb *redis.Client, log *logger.Logger) {
	ctx := context.Background()

	val, err := rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else {
		log.Info("REDIS", fmt.Sprintf("Current keyspace notifications setting: %v", val))
		if len(val) < 2 || !strings.Contains(val[1].(string), "x") || !strings.Contains(val[1].(string), "E") {
			log.Warn("REDIS", "Keyspace notifications not properly configured for expiry events!")
		}
	}

	pubsub := rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	log.Info("REDIS", fmt.Sprintf("Subscribed to Redis keyevent expired notifications (DB %d)", rdb.Options().DB))

	go func() {
		for msg := range pubsub.Channel() {
			if !strings.HasPrefix(msg.Payload, "payment_lock:") {
				continue
			}
			orderID := strings.TrimPrefix(msg.Payload, "payment_lock:")
			log.Warn("PAYMENT", fmt.Sprintf("Payment lock for order %s expired before release; the attempt may have outlived its TTL", orderID))
		}
	}()
}

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	dsn := cfg.Database.DSN()

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	_, err = redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result()
	if err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("payment gateway is up", nil))
}

func adminTopicsHandler(brokers []string, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		topics, err := kafka.ListTopics(brokers)
		if err != nil {
			log.Error("KAFKA", fmt.Sprintf("Failed to list topics: %v", err))
			utils.WriteError(w, http.StatusInternalServerError, "Failed to list topics", err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("topics", topics))
	}
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Payment Gateway initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	log.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, log, migrations.Options{
			Dir: cfg.Database.MigrationsPath,
		})
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	// --- Kafka Setup ---
	var publisher payment.EventPublisher
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log)
		defer producer.Close()
		publisher = kafka.NewPaymentPublisher(producer, cfg.Kafka.Topics, log)

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentEvents, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Warn("KAFKA", "Kafka disabled, payment events stay in-process only")
	}

	// --- Gateways ---
	simulated := gateway.NewSimulated(log, cfg.Gateway.BankAsync)
	gateways := payment.Gateways{
		Cards:  simulated,
		Wallet: simulated,
		Bank:   simulated,
	}
	if cfg.Gateway.Mode == "stripe" {
		stripeGW, err := gateway.NewStripeGateway(cfg.Gateway.StripeSecretKey, log)
		if err != nil {
			log.Fatal("STRIPE", fmt.Sprintf("Stripe gateway init failed: %v", err))
		}
		gateways.Cards = stripeGW
		log.Info("STRIPE", "Card payments routed through Stripe")
	}

	// --- Services ---
	emitter := sse.NewPaymentEventEmitter()
	processor := payment.NewProcessor(storage.NewBunStore(bunDB, log), gateways, publisher, emitter, log)
	orderService := order.NewOrderService(&orderdb.DB{Bun: bunDB}, log)
	userService := user.NewUserService(&userdb.DB{Bun: bunDB}, log)
	analyticsService := analytics.NewService(bunDB)

	if consumer != nil {
		go consumer.Start(ctx, orderService.HandlePaymentEvent)
		log.Info("KAFKA", "Order status consumer started")
	}

	locks := redislock.NewLocks(redisClient, cfg.Payment.LockTTL, log)
	receipts := receipt.NewGenerator(cfg.Payment.ReceiptSecret)

	paymentHandler := handlers.NewPaymentHandler(processor, orderService, locks, receipts, cfg.Payment, log)
	sseHandler := handlers.NewSSEHandler(emitter, orderService, log)
	orderHandler := order_api.NewHandler(orderService, log)
	userHandler := user_api.NewHandler(userService, log)
	analyticsHandler := analytics_api.NewHandler(analyticsService, log)

	tokenCache := auth.NewVerifiedTokenCache(redisClient)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/healthz", healthHandler)
	r.Post("/webhooks/settlement", paymentHandler.SettlementWebhookChi)
	log.Info("ROUTER", "Public health and settlement webhook endpoints registered")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth, tokenCache, log))
		log.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Route("/orders", func(r chi.Router) {
				r.Post("/", orderHandler.PlaceOrder)
				r.Get("/", orderHandler.ListMyOrders)
				r.Get("/{orderId}", orderHandler.GetOrder)
				r.Put("/{orderId}", orderHandler.UpdateOrder)
				r.Delete("/{orderId}", orderHandler.DeleteOrder)
			})
			log.Info("ROUTER", "Order routes registered under /api/orders")

			r.Route("/payments", func(r chi.Router) {
				r.Post("/", paymentHandler.ProcessPaymentChi)
				r.Post("/refunds", paymentHandler.BatchRefundChi)
				r.Post("/receipts/verify", paymentHandler.VerifyReceiptChi)
				r.Post("/{transactionId}/refund", paymentHandler.RefundPaymentChi)
				r.Get("/{transactionId}", paymentHandler.GetTransactionChi)
				r.Get("/{transactionId}/receipt", paymentHandler.GetReceiptChi)
				r.Get("/{transactionId}/receipt/qr", paymentHandler.GetReceiptQRChi)
				r.Get("/order/{orderId}", paymentHandler.GetPaymentHistoryChi)

				r.Get("/stream/orders/{orderID}", sseHandler.HandleOrderPayments)
				r.Get("/stream/users/{userID}", sseHandler.HandleUserPayments)
			})
			log.Info("ROUTER", "Payment routes registered under /api/payments")

			r.Route("/users", func(r chi.Router) {
				r.Post("/", userHandler.RegisterUser)
				r.Get("/", userHandler.ListUsers)
				r.Get("/me", userHandler.GetMyProfile)
				r.Get("/{userId}", userHandler.GetUser)
				r.Put("/{userId}", userHandler.UpdateUser)
				r.Delete("/{userId}", userHandler.DeleteUser)
			})
			log.Info("ROUTER", "User routes registered under /api/users")

			if cfg.Kafka.Enabled {
				r.Get("/admin/topics", adminTopicsHandler(cfg.Kafka.Brokers, log))
				log.Info("ROUTER", "Admin topic listing registered under /api/admin/topics")
			}
		})

		analyticsHandler.RegisterRoutes(r)
		log.Info("ROUTER", "Analytics routes registered under /api/analytics")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("REDIS", "Starting payment lock expiry subscription")
	subscribeLockExpiry(redisClient, log)

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Payment Gateway running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Payment Gateway shutdown complete")
	}
}
