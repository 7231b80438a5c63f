package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/averix/go-order-api/internal/config"
	"github.com/averix/go-order-api/internal/gateway"
	"github.com/averix/go-order-api/internal/handler"
	"github.com/averix/go-order-api/internal/middleware"
	"github.com/averix/go-order-api/internal/repository"
	"github.com/averix/go-order-api/internal/service"
	"github.com/averix/go-order-api/internal/worker"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		log.Error("parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.DB.MaxConns

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis")

	// RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Error("connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	amqpCh, err := amqpConn.Channel()
	if err != nil {
		log.Error("open RabbitMQ channel", "error", err)
		os.Exit(1)
	}
	defer amqpCh.Close()

	if err := worker.SetupRabbitMQ(amqpCh, cfg.RabbitMQ.Prefetch); err != nil {
		log.Error("setup RabbitMQ", "error", err)
		os.Exit(1)
	}
	log.Info("connected to RabbitMQ")

	// Repositories
	userRepo := repository.NewUserRepository(dbPool)
	productRepo := repository.NewProductRepository(dbPool)
	cartRepo := repository.NewCartRepository(dbPool)
	orderRepo := repository.NewOrderRepository(dbPool)
	reviewRepo := repository.NewReviewRepository(dbPool)
	auditRepo := repository.NewAuditRepository(dbPool)

	// External adapters
	paymentGW := gateway.NewPaymentGateway(cfg.Payment)
	shippingGW := gateway.NewShippingGateway(cfg.Shipping)

	// Services
	authSvc := service.NewAuthService(userRepo, auditRepo, cfg.JWT.Secret, cfg.JWT.Expiration, log)
	cartSvc := service.NewCartService(cartRepo, productRepo)
	shippingSvc := service.NewShippingService(shippingGW, redisClient, cfg.Shipping)
	orderSvc := service.NewOrderService(orderRepo, cartRepo, productRepo, userRepo, auditRepo,
		paymentGW, shippingSvc, amqpCh, cfg.Payment.FlatFee, log)
	reviewSvc := service.NewReviewService(reviewRepo, orderRepo, auditRepo)

	// Handlers
	authH := handler.NewAuthHandler(authSvc)
	cartH := handler.NewCartHandler(cartSvc)
	orderH := handler.NewOrderHandler(orderSvc)
	paymentH := handler.NewPaymentHandler(orderSvc, paymentGW)
	shippingH := handler.NewShippingHandler(shippingSvc)
	reviewH := handler.NewReviewHandler(reviewSvc)
	healthH := handler.NewHealthHandler(dbPool, redisClient, amqpConn)

	// Worker
	invoiceWorker := worker.NewInvoiceWorker(amqpCh, orderSvc, redisClient, log)

	// Router
	router := gin.Default()
	router.GET("/healthz", healthH.Healthz)
	router.GET("/readyz", healthH.Readyz)

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", authH.Register)
		auth.POST("/login", authH.Login)

		// Gateway notifications authenticate via payload signature.
		v1.POST("/payments/callback", paymentH.Callback)

		v1.GET("/shipping/rates", shippingH.QuoteRate)
		v1.GET("/products/:id/reviews", reviewH.ListByProduct)

		cart := v1.Group("/cart", middleware.AuthMiddleware(cfg.JWT.Secret))
		cart.GET("", cartH.GetCart)
		cart.POST("/items", cartH.AddItem)
		cart.PUT("/items/:id", cartH.UpdateItem)
		cart.DELETE("/items/:id", cartH.DeleteItem)

		orders := v1.Group("/orders", middleware.AuthMiddleware(cfg.JWT.Secret))
		orders.POST("", orderH.Checkout)
		orders.GET("", orderH.ListOrders)
		orders.GET("/:id", orderH.GetOrder)
		orders.POST("/:id/payment", orderH.RequestPayment)
		orders.POST("/:id/cancel", orderH.RequestCancellation)

		reviews := v1.Group("/reviews", middleware.AuthMiddleware(cfg.JWT.Secret))
		reviews.POST("", reviewH.Create)

		admin := v1.Group("/admin", middleware.AuthMiddleware(cfg.JWT.Secret), middleware.AdminOnly())
		admin.POST("/orders/:id/ship", orderH.MarkShipped)
		admin.POST("/orders/:id/complete", orderH.MarkCompleted)
		admin.POST("/orders/:id/cancellation/approve", orderH.ApproveCancellation)
		admin.POST("/orders/:id/cancellation/reject", orderH.RejectCancellation)
		admin.PATCH("/reviews/:id/visibility", reviewH.SetVisibility)
	}

	if err := invoiceWorker.Start(ctx); err != nil {
		log.Error("start invoice worker", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	invoiceWorker.Stop()
	time.Sleep(500 * time.Millisecond)
	cancel()
	log.Info("server stopped")
}
