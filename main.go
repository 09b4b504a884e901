package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"payments-service/internal/database"
	"payments-service/internal/handlers"
	"payments-service/internal/middleware"
	"payments-service/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found in current directory, trying parent")
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	// Initialize Database
	database.Connect()
	database.Migrate()
	db := database.DB

	// Redis/Asynq Client
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	// Init Services
	ledgerService := services.NewLedgerService(db)
	auditService := services.NewAuditService(db, asynqClient)
	mpesaService := services.NewMpesaService(rdb)
	paystackService := services.NewPaystackService()
	reconcilerService := services.NewReconcilerService(db, ledgerService, auditService)
	paymentService := services.NewPaymentService(db, asynqClient, mpesaService, paystackService, reconcilerService, auditService)
	payoutService := services.NewPayoutService(db, asynqClient, mpesaService, auditService)
	verificationService := services.NewVerificationService(db, auditService)

	// Handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	payoutHandler := handlers.NewPayoutHandler(payoutService)
	callbackHandler := handlers.NewCallbackHandler(reconcilerService, paystackService)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	verificationHandler := handlers.NewVerificationHandler(verificationService)

	// Register msisdn validation for request binding
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
			_, err := services.SanitizeMpesaNumber(fl.Field().String())
			return err == nil
		})
	}

	// Initialize Gin
	r := gin.Default()

	// Ping endpoint
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Welcome To Payments service",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks (no auth; providers cannot send bearer tokens)
	r.POST("/api/payments/mpesa/callback", callbackHandler.MpesaSTK)
	r.POST("/api/payments/paystack/webhook", callbackHandler.PaystackWebhook)
	r.POST("/api/payouts/b2c/result", callbackHandler.MpesaB2CResult)
	r.POST("/api/payouts/b2c/timeout", callbackHandler.MpesaB2CTimeout)

	// Public document verification
	r.POST("/api/verify", verificationHandler.Verify)

	// Portal API
	api := r.Group("/api", middleware.Authenticated())
	{
		api.POST("/payments", paymentHandler.Initiate)
		api.GET("/payments", paymentHandler.List)
		api.GET("/payments/summary", paymentHandler.Summary)
		api.GET("/payments/:reference", paymentHandler.GetByReference)
		api.GET("/payments/:reference/verify", paymentHandler.Verify)

		admin := api.Group("", middleware.AdminRequired())
		{
			admin.POST("/payments/:reference/cancel", paymentHandler.Cancel)
			admin.POST("/payouts", payoutHandler.Initiate)
			admin.GET("/payouts", payoutHandler.List)
			admin.GET("/payouts/summary", payoutHandler.Summary)
			admin.GET("/payouts/:reference", payoutHandler.GetByReference)
			admin.POST("/payouts/:reference/cancel", payoutHandler.Cancel)
			admin.GET("/ledger", ledgerHandler.List)
		}
	}

	// Start Cron Schedulers
	paymentService.StartScheduler()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("HTTP Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
