package main

import (
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"payments-service/internal/consumers"
	"payments-service/internal/database"
	"payments-service/internal/services"
	"payments-service/internal/worker"
)

func main() {
	// Load env
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found in ../../.env, trying .env")
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env file found, using system env")
		}
	}

	// Connect DB
	database.Connect()
	db := database.DB

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

	processor := consumers.NewPaymentProcessor(db, paymentService, payoutService, auditService)

	log.Println("Starting payment worker...")
	worker.StartWorker(asynq.RedisClientOpt{Addr: redisAddr}, processor)
}
