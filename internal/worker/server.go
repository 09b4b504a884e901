package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"payments-service/internal/consumers"

	"github.com/hibiken/asynq"
)

type Worker struct {
	Processor *consumers.PaymentProcessor
}

func NewWorker(processor *consumers.PaymentProcessor) *Worker {
	return &Worker{
		Processor: processor,
	}
}

func (w *Worker) HandleInitiateMpesaSTK(ctx context.Context, t *asynq.Task) error {
	var p consumers.InitiatePaymentDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessMpesaSTK(ctx, p)
}

func (w *Worker) HandleInitiatePaystack(ctx context.Context, t *asynq.Task) error {
	var p consumers.InitiatePaymentDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessPaystack(ctx, p)
}

func (w *Worker) HandleInitiateB2C(ctx context.Context, t *asynq.Task) error {
	var p consumers.InitiatePayoutDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessB2C(ctx, p)
}

func (w *Worker) HandlePaymentVerify(ctx context.Context, t *asynq.Task) error {
	var p consumers.PaymentVerifyDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessVerify(ctx, p)
}

func (w *Worker) HandleAuditLog(ctx context.Context, t *asynq.Task) error {
	var p consumers.AuditLogDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	w.Processor.ProcessAuditLog(p)
	return nil
}

func StartWorker(redisOpt asynq.RedisClientOpt, processor *consumers.PaymentProcessor) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// Specify how many concurrent workers to use
			Concurrency: 10,
			// Optionally specify multiple queues with different priority.
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			// See the godoc for other configuration options
		},
	)

	worker := NewWorker(processor)
	mux := asynq.NewServeMux()

	mux.HandleFunc(TypeInitiateMpesaSTK, worker.HandleInitiateMpesaSTK)
	mux.HandleFunc(TypeInitiatePaystack, worker.HandleInitiatePaystack)
	mux.HandleFunc(TypeInitiateB2C, worker.HandleInitiateB2C)
	mux.HandleFunc(TypePaymentVerify, worker.HandlePaymentVerify)
	mux.HandleFunc(TypeAuditLog, worker.HandleAuditLog)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
