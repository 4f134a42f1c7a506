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

	"github.com/tracelake/sqlxtrace/example/internal/config"
	"github.com/tracelake/sqlxtrace/example/internal/database"
	"github.com/tracelake/sqlxtrace/example/internal/telemetry"

	"go.opentelemetry.io/otel"
)

func main() {
	ctx := context.Background()

	shutdownTracing, shutdownMetrics, err := telemetry.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to setup OTel: %v", err)
	}
	defer func() {
		shutdownTracing(ctx)
		shutdownMetrics(ctx)
	}()

	metricsServer := &http.Server{Addr: config.MetricsPort}
	go func() {
		log.Printf("Starting Prometheus metrics server on %s", config.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	db, err := database.New(ctx)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close(ctx)

	tracer := otel.Tracer("example-app")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := db.CreateTable(ctx); err != nil {
		log.Printf("Failed to create table: %v", err)
	}

	ticker := time.NewTicker(time.Duration(config.OperationInterval) * time.Second)
	defer ticker.Stop()

	fmt.Println("sqlxtrace example app started")
	fmt.Printf("Prometheus metrics: http://localhost%s/metrics\n", config.MetricsPort)
	fmt.Println("Press Ctrl+C to stop...")

	for {
		select {
		case <-ticker.C:
			opCtx, span := tracer.Start(ctx, "db-operations")

			if err := db.InsertUsers(opCtx); err != nil {
				log.Printf("Failed to insert users: %v", err)
			}
			if err := db.QueryUsers(opCtx); err != nil {
				log.Printf("Failed to query users: %v", err)
			}
			if _, err := db.GetUser(opCtx, "Alice"); err != nil {
				log.Printf("Failed to get user: %v", err)
			}
			if err := db.DescribeUsers(opCtx); err != nil {
				log.Printf("Failed to describe users: %v", err)
			}
			if err := db.InsertWithTransaction(opCtx); err != nil {
				log.Printf("Failed transaction: %v", err)
			}
			if err := db.PingSingleConnection(opCtx); err != nil {
				log.Printf("Failed connection ping: %v", err)
			}

			span.End()
			log.Println("database operations completed")

		case <-sigChan:
			fmt.Println("\nShutting down gracefully...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Metrics server shutdown error: %v", err)
			}
			return
		}
	}
}
