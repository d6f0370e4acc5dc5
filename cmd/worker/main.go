package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/messaging"
	"github.com/rmaluf/marketplace-recon/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	brokers := strings.Split(kafkaBrokers, ",")
	approvedConsumer := messaging.NewConsumer(brokers, domain.TopicPaymentApproved, "notification-worker")
	deliveredConsumer := messaging.NewConsumer(brokers, domain.TopicOrderDelivered, "notification-worker")
	defer func() { _ = approvedConsumer.Close() }()
	defer func() { _ = deliveredConsumer.Close() }()

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	handler := worker.NewNotificationHandler(emailServiceURL, httpClient, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification worker", "brokers", brokers)

	var wg sync.WaitGroup
	consume := func(c *messaging.Consumer, h messaging.Handler, topic string) {
		defer wg.Done()
		if err := c.Consume(ctx, h); err != nil {
			if ctx.Err() == context.Canceled {
				logger.Info("consumer stopped", "topic", topic)
				return
			}
			logger.Error("consumer error", "topic", topic, "error", err)
			cancel()
		}
	}

	wg.Add(2)
	go consume(approvedConsumer, handler.HandlePaymentApproved, domain.TopicPaymentApproved)
	go consume(deliveredConsumer, handler.HandleOrderDelivered, domain.TopicOrderDelivered)
	wg.Wait()
}
